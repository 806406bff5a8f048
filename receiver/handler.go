package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xKeNcHii/shopee-webhook-receiver/common/metrics"
	"github.com/xKeNcHii/shopee-webhook-receiver/events"
	"github.com/xKeNcHii/shopee-webhook-receiver/forwarder"
	"github.com/xKeNcHii/shopee-webhook-receiver/notifier"
	"github.com/xKeNcHii/shopee-webhook-receiver/queue"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

const (
	maxWebhookBodySize = 1 << 20
	processTimeout     = 2 * time.Minute
)

// webhookHandler owns the ingress endpoint. The platform retries and
// eventually disables webhooks that return non-200 responses, so the
// endpoint acknowledges everything immediately and does the real work
// in the background.
type webhookHandler struct {
	logger       *slog.Logger
	verifier     *shopee.Verifier
	assembler    *shopee.Assembler
	producer     *queue.Producer
	forward      *forwarder.Forwarder
	notify       *notifier.Queue
	audit        *events.Log
	queueMetrics *metrics.QueueMetrics
}

func (h *webhookHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/shopee", h.handleWebhook)
	mux.HandleFunc("GET /", h.handleRoot)
}

func (h *webhookHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "shopee-webhook-receiver",
		"status":  "running",
		"endpoints": []string{
			"POST /webhook/shopee",
			"GET /health",
			"GET /metrics",
			"GET /api/dashboard/events",
			"GET /api/dashboard/stats",
			"GET /api/dashboard/queue/stats",
			"GET /api/dashboard/config",
		},
	})
}

func (h *webhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.Error("failed to read webhook body", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	authorization := r.Header.Get("Authorization")
	if !h.verifier.Verify(body, authorization) {
		h.logger.Warn("webhook signature rejected",
			slog.Int("body_size", len(body)),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	var event shopee.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("undecodable webhook payload", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	go h.processEvent(body, &event, authorization)

	w.WriteHeader(http.StatusOK)
}

// processEvent runs the full pipeline for a verified event: notify,
// enqueue (or deliver directly when the queue is unavailable), and
// append the audit entry recording what happened.
func (h *webhookHandler) processEvent(body []byte, event *shopee.WebhookEvent, authorization string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	log := h.logger.With(
		slog.Int("event_code", event.Code),
		slog.Int64("shop_id", event.ShopID),
	)

	status := map[string]any{}
	h.notifyEvent(ctx, log, event, status)

	delivered := false
	if h.producer != nil {
		res := h.producer.Publish(ctx, body)
		if res.Success {
			h.queueMetrics.Enqueued.Inc()
			status["queue"] = map[string]any{"queued": true, "queue_id": res.QueueID}
			delivered = true
		} else {
			h.queueMetrics.EnqueueFailed.Inc()
			status["queue"] = map[string]any{"queued": false, "error": res.Err.Error()}
		}
	}

	if !delivered {
		status["forwarder"] = h.forwardEvent(ctx, log, body)
	}

	entry := events.Entry{
		EventCode: event.Code,
		ShopID:    event.ShopID,
		EventData: event.Data,
		Metadata: events.EntryMetadata{
			Authorization: events.TruncateAuthorization(authorization),
			BodySize:      len(body),
		},
		ProcessingStatus: status,
	}
	if err := h.audit.Append(entry); err != nil {
		log.Error("failed to append audit entry", slog.Any("error", err))
	}
}

// notifyEvent formats and queues the Telegram notification. Order
// events get the assembled order attached when the upstream lookup
// succeeds; lookup failures degrade to the bare event message.
func (h *webhookHandler) notifyEvent(ctx context.Context, log *slog.Logger, event *shopee.WebhookEvent, status map[string]any) {
	if h.notify == nil {
		return
	}

	var order *shopee.FormattedOrder
	if shopee.OrderEventCodes[event.Code] {
		data := event.OrderData()
		if data.OrderSN != "" && !shopee.IgnoreStatuses[data.Status] {
			assembled, err := h.assembler.Assemble(ctx, data.OrderSN)
			if err != nil {
				log.Warn("order lookup for notification failed",
					slog.String("order_sn", data.OrderSN),
					slog.Any("error", err),
				)
			} else {
				order = &assembled.Formatted
			}
		}
	}

	h.notify.Enqueue(event.Code, notifier.FormatEvent(event, order))
	status["telegram"] = "queued"
}

func (h *webhookHandler) forwardEvent(ctx context.Context, log *slog.Logger, body []byte) map[string]any {
	if !h.forward.Enabled() {
		log.Warn("webhook not delivered, queue unavailable and no forward url configured")
		return map[string]any{"forwarded": false, "error": "forwarding not configured"}
	}

	h.queueMetrics.FallbackUsed.Inc()
	res := h.forward.Forward(ctx, body)
	out := map[string]any{"forwarded": res.Success, "attempts": res.Attempts}
	if res.LastError != "" {
		out["error"] = res.LastError
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}
