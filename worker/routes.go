package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xKeNcHii/shopee-webhook-receiver/queue"
	"github.com/xKeNcHii/shopee-webhook-receiver/reconcile"
)

func (a *App) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /status", a.handleStatus)

	mux.HandleFunc("GET /sync/status", a.handleSyncStatus)
	mux.HandleFunc("POST /sync/manual", a.handleManualSync)

	mux.HandleFunc("GET /dlq/stats", a.handleDLQStats)
	mux.HandleFunc("GET /dlq/messages", a.handleDLQMessages)
	mux.HandleFunc("POST /dlq/replay", a.handleDLQReplay)
	mux.HandleFunc("DELETE /dlq", a.handleDLQClear)
	mux.HandleFunc("DELETE /dlq/stats", a.handleStatsReset)

	mux.HandleFunc("POST /webhook/process", a.handleProcessDirect)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]any{
		"consumers": a.pool.Running(),
		"redis":     true,
		"sink":      true,
	}

	if !a.pool.Running() {
		status = "degraded"
	}
	if err := a.redisClient.Ping(r.Context()).Err(); err != nil {
		status = "degraded"
		checks["redis"] = false
	}
	if err := a.store.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		checks["sink"] = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": a.config.ServiceName,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"running": a.pool.Running(),
		"workers": a.pool.Stats(),
	}

	stats, err := a.admin.QueueStats(r.Context())
	if err != nil {
		a.logger.Error("failed to read queue stats", slog.Any("error", err))
		payload["error"] = "queue stats unavailable"
	} else {
		payload["queue"] = stats
	}

	writeJSON(w, http.StatusOK, payload)
}

func (a *App) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.syncService.Status(r.Context())
	if err != nil {
		a.logger.Error("failed to read sync status", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "sync status unavailable"})
		return
	}

	scheduled, daily := a.syncScheduler.NextRuns()
	if !scheduled.IsZero() {
		status.NextScheduledSyncAt = scheduled.UTC().Format(time.RFC3339)
	}
	if !daily.IsZero() {
		status.NextDailySyncAt = daily.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, status)
}

// handleManualSync kicks off an operator-requested sweep. The range is
// clamped server side and the sync runs in the background; callers
// poll /sync/status for the outcome.
func (a *App) handleManualSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days      int    `json:"days"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if r.Body != nil {
		// An empty body means the default window.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	now := time.Now()
	from := now.AddDate(0, 0, -reconcile.DefaultHistoricalDays)
	to := now

	if req.Days > 0 {
		from = now.AddDate(0, 0, -req.Days)
	} else if req.StartDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "start_date must be RFC3339"})
			return
		}
		from = parsed
		if req.EndDate != "" {
			parsed, err := time.Parse(time.RFC3339, req.EndDate)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "end_date must be RFC3339"})
				return
			}
			to = parsed
		}
	}

	from, to = reconcile.ClampManualRange(from, to, now)

	if status, err := a.syncService.Status(r.Context()); err == nil && status.SyncInProgress {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "sync already in progress"})
		return
	}

	// The request context dies with the response, the sync runs on its
	// own context.
	go func() {
		result := a.syncService.SyncRange(context.Background(), reconcile.SyncManual, from, to)
		a.logger.Info("manual sync finished",
			slog.Bool("success", result.Success),
			slog.Int("orders_processed", result.OrdersProcessed),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
		"from":    from.UTC().Format(time.RFC3339),
		"to":      to.UTC().Format(time.RFC3339),
	})
}

func (a *App) handleDLQStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.admin.DLQStats(r.Context())
	if err != nil {
		a.logger.Error("failed to read dlq stats", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "dlq stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleDLQMessages(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	msgs, err := a.admin.ListDLQ(r.Context(), offset, limit)
	if err != nil {
		a.logger.Error("failed to list dlq", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "dlq unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"offset":   offset,
		"count":    len(msgs),
		"messages": msgs,
	})
}

func (a *App) handleDLQReplay(w http.ResponseWriter, r *http.Request) {
	replayed, err := a.admin.ReplayAll(r.Context())
	if err != nil {
		a.logger.Error("dlq replay failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    "replay failed",
			"replayed": replayed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replayed": replayed})
}

func (a *App) handleDLQClear(w http.ResponseWriter, r *http.Request) {
	removed, err := a.admin.ClearDLQ(r.Context())
	if err != nil {
		a.logger.Error("dlq clear failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "clear failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *App) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.ResetStats(r.Context()); err != nil {
		a.logger.Error("stats reset failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "reset failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// handleProcessDirect runs the processor synchronously on a raw
// payload, bypassing the queue. Used to reprocess a specific event
// without replaying the whole dead letter queue.
func (a *App) handleProcessDirect(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	msg := queue.NewMessage(payload, 0)
	if err := a.processor.Process(r.Context(), &msg); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"processed": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}
