package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xKeNcHii/shopee-webhook-receiver/queue"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// orderAssembler is the slice of the upstream client the processor
// needs, kept narrow for tests.
type orderAssembler interface {
	Assemble(ctx context.Context, orderSN string) (*shopee.AssembledOrder, error)
}

type orderItemSink interface {
	UpsertItems(ctx context.Context, items []shopee.OrderItem) error
}

// webhookProcessor turns queued webhook events into order item rows.
// Returned errors trigger the queue's retry and dead-letter handling,
// so only failures a retry can fix are returned as errors; everything
// else is acknowledged by returning nil.
type webhookProcessor struct {
	assembler orderAssembler
	store     orderItemSink
	logger    *slog.Logger
}

func newWebhookProcessor(assembler orderAssembler, store orderItemSink, logger *slog.Logger) *webhookProcessor {
	return &webhookProcessor{assembler: assembler, store: store, logger: logger}
}

func (p *webhookProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var event shopee.WebhookEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// A payload that never parsed will not parse on retry either.
		p.logger.Warn("dropping undecodable payload",
			slog.String("queue_id", msg.ID),
			slog.Any("error", err),
		)
		return nil
	}

	log := p.logger.With(
		slog.String("queue_id", msg.ID),
		slog.Int("event_code", event.Code),
	)

	if !shopee.OrderEventCodes[event.Code] {
		log.Info("skipping non-order event")
		return nil
	}

	data := event.OrderData()
	if data.OrderSN == "" {
		return fmt.Errorf("order event %d missing ordersn", event.Code)
	}
	if shopee.IgnoreStatuses[data.Status] {
		log.Info("skipping ignored order status",
			slog.String("order_sn", data.OrderSN),
			slog.String("status", data.Status),
		)
		return nil
	}

	assembled, err := p.assembler.Assemble(ctx, data.OrderSN)
	if err != nil {
		return fmt.Errorf("failed to assemble order %s: %w", data.OrderSN, err)
	}

	// The webhook status can be stale; what the API reports now decides
	// whether the order is persisted.
	if shopee.IgnoreStatuses[assembled.Detail.OrderStatus] {
		log.Info("skipping order, current status ignored",
			slog.String("order_sn", data.OrderSN),
			slog.String("status", assembled.Detail.OrderStatus),
		)
		return nil
	}

	if len(assembled.Items) == 0 {
		log.Warn("order has no items to persist", slog.String("order_sn", data.OrderSN))
		return nil
	}

	if err := p.store.UpsertItems(ctx, assembled.Items); err != nil {
		return fmt.Errorf("failed to persist order %s: %w", data.OrderSN, err)
	}

	log.Info("order persisted",
		slog.String("order_sn", data.OrderSN),
		slog.Int("items", len(assembled.Items)),
	)
	return nil
}
