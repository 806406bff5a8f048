package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBreakerOpen is returned when the circuit breaker rejects an
// enqueue attempt without touching Redis.
var ErrBreakerOpen = errors.New("circuit breaker open")

// PublishResult reports the outcome of a single enqueue attempt.
// FallbackUsed signals the caller to deliver the event directly
// instead of through the queue.
type PublishResult struct {
	Success      bool
	QueueID      string
	FallbackUsed bool
	Latency      time.Duration
	Err          error
}

// QueueStats aggregates queue depths, lifetime counters and the
// breaker state for telemetry endpoints.
type QueueStats struct {
	MainQueueLength int64             `json:"main_queue_length"`
	DLQLength       int64             `json:"dlq_length"`
	Counters        map[string]string `json:"counters"`
	Breaker         BreakerSnapshot   `json:"circuit_breaker"`
}

// Producer pushes webhook payloads onto the main queue. Every Redis
// interaction is reported to the breaker so that a dead Redis flips
// the receiver into direct-delivery mode instead of stalling ingress.
type Producer struct {
	client     *redis.Client
	breaker    *Breaker
	maxRetries int
	logger     *slog.Logger
}

func NewProducer(client *redis.Client, breaker *Breaker, maxRetries int, logger *slog.Logger) *Producer {
	return &Producer{
		client:     client,
		breaker:    breaker,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Publish wraps the payload in an envelope and pushes it onto the main
// queue. A rejected or failed push returns FallbackUsed=true so the
// caller can forward the event over HTTP instead.
func (p *Producer) Publish(ctx context.Context, payload []byte) PublishResult {
	if !p.breaker.Allow() {
		p.logger.Warn("enqueue rejected, circuit breaker open")
		return PublishResult{FallbackUsed: true, Err: ErrBreakerOpen}
	}

	msg := NewMessage(payload, p.maxRetries)
	encoded, err := json.Marshal(msg)
	if err != nil {
		return PublishResult{Err: fmt.Errorf("failed to encode queue message: %w", err)}
	}

	start := time.Now()
	if err := p.client.LPush(ctx, MainQueueKey, encoded).Err(); err != nil {
		p.breaker.RecordFailure()
		p.logger.Error("failed to enqueue webhook",
			slog.String("queue_id", msg.ID),
			slog.Any("error", err),
		)
		return PublishResult{
			FallbackUsed: true,
			Err:          fmt.Errorf("failed to enqueue webhook: %w", err),
		}
	}
	latency := time.Since(start)

	p.breaker.RecordSuccess()

	// Counter update is best effort, the message is already queued.
	if err := p.client.HIncrBy(ctx, StatsKey, statTotalEnqueued, 1).Err(); err != nil {
		p.logger.Warn("failed to update queue stats", slog.Any("error", err))
	}

	p.logger.Info("webhook enqueued",
		slog.String("queue_id", msg.ID),
		slog.Int64("latency_ms", latency.Milliseconds()),
	)

	return PublishResult{
		Success: true,
		QueueID: msg.ID,
		Latency: latency,
	}
}

// Stats reads queue depths and lifetime counters. The breaker snapshot
// is included even when Redis itself is unreachable.
func (p *Producer) Stats(ctx context.Context) (QueueStats, error) {
	stats := QueueStats{Breaker: p.breaker.Snapshot()}

	mainLen, err := p.client.LLen(ctx, MainQueueKey).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read main queue length: %w", err)
	}
	dlqLen, err := p.client.LLen(ctx, DeadLetterKey).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read dead letter queue length: %w", err)
	}
	counters, err := p.client.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read queue counters: %w", err)
	}

	stats.MainQueueLength = mainLen
	stats.DLQLength = dlqLen
	stats.Counters = counters
	return stats, nil
}
