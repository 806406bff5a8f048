package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const dlqSampleSize = 5

// Admin provides dead letter queue inspection and replay operations
// for the worker's admin endpoints.
type Admin struct {
	client *redis.Client
	logger *slog.Logger
}

// DLQStats summarizes the dead letter queue with a small sample of its
// newest entries.
type DLQStats struct {
	Length  int64     `json:"length"`
	Samples []Message `json:"samples"`
}

func NewAdmin(client *redis.Client, logger *slog.Logger) *Admin {
	return &Admin{client: client, logger: logger}
}

// DLQStats returns the queue length plus up to 5 sample messages from
// the head of the queue.
func (a *Admin) DLQStats(ctx context.Context) (DLQStats, error) {
	length, err := a.client.LLen(ctx, DeadLetterKey).Result()
	if err != nil {
		return DLQStats{}, fmt.Errorf("failed to read dead letter queue length: %w", err)
	}

	samples, err := a.listRange(ctx, 0, dlqSampleSize)
	if err != nil {
		return DLQStats{}, err
	}

	return DLQStats{Length: length, Samples: samples}, nil
}

// ListDLQ returns a page of dead letter messages starting at offset.
func (a *Admin) ListDLQ(ctx context.Context, offset, limit int64) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return a.listRange(ctx, offset, limit)
}

func (a *Admin) listRange(ctx context.Context, offset, limit int64) ([]Message, error) {
	raw, err := a.client.LRange(ctx, DeadLetterKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter queue: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			a.logger.Warn("skipping malformed dead letter entry", slog.Any("error", err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ReplayAll moves every dead letter message back onto the main queue
// with reset delivery metadata so workers pick them up as fresh
// messages. Returns the number of messages replayed.
func (a *Admin) ReplayAll(ctx context.Context) (int, error) {
	replayed := 0
	for {
		entry, err := a.client.RPop(ctx, DeadLetterKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return replayed, fmt.Errorf("failed to pop dead letter message: %w", err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			a.logger.Warn("dropping malformed dead letter entry on replay", slog.Any("error", err))
			continue
		}

		msg.Metadata.RetryCount = 0
		msg.Metadata.EnqueuedAt = float64(time.Now().UnixNano()) / 1e9
		msg.Metadata.MovedToDLQAt = 0
		msg.Metadata.WorkerID = ""

		encoded, err := json.Marshal(msg)
		if err != nil {
			a.logger.Warn("dropping unencodable dead letter entry on replay", slog.Any("error", err))
			continue
		}
		if err := a.client.LPush(ctx, MainQueueKey, encoded).Err(); err != nil {
			return replayed, fmt.Errorf("failed to requeue message %s: %w", msg.ID, err)
		}
		replayed++
	}

	a.logger.Info("dead letter queue replayed", slog.Int("count", replayed))
	return replayed, nil
}

// ClearDLQ deletes all dead letter messages and returns how many were
// removed.
func (a *Admin) ClearDLQ(ctx context.Context) (int64, error) {
	length, err := a.client.LLen(ctx, DeadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dead letter queue length: %w", err)
	}
	if err := a.client.Del(ctx, DeadLetterKey).Err(); err != nil {
		return 0, fmt.Errorf("failed to clear dead letter queue: %w", err)
	}
	a.logger.Info("dead letter queue cleared", slog.Int64("removed", length))
	return length, nil
}

// QueueStats reads queue depths and lifetime counters without a
// breaker, for consumers that never enqueue.
func (a *Admin) QueueStats(ctx context.Context) (map[string]any, error) {
	mainLen, err := a.client.LLen(ctx, MainQueueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read main queue length: %w", err)
	}
	dlqLen, err := a.client.LLen(ctx, DeadLetterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter queue length: %w", err)
	}
	counters, err := a.client.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue counters: %w", err)
	}

	return map[string]any{
		"main_queue_length": mainLen,
		"dlq_length":        dlqLen,
		"counters":          counters,
	}, nil
}

// ResetStats deletes the lifetime queue counters.
func (a *Admin) ResetStats(ctx context.Context) error {
	if err := a.client.Del(ctx, StatsKey).Err(); err != nil {
		return fmt.Errorf("failed to reset queue stats: %w", err)
	}
	return nil
}
