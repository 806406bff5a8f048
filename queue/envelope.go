package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Redis keys shared by the receiver producer and the worker consumers.
const (
	MainQueueKey  = "shopee:webhooks:main"
	DeadLetterKey = "shopee:webhooks:dead_letter"
	StatsKey      = "shopee:webhooks:stats"
)

// Stats hash fields.
const (
	statTotalEnqueued  = "total_enqueued"
	statTotalProcessed = "total_processed"
	statTotalFailed    = "total_failed"
)

// Metadata travels with every queued message and records its delivery
// history. Timestamps are unix seconds with fractional precision.
type Metadata struct {
	EnqueuedAt   float64 `json:"enqueued_at"`
	RetryCount   int     `json:"retry_count"`
	MaxRetries   int     `json:"max_retries"`
	MovedToDLQAt float64 `json:"moved_to_dlq_at,omitempty"`
	WorkerID     string  `json:"worker_id,omitempty"`
}

// Message is the envelope stored on the Redis list. Payload is the raw
// webhook body as received from the platform.
type Message struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Metadata Metadata        `json:"metadata"`
}

// NewMessage wraps a webhook payload in a fresh envelope. The ID embeds
// the order serial number when the payload carries one, which makes
// queue entries traceable in log output.
func NewMessage(payload []byte, maxRetries int) Message {
	return Message{
		ID:      queueID(payload),
		Payload: json.RawMessage(payload),
		Metadata: Metadata{
			EnqueuedAt: float64(time.Now().UnixNano()) / 1e9,
			RetryCount: 0,
			MaxRetries: maxRetries,
		},
	}
}

func queueID(payload []byte) string {
	var probe struct {
		Data struct {
			OrderSN string `json:"ordersn"`
		} `json:"data"`
	}
	ordersn := "unknown"
	if err := json.Unmarshal(payload, &probe); err == nil && probe.Data.OrderSN != "" {
		ordersn = probe.Data.OrderSN
	}
	return fmt.Sprintf("wh_%d_%s", time.Now().Unix(), ordersn)
}
