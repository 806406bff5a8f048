package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultNumWorkers   = 3
	DefaultBRPopTimeout = 30 * time.Second
	DefaultMaxRetries   = 3

	poolDrainTimeout = 30 * time.Second
)

// Processor handles a dequeued webhook message. A nil return marks the
// message as handled; an error triggers the retry loop and eventually
// the dead letter queue.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// ConsumerConfig configures a ConsumerPool.
type ConsumerConfig struct {
	NumWorkers   int
	BRPopTimeout time.Duration
	MaxRetries   int
}

// ConsumerPool runs a fixed set of workers that block-pop messages
// from the main queue and run them through the Processor.
type ConsumerPool struct {
	client    *redis.Client
	processor Processor
	config    ConsumerConfig
	logger    *slog.Logger
	tracer    trace.Tracer

	running atomic.Bool
	wg      sync.WaitGroup
	stats   []*workerStats

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

type workerStats struct {
	mu                sync.Mutex
	workerID          string
	messagesProcessed int64
	messagesFailed    int64
	avgProcessingMS   float64
	lastMessageAt     time.Time
	currentMessage    string
}

// WorkerStatsSnapshot is the per-worker view exposed on the worker
// status endpoint.
type WorkerStatsSnapshot struct {
	WorkerID          string  `json:"worker_id"`
	MessagesProcessed int64   `json:"messages_processed"`
	MessagesFailed    int64   `json:"messages_failed"`
	AvgProcessingMS   float64 `json:"avg_processing_time_ms"`
	LastMessageAt     string  `json:"last_message_at,omitempty"`
	CurrentMessage    string  `json:"current_message,omitempty"`
}

func NewConsumerPool(client *redis.Client, processor Processor, config ConsumerConfig, logger *slog.Logger) *ConsumerPool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultNumWorkers
	}
	if config.BRPopTimeout <= 0 {
		config.BRPopTimeout = DefaultBRPopTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	stats := make([]*workerStats, config.NumWorkers)
	for i := range stats {
		stats[i] = &workerStats{workerID: fmt.Sprintf("worker-%d", i+1)}
	}

	return &ConsumerPool{
		client:    client,
		processor: processor,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("queue-consumer"),
		stats:     stats,
		sleep:     time.Sleep,
	}
}

// Start launches the workers. It returns immediately; workers run
// until Stop is called or the context is canceled.
func (p *ConsumerPool) Start(ctx context.Context) {
	p.running.Store(true)
	for _, ws := range p.stats {
		p.wg.Add(1)
		go p.runWorker(ctx, ws)
	}
	p.logger.Info("consumer pool started",
		slog.Int("num_workers", p.config.NumWorkers),
	)
}

// Stop signals all workers to finish their current message and waits
// up to 30 seconds for the pool to drain.
func (p *ConsumerPool) Stop() {
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("consumer pool stopped")
	case <-time.After(poolDrainTimeout):
		p.logger.Warn("consumer pool stop timed out, workers still busy")
	}
}

// Running reports whether the pool is accepting new messages.
func (p *ConsumerPool) Running() bool {
	return p.running.Load()
}

// Stats returns a snapshot of every worker's counters.
func (p *ConsumerPool) Stats() []WorkerStatsSnapshot {
	out := make([]WorkerStatsSnapshot, 0, len(p.stats))
	for _, ws := range p.stats {
		ws.mu.Lock()
		snap := WorkerStatsSnapshot{
			WorkerID:          ws.workerID,
			MessagesProcessed: ws.messagesProcessed,
			MessagesFailed:    ws.messagesFailed,
			AvgProcessingMS:   ws.avgProcessingMS,
			CurrentMessage:    ws.currentMessage,
		}
		if !ws.lastMessageAt.IsZero() {
			snap.LastMessageAt = ws.lastMessageAt.UTC().Format(time.RFC3339)
		}
		ws.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

func (p *ConsumerPool) runWorker(ctx context.Context, ws *workerStats) {
	defer p.wg.Done()

	log := p.logger.With(slog.String("worker_id", ws.workerID))
	log.Info("worker started")

	for p.running.Load() {
		if ctx.Err() != nil {
			return
		}

		res, err := p.client.BRPop(ctx, p.config.BRPopTimeout, MainQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to pop from queue", slog.Any("error", err))
			p.sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			log.Warn("skipping malformed queue message", slog.Any("error", err))
			continue
		}

		p.handleMessage(ctx, log, ws, &msg)
	}

	log.Info("worker stopped")
}

func (p *ConsumerPool) handleMessage(ctx context.Context, log *slog.Logger, ws *workerStats, msg *Message) {
	ctx, span := p.tracer.Start(ctx, "queue.process",
		trace.WithAttributes(
			attribute.String("queue.message_id", msg.ID),
			attribute.String("queue.worker_id", ws.workerID),
		),
	)
	defer span.End()

	ws.mu.Lock()
	ws.currentMessage = msg.ID
	ws.mu.Unlock()
	defer func() {
		ws.mu.Lock()
		ws.currentMessage = ""
		ws.mu.Unlock()
	}()

	start := time.Now()
	var lastErr error
	for attempt := msg.Metadata.RetryCount; attempt <= msg.Metadata.MaxRetries; attempt++ {
		lastErr = p.processor.Process(ctx, msg)
		if lastErr == nil {
			p.recordSuccess(ctx, ws, time.Since(start))
			log.Info("message processed",
				slog.String("queue_id", msg.ID),
				slog.Int("attempt", attempt),
			)
			return
		}

		log.Warn("message processing failed",
			slog.String("queue_id", msg.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)
		if attempt < msg.Metadata.MaxRetries {
			p.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	span.RecordError(lastErr)
	p.moveToDLQ(ctx, log, ws, msg)
}

func (p *ConsumerPool) recordSuccess(ctx context.Context, ws *workerStats, dur time.Duration) {
	if err := p.client.HIncrBy(ctx, StatsKey, statTotalProcessed, 1).Err(); err != nil {
		p.logger.Warn("failed to update queue stats", slog.Any("error", err))
	}

	ws.mu.Lock()
	ws.messagesProcessed++
	n := float64(ws.messagesProcessed)
	ws.avgProcessingMS = (ws.avgProcessingMS*(n-1) + float64(dur.Milliseconds())) / n
	ws.lastMessageAt = time.Now()
	ws.mu.Unlock()
}

func (p *ConsumerPool) moveToDLQ(ctx context.Context, log *slog.Logger, ws *workerStats, msg *Message) {
	msg.Metadata.MovedToDLQAt = float64(time.Now().UnixNano()) / 1e9
	msg.Metadata.WorkerID = ws.workerID

	encoded, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to encode dead letter message",
			slog.String("queue_id", msg.ID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.client.LPush(ctx, DeadLetterKey, encoded).Err(); err != nil {
		log.Error("failed to move message to dead letter queue",
			slog.String("queue_id", msg.ID),
			slog.Any("error", err),
		)
		return
	}
	if err := p.client.HIncrBy(ctx, StatsKey, statTotalFailed, 1).Err(); err != nil {
		log.Warn("failed to update queue stats", slog.Any("error", err))
	}

	ws.mu.Lock()
	ws.messagesFailed++
	ws.lastMessageAt = time.Now()
	ws.mu.Unlock()

	log.Error("message moved to dead letter queue",
		slog.String("queue_id", msg.ID),
		slog.Int("retries", msg.Metadata.MaxRetries),
	)
}
