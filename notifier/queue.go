package notifier

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultMessagesPerMinute = 15

	maxSendRetries    = 3
	stopDrainTimeout  = 30 * time.Second
	longWaitThreshold = 5 * time.Second
)

// Sender is the delivery backend for queued notifications.
type Sender interface {
	SendMessage(ctx context.Context, text string, threadID int64) error
	CreateForumTopic(ctx context.Context, name string) (int64, error)
}

// QueueStats is a snapshot of the queue's lifetime counters.
type QueueStats struct {
	TotalQueued int64 `json:"total_queued"`
	TotalSent   int64 `json:"total_sent"`
	TotalFailed int64 `json:"total_failed"`
	QueueSize   int   `json:"queue_size"`
}

type queued struct {
	eventCode int
	text      string
}

// Queue serializes notification delivery through a single consumer
// goroutine so the chat API rate limit is never exceeded. Messages per
// event code are routed to their own forum topic, created on demand.
type Queue struct {
	sender Sender
	topics *TopicStore
	logger *slog.Logger

	interval time.Duration

	mu       sync.Mutex
	cond     *sync.Cond
	items    []queued
	running  bool
	lastSend time.Time

	totalQueued int64
	totalSent   int64
	totalFailed int64

	wg sync.WaitGroup

	// sleep is swapped out in tests to skip real pacing delays.
	sleep func(time.Duration)
}

func NewQueue(sender Sender, topics *TopicStore, messagesPerMinute int, logger *slog.Logger) *Queue {
	if messagesPerMinute <= 0 {
		messagesPerMinute = DefaultMessagesPerMinute
	}
	q := &Queue{
		sender:   sender,
		topics:   topics,
		logger:   logger,
		interval: time.Minute / time.Duration(messagesPerMinute),
		sleep:    time.Sleep,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the consumer goroutine.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.consume()
	q.logger.Info("notification queue started",
		slog.Duration("send_interval", q.interval),
	)
}

// Stop drains outstanding messages for up to 30 seconds, then gives
// up and reports what was left behind.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("notification queue stopped")
	case <-time.After(stopDrainTimeout):
		q.mu.Lock()
		left := len(q.items)
		q.mu.Unlock()
		q.logger.Warn("notification queue stop timed out",
			slog.Int("undelivered", left),
		)
	}
}

// Enqueue adds a notification for asynchronous delivery. It never
// blocks the caller.
func (q *Queue) Enqueue(eventCode int, text string) {
	q.mu.Lock()
	q.items = append(q.items, queued{eventCode: eventCode, text: text})
	q.totalQueued++
	q.cond.Signal()
	q.mu.Unlock()
}

// Stats returns the lifetime counters and current backlog size.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		TotalQueued: q.totalQueued,
		TotalSent:   q.totalSent,
		TotalFailed: q.totalFailed,
		QueueSize:   len(q.items),
	}
}

func (q *Queue) consume() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.items) == 0 && q.running {
			q.cond.Wait()
		}
		if len(q.items) == 0 && !q.running {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		last := q.lastSend
		q.mu.Unlock()

		if wait := q.interval - time.Since(last); wait > 0 {
			if wait > longWaitThreshold {
				q.logger.Debug("rate limit pacing", slog.Duration("wait", wait))
			}
			q.sleep(wait)
		}

		q.deliver(item)
	}
}

func (q *Queue) deliver(item queued) {
	ctx := context.Background()
	threadID := q.resolveTopic(ctx, item.eventCode)
	chunks := SplitMessage(item.text, MaxMessageLength)

	var lastErr error
	for attempt := 0; attempt < maxSendRetries; attempt++ {
		lastErr = q.sendChunks(ctx, chunks, threadID)
		if lastErr == nil {
			q.mu.Lock()
			q.lastSend = time.Now()
			q.totalSent++
			q.mu.Unlock()
			return
		}

		q.logger.Warn("notification send failed",
			slog.Int("event_code", item.eventCode),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr),
		)

		// A rejected request stays rejected; only transport failures
		// and server errors earn another attempt.
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.Permanent() {
			break
		}

		if attempt < maxSendRetries-1 {
			q.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	q.mu.Lock()
	q.totalFailed++
	q.mu.Unlock()
	q.logger.Error("notification dropped after retries",
		slog.Int("event_code", item.eventCode),
		slog.Any("error", lastErr),
	)
}

func (q *Queue) sendChunks(ctx context.Context, chunks []string, threadID int64) error {
	for _, chunk := range chunks {
		if err := q.sender.SendMessage(ctx, chunk, threadID); err != nil {
			return err
		}
	}
	return nil
}

// resolveTopic returns the forum topic for an event code, creating it
// on first use. Topic failures degrade to the main chat thread.
func (q *Queue) resolveTopic(ctx context.Context, eventCode int) int64 {
	if q.topics == nil {
		return 0
	}
	if id, ok := q.topics.Get(eventCode); ok {
		return id
	}

	id, err := q.sender.CreateForumTopic(ctx, strconv.Itoa(eventCode))
	if err != nil {
		q.logger.Warn("failed to create forum topic, using main thread",
			slog.Int("event_code", eventCode),
			slog.Any("error", err),
		)
		return 0
	}
	if err := q.topics.Put(eventCode, id); err != nil {
		q.logger.Warn("failed to persist forum topic",
			slog.Int("event_code", eventCode),
			slog.Any("error", err),
		)
	}
	return id
}
