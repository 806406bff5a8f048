package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu       sync.Mutex
	failures int
	seen     []string
}

func (p *recordingProcessor) Process(ctx context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, msg.ID)
	if p.failures > 0 {
		p.failures--
		return errors.New("downstream unavailable")
	}
	return nil
}

func (p *recordingProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func pushMessage(t *testing.T, mr interface{ Lpush(string, string) (int, error) }, id string) {
	t.Helper()
	msg := Message{
		ID:      id,
		Payload: json.RawMessage(`{"code":3,"data":{"ordersn":"X"}}`),
		Metadata: Metadata{
			EnqueuedAt: float64(time.Now().Unix()),
			MaxRetries: 3,
		},
	}
	encoded, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = mr.Lpush(MainQueueKey, string(encoded))
	require.NoError(t, err)
}

func TestConsumerPoolProcessesMessage(t *testing.T) {
	mr, client := newTestRedis(t)
	proc := &recordingProcessor{}

	pool := NewConsumerPool(client, proc, ConsumerConfig{
		NumWorkers:   1,
		BRPopTimeout: time.Second,
		MaxRetries:   3,
	}, testLogger())
	pool.sleep = func(time.Duration) {}

	pushMessage(t, mr, "wh_1_ok")

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return proc.calls() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return mr.HGet(StatsKey, "total_processed") == "1"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConsumerPoolRetriesThenSucceeds(t *testing.T) {
	mr, client := newTestRedis(t)
	proc := &recordingProcessor{failures: 2}

	pool := NewConsumerPool(client, proc, ConsumerConfig{
		NumWorkers:   1,
		BRPopTimeout: time.Second,
		MaxRetries:   3,
	}, testLogger())
	pool.sleep = func(time.Duration) {}

	pushMessage(t, mr, "wh_2_retry")

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return proc.calls() == 3
	}, 5*time.Second, 10*time.Millisecond)

	entries, err := mr.List(DeadLetterKey)
	require.True(t, err == nil || len(entries) == 0)
	assert.Empty(t, entries)
}

func TestConsumerPoolExhaustedRetriesMoveToDLQ(t *testing.T) {
	mr, client := newTestRedis(t)
	proc := &recordingProcessor{failures: 10}

	pool := NewConsumerPool(client, proc, ConsumerConfig{
		NumWorkers:   1,
		BRPopTimeout: time.Second,
		MaxRetries:   3,
	}, testLogger())
	pool.sleep = func(time.Duration) {}

	pushMessage(t, mr, "wh_3_dead")

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		entries, err := mr.List(DeadLetterKey)
		return err == nil && len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Attempts 0..3 inclusive.
	assert.Equal(t, 4, proc.calls())

	entries, err := mr.List(DeadLetterKey)
	require.NoError(t, err)
	var dead Message
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &dead))
	assert.Equal(t, "wh_3_dead", dead.ID)
	assert.Equal(t, "worker-1", dead.Metadata.WorkerID)
	assert.Greater(t, dead.Metadata.MovedToDLQAt, 0.0)
	assert.Equal(t, "1", mr.HGet(StatsKey, "total_failed"))
}

func TestConsumerPoolSkipsMalformedMessage(t *testing.T) {
	mr, client := newTestRedis(t)
	proc := &recordingProcessor{}

	pool := NewConsumerPool(client, proc, ConsumerConfig{
		NumWorkers:   1,
		BRPopTimeout: time.Second,
		MaxRetries:   3,
	}, testLogger())
	pool.sleep = func(time.Duration) {}

	_, err := mr.Lpush(MainQueueKey, "{not json")
	require.NoError(t, err)
	pushMessage(t, mr, "wh_4_after_garbage")

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return proc.calls() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConsumerPoolStats(t *testing.T) {
	mr, client := newTestRedis(t)
	proc := &recordingProcessor{}

	pool := NewConsumerPool(client, proc, ConsumerConfig{
		NumWorkers:   2,
		BRPopTimeout: time.Second,
		MaxRetries:   3,
	}, testLogger())
	pool.sleep = func(time.Duration) {}

	pushMessage(t, mr, "wh_5_stats")

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		total := int64(0)
		for _, ws := range pool.Stats() {
			total += ws.MessagesProcessed
		}
		return total == 1
	}, 5*time.Second, 10*time.Millisecond)

	stats := pool.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "worker-1", stats[0].WorkerID)
	assert.Equal(t, "worker-2", stats[1].WorkerID)
}
