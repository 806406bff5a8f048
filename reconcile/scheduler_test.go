package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicebob/miniredis/v2"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
	"github.com/xKeNcHii/shopee-webhook-receiver/sink"
)

type countingUpstream struct {
	mu    sync.Mutex
	lists int
}

func (c *countingUpstream) GetOrderList(ctx context.Context, from, to time.Time) ([]shopee.OrderListEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	return nil, nil
}

func (c *countingUpstream) Assemble(ctx context.Context, orderSN string) (*shopee.AssembledOrder, error) {
	return &shopee.AssembledOrder{}, nil
}

func (c *countingUpstream) listCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func newSchedulerService(t *testing.T, upstream *countingUpstream) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(client, upstream, upstream, sink.NewMemorySink(), ServiceConfig{}, testLogger())
	svc.sleep = func(time.Duration) {}
	return svc
}

func TestSchedulerStartupSyncRuns(t *testing.T) {
	upstream := &countingUpstream{}
	svc := newSchedulerService(t, upstream)

	sched := NewScheduler(svc, SchedulerConfig{
		Interval:    time.Hour,
		StartupSync: true,
	}, testLogger())

	sched.Start(context.Background())
	require.Eventually(t, func() bool {
		return upstream.listCalls() == 1
	}, 5*time.Second, 10*time.Millisecond)
	sched.Stop()
}

func TestSchedulerIntervalSyncRuns(t *testing.T) {
	upstream := &countingUpstream{}
	svc := newSchedulerService(t, upstream)

	sched := NewScheduler(svc, SchedulerConfig{
		Interval: 50 * time.Millisecond,
	}, testLogger())

	sched.Start(context.Background())
	require.Eventually(t, func() bool {
		return upstream.listCalls() >= 2
	}, 5*time.Second, 10*time.Millisecond)
	sched.Stop()
}

func TestSchedulerNextRuns(t *testing.T) {
	upstream := &countingUpstream{}
	svc := newSchedulerService(t, upstream)

	sched := NewScheduler(svc, SchedulerConfig{
		Interval:  time.Hour,
		DailyHour: 3,
	}, testLogger())

	sched.Start(context.Background())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		scheduled, daily := sched.NextRuns()
		return !scheduled.IsZero() && !daily.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	scheduled, daily := sched.NextRuns()
	assert.True(t, scheduled.After(time.Now()))
	assert.True(t, daily.After(time.Now()))
	assert.Equal(t, 3, daily.In(statusZone).Hour())
}

func TestSchedulerNextDailyRunRollsOver(t *testing.T) {
	svc := newSchedulerService(t, &countingUpstream{})
	sched := NewScheduler(svc, SchedulerConfig{DailyHour: 3}, testLogger())

	// 04:00 local is past today's 03:00 run, so the next is tomorrow.
	now := time.Date(2025, 6, 15, 4, 0, 0, 0, statusZone)
	next := sched.nextDailyRun(now)
	assert.Equal(t, time.Date(2025, 6, 16, 3, 0, 0, 0, statusZone), next)

	// 02:00 local still catches today's run.
	now = time.Date(2025, 6, 15, 2, 0, 0, 0, statusZone)
	next = sched.nextDailyRun(now)
	assert.Equal(t, time.Date(2025, 6, 15, 3, 0, 0, 0, statusZone), next)
}
