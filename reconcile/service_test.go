package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
	"github.com/xKeNcHii/shopee-webhook-receiver/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeUpstream struct {
	entries   []shopee.OrderListEntry
	listErr   error
	failSNs   map[string]bool
	assembled []string
	onList    func()
}

func (f *fakeUpstream) GetOrderList(ctx context.Context, from, to time.Time) ([]shopee.OrderListEntry, error) {
	if f.onList != nil {
		f.onList()
	}
	return f.entries, f.listErr
}

func (f *fakeUpstream) Assemble(ctx context.Context, orderSN string) (*shopee.AssembledOrder, error) {
	if f.failSNs[orderSN] {
		return nil, errors.New("upstream rejected order")
	}
	f.assembled = append(f.assembled, orderSN)
	return &shopee.AssembledOrder{
		Items: []shopee.OrderItem{{OrderID: orderSN, SKU: "SKU-" + orderSN, Status: "SHIPPED"}},
	}, nil
}

func newTestService(t *testing.T, upstream *fakeUpstream) (*Service, *miniredis.Miniredis, *sink.MemorySink) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := sink.NewMemorySink()
	svc := NewService(client, upstream, upstream, store, ServiceConfig{}, testLogger())
	svc.sleep = func(time.Duration) {}
	return svc, mr, store
}

func TestSyncRangeProcessesOrders(t *testing.T) {
	upstream := &fakeUpstream{
		entries: []shopee.OrderListEntry{
			{OrderSN: "A", OrderStatus: "READY_TO_SHIP"},
			{OrderSN: "B", OrderStatus: "UNPAID"},
			{OrderSN: "C", OrderStatus: "COMPLETED"},
		},
	}
	svc, mr, store := newTestService(t, upstream)

	res := svc.SyncRange(context.Background(), SyncScheduled, time.Now().Add(-time.Hour), time.Now())

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.OrdersFetched)
	assert.Equal(t, 2, res.OrdersProcessed)
	assert.Equal(t, 1, res.OrdersSkipped)
	assert.Empty(t, res.Errors)
	assert.ElementsMatch(t, []string{"A", "C"}, upstream.assembled)
	assert.Len(t, store.Items(), 2)

	// Watermark advanced and history recorded.
	last, err := mr.Get(keyLastSync)
	require.NoError(t, err)
	assert.Equal(t, res.CompletedAt, last)

	history, err := mr.List(keyHistory)
	require.NoError(t, err)
	require.Len(t, history, 1)

	var recorded SyncResult
	require.NoError(t, json.Unmarshal([]byte(history[0]), &recorded))
	assert.Equal(t, SyncScheduled, recorded.SyncType)

	// Lock is released after the run.
	assert.False(t, mr.Exists(keyLock))
}

func TestSyncRangePartialFailureStillSucceeds(t *testing.T) {
	upstream := &fakeUpstream{
		entries: []shopee.OrderListEntry{
			{OrderSN: "A", OrderStatus: "SHIPPED"},
			{OrderSN: "BAD", OrderStatus: "SHIPPED"},
		},
		failSNs: map[string]bool{"BAD": true},
	}
	svc, _, _ := newTestService(t, upstream)

	res := svc.SyncRange(context.Background(), SyncManual, time.Now().Add(-time.Hour), time.Now())

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.OrdersProcessed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "BAD")
}

func TestSyncRangeListFailureFails(t *testing.T) {
	upstream := &fakeUpstream{listErr: errors.New("upstream down")}
	svc, mr, _ := newTestService(t, upstream)

	res := svc.SyncRange(context.Background(), SyncScheduled, time.Now().Add(-time.Hour), time.Now())

	assert.False(t, res.Success)
	assert.Zero(t, res.OrdersProcessed)
	assert.False(t, mr.Exists(keyLastSync))
}

func TestSyncRangeLockPreventsConcurrentRuns(t *testing.T) {
	upstream := &fakeUpstream{}
	svc, mr, _ := newTestService(t, upstream)

	require.NoError(t, mr.Set(keyLock, "1748775600"))

	res := svc.SyncRange(context.Background(), SyncManual, time.Now().Add(-time.Hour), time.Now())

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Sync already in progress", res.Errors[0])

	// The foreign lock is left in place.
	assert.True(t, mr.Exists(keyLock))
}

func TestSyncRangeErrorsCappedInHistory(t *testing.T) {
	fail := map[string]bool{}
	var entries []shopee.OrderListEntry
	for _, sn := range []string{"E1", "E2", "E3", "E4", "E5", "E6", "E7"} {
		fail[sn] = true
		entries = append(entries, shopee.OrderListEntry{OrderSN: sn, OrderStatus: "SHIPPED"})
	}
	upstream := &fakeUpstream{entries: entries, failSNs: fail}
	svc, mr, _ := newTestService(t, upstream)

	svc.SyncRange(context.Background(), SyncDaily, time.Now().Add(-time.Hour), time.Now())

	history, err := mr.List(keyHistory)
	require.NoError(t, err)
	require.Len(t, history, 1)

	var recorded SyncResult
	require.NoError(t, json.Unmarshal([]byte(history[0]), &recorded))
	assert.Len(t, recorded.Errors, maxRecordedErrors)
}

func TestDailySyncAdvancesFullWatermark(t *testing.T) {
	upstream := &fakeUpstream{
		entries: []shopee.OrderListEntry{{OrderSN: "A", OrderStatus: "SHIPPED"}},
	}
	svc, mr, _ := newTestService(t, upstream)

	res := svc.SyncRange(context.Background(), SyncDaily, time.Now().Add(-time.Hour), time.Now())

	full, err := mr.Get(keyLastFullSync)
	require.NoError(t, err)
	assert.Equal(t, res.CompletedAt, full)
}

func TestHistoryTrimmedToTen(t *testing.T) {
	upstream := &fakeUpstream{}
	svc, mr, _ := newTestService(t, upstream)

	for i := 0; i < 13; i++ {
		svc.SyncRange(context.Background(), SyncScheduled, time.Now().Add(-time.Hour), time.Now())
	}

	history, err := mr.List(keyHistory)
	require.NoError(t, err)
	assert.Len(t, history, historyLength)
}

func TestStatus(t *testing.T) {
	upstream := &fakeUpstream{
		entries: []shopee.OrderListEntry{{OrderSN: "A", OrderStatus: "SHIPPED"}},
	}
	svc, _, _ := newTestService(t, upstream)

	svc.SyncRange(context.Background(), SyncScheduled, time.Now().Add(-time.Hour), time.Now())

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, status.LastSyncAt)
	assert.NotEmpty(t, status.LastSyncFormatted)
	assert.False(t, status.SyncInProgress)
	require.Len(t, status.History, 1)
	assert.Equal(t, SyncScheduled, status.History[0].SyncType)
}

func TestStartupWindowResumesFromWatermark(t *testing.T) {
	upstream := &fakeUpstream{}
	svc, mr, _ := newTestService(t, upstream)

	from, to := svc.StartupWindow(context.Background())
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -DefaultHistoricalDays), from, time.Minute)
	assert.WithinDuration(t, time.Now(), to, time.Minute)

	watermark := time.Now().Add(-3 * time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, mr.Set(keyLastSync, watermark))

	from, _ = svc.StartupWindow(context.Background())
	assert.WithinDuration(t, time.Now().Add(-3*time.Hour), from, time.Minute)
}

func TestScheduledWindowHonorsOverlap(t *testing.T) {
	upstream := &fakeUpstream{}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(client, upstream, upstream, sink.NewMemorySink(), ServiceConfig{
		Overlap: 4 * time.Hour,
	}, testLogger())

	from, to := svc.ScheduledWindow()
	assert.Equal(t, 4*time.Hour, to.Sub(from))

	// Zero config falls back to the default overlap.
	svc = NewService(client, upstream, upstream, sink.NewMemorySink(), ServiceConfig{}, testLogger())
	from, to = svc.ScheduledWindow()
	assert.Equal(t, DefaultOverlap, to.Sub(from))
}

func TestSyncRangeLockUsesConfiguredTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var lockTTL time.Duration
	upstream := &fakeUpstream{
		onList: func() { lockTTL = mr.TTL(keyLock) },
	}

	svc := NewService(client, upstream, upstream, sink.NewMemorySink(), ServiceConfig{
		LockTTL: 3 * time.Minute,
	}, testLogger())
	svc.sleep = func(time.Duration) {}

	svc.SyncRange(context.Background(), SyncScheduled, time.Now().Add(-time.Hour), time.Now())
	assert.Equal(t, 3*time.Minute, lockTTL)
}

func TestClampManualRange(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	from, to := ClampManualRange(now.AddDate(0, 0, -60), now.Add(time.Hour), now)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-manualRangeLimit), from)

	from, to = ClampManualRange(now.AddDate(0, 0, -5), now.Add(-time.Hour), now)
	assert.Equal(t, now.AddDate(0, 0, -5), from)
	assert.Equal(t, now.Add(-time.Hour), to)
}
