package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
	"github.com/xKeNcHii/shopee-webhook-receiver/sink"
)

const (
	keyLastSync     = "shopee:reconciliation:last_sync_timestamp"
	keyLastFullSync = "shopee:reconciliation:last_full_sync_timestamp"
	keyHistory      = "shopee:reconciliation:sync_history"
	keyLock         = "shopee:reconciliation:sync_in_progress"

	historyLength     = 10
	maxRecordedErrors = 5

	DefaultHistoricalDays = 7
	DefaultAPICallDelay   = 200 * time.Millisecond
	DefaultBatchSize      = 50
	DefaultOverlap        = 2 * time.Hour
	DefaultLockTTL        = 10 * time.Minute

	manualRangeLimit = 30 * 24 * time.Hour
)

var statusZone = time.FixedZone("UTC+8", 8*3600)

// SyncType identifies what triggered a reconciliation run.
type SyncType string

const (
	SyncStartup   SyncType = "startup"
	SyncScheduled SyncType = "scheduled"
	SyncDaily     SyncType = "daily"
	SyncManual    SyncType = "manual"
)

// SyncResult records one reconciliation run. The last 10 results are
// kept in Redis for the dashboard.
type SyncResult struct {
	SyncType        SyncType `json:"sync_type"`
	StartedAt       string   `json:"started_at"`
	CompletedAt     string   `json:"completed_at"`
	TimeFrom        int64    `json:"time_from"`
	TimeTo          int64    `json:"time_to"`
	OrdersFetched   int      `json:"orders_fetched"`
	OrdersProcessed int      `json:"orders_processed"`
	OrdersSkipped   int      `json:"orders_skipped"`
	Errors          []string `json:"errors"`
	Success         bool     `json:"success"`
}

// Status is the reconciliation view served to the dashboard.
type Status struct {
	LastSyncAt          string       `json:"last_sync_at,omitempty"`
	LastSyncFormatted   string       `json:"last_sync_formatted,omitempty"`
	LastFullSyncAt      string       `json:"last_full_sync_at,omitempty"`
	SyncInProgress      bool         `json:"sync_in_progress"`
	History             []SyncResult `json:"history"`
	NextScheduledSyncAt string       `json:"next_scheduled_sync_at,omitempty"`
	NextDailySyncAt     string       `json:"next_daily_sync_at,omitempty"`
}

// OrderLister sweeps the upstream order list for a time range.
type OrderLister interface {
	GetOrderList(ctx context.Context, from, to time.Time) ([]shopee.OrderListEntry, error)
}

// OrderAssembler builds a complete order record from its serial
// number.
type OrderAssembler interface {
	Assemble(ctx context.Context, orderSN string) (*shopee.AssembledOrder, error)
}

// Service re-syncs orders the webhook stream may have missed. Runs
// across worker instances are serialized through a Redis lock.
type Service struct {
	redis     *redis.Client
	lister    OrderLister
	assembler OrderAssembler
	sink      sink.OrderItemSink
	logger    *slog.Logger

	historicalDays int
	apiCallDelay   time.Duration
	batchSize      int
	overlap        time.Duration
	lockTTL        time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// ServiceConfig tunes sweep pacing, the catch-up windows and the lock
// lifetime. Zero values fall back to the defaults above.
type ServiceConfig struct {
	HistoricalDays int
	APICallDelay   time.Duration
	BatchSize      int
	Overlap        time.Duration
	LockTTL        time.Duration
}

func NewService(rdb *redis.Client, lister OrderLister, assembler OrderAssembler, s sink.OrderItemSink, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.HistoricalDays <= 0 {
		cfg.HistoricalDays = DefaultHistoricalDays
	}
	if cfg.APICallDelay <= 0 {
		cfg.APICallDelay = DefaultAPICallDelay
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Service{
		redis:          rdb,
		lister:         lister,
		assembler:      assembler,
		sink:           s,
		logger:         logger,
		historicalDays: cfg.HistoricalDays,
		apiCallDelay:   cfg.APICallDelay,
		batchSize:      cfg.BatchSize,
		overlap:        cfg.Overlap,
		lockTTL:        cfg.LockTTL,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// SyncRange sweeps orders updated inside [from, to] and upserts them
// into the sink. Only one sync runs at a time; a second caller gets a
// failed result without touching the upstream.
func (s *Service) SyncRange(ctx context.Context, syncType SyncType, from, to time.Time) SyncResult {
	result := SyncResult{
		SyncType:  syncType,
		StartedAt: s.now().UTC().Format(time.RFC3339),
		TimeFrom:  from.Unix(),
		TimeTo:    to.Unix(),
	}

	acquired, err := s.redis.SetNX(ctx, keyLock, s.now().Unix(), s.lockTTL).Result()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to acquire sync lock: %v", err))
		result.CompletedAt = s.now().UTC().Format(time.RFC3339)
		return result
	}
	if !acquired {
		result.Errors = append(result.Errors, "Sync already in progress")
		result.CompletedAt = s.now().UTC().Format(time.RFC3339)
		return result
	}
	defer s.redis.Del(context.WithoutCancel(ctx), keyLock)

	s.logger.Info("reconciliation started",
		slog.String("sync_type", string(syncType)),
		slog.Time("from", from),
		slog.Time("to", to),
	)

	entries, err := s.lister.GetOrderList(ctx, from, to)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list orders: %v", err))
	}
	result.OrdersFetched = len(entries)

	for i, entry := range entries {
		if shopee.IgnoreStatuses[entry.OrderStatus] {
			result.OrdersSkipped++
			continue
		}

		if err := s.syncOrder(ctx, entry.OrderSN); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.OrderSN, err))
		} else {
			result.OrdersProcessed++
		}

		if (i+1)%s.batchSize == 0 {
			s.logger.Info("reconciliation progress",
				slog.String("sync_type", string(syncType)),
				slog.Int("done", i+1),
				slog.Int("total", len(entries)),
			)
		}
		s.sleep(s.apiCallDelay)
	}

	result.CompletedAt = s.now().UTC().Format(time.RFC3339)
	result.Success = len(result.Errors) == 0 || result.OrdersProcessed > 0

	s.record(ctx, &result)

	s.logger.Info("reconciliation finished",
		slog.String("sync_type", string(syncType)),
		slog.Bool("success", result.Success),
		slog.Int("processed", result.OrdersProcessed),
		slog.Int("skipped", result.OrdersSkipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result
}

func (s *Service) syncOrder(ctx context.Context, orderSN string) error {
	order, err := s.assembler.Assemble(ctx, orderSN)
	if err != nil {
		return err
	}
	return s.sink.UpsertItems(ctx, order.Items)
}

// record trims the error list, pushes the result onto the history and
// advances the last-sync watermarks on success.
func (s *Service) record(ctx context.Context, result *SyncResult) {
	if len(result.Errors) > maxRecordedErrors {
		result.Errors = result.Errors[:maxRecordedErrors]
	}

	encoded, err := json.Marshal(result)
	if err == nil {
		pipe := s.redis.Pipeline()
		pipe.LPush(ctx, keyHistory, encoded)
		pipe.LTrim(ctx, keyHistory, 0, historyLength-1)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("failed to record sync history", slog.Any("error", err))
		}
	}

	if result.Success {
		if err := s.redis.Set(ctx, keyLastSync, result.CompletedAt, 0).Err(); err != nil {
			s.logger.Warn("failed to store last sync timestamp", slog.Any("error", err))
		}
		if result.SyncType == SyncDaily {
			if err := s.redis.Set(ctx, keyLastFullSync, result.CompletedAt, 0).Err(); err != nil {
				s.logger.Warn("failed to store last full sync timestamp", slog.Any("error", err))
			}
		}
	}
}

// Status reads the watermarks, lock state and run history.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var status Status

	lastSync, err := s.redis.Get(ctx, keyLastSync).Result()
	if err != nil && err != redis.Nil {
		return status, fmt.Errorf("failed to read last sync timestamp: %w", err)
	}
	if lastSync != "" {
		status.LastSyncAt = lastSync
		if t, err := time.Parse(time.RFC3339, lastSync); err == nil {
			status.LastSyncFormatted = t.In(statusZone).Format("2006-01-02 15:04:05 MST")
		}
	}

	lastFull, err := s.redis.Get(ctx, keyLastFullSync).Result()
	if err != nil && err != redis.Nil {
		return status, fmt.Errorf("failed to read last full sync timestamp: %w", err)
	}
	status.LastFullSyncAt = lastFull

	inProgress, err := s.redis.Exists(ctx, keyLock).Result()
	if err != nil {
		return status, fmt.Errorf("failed to read sync lock: %w", err)
	}
	status.SyncInProgress = inProgress > 0

	raw, err := s.redis.LRange(ctx, keyHistory, 0, historyLength-1).Result()
	if err != nil {
		return status, fmt.Errorf("failed to read sync history: %w", err)
	}
	for _, entry := range raw {
		var result SyncResult
		if err := json.Unmarshal([]byte(entry), &result); err != nil {
			continue
		}
		status.History = append(status.History, result)
	}
	return status, nil
}

// StartupWindow resumes from the last successful sync, falling back
// to the historical window on a fresh deployment.
func (s *Service) StartupWindow(ctx context.Context) (time.Time, time.Time) {
	now := s.now()
	lastSync, err := s.redis.Get(ctx, keyLastSync).Result()
	if err == nil && lastSync != "" {
		if t, err := time.Parse(time.RFC3339, lastSync); err == nil {
			return t, now
		}
	}
	return now.AddDate(0, 0, -s.historicalDays), now
}

// ScheduledWindow covers the recent past with overlap so webhook gaps
// inside the interval are always re-checked.
func (s *Service) ScheduledWindow() (time.Time, time.Time) {
	now := s.now()
	return now.Add(-s.overlap), now
}

// DailyWindow re-sweeps the full historical window.
func (s *Service) DailyWindow() (time.Time, time.Time) {
	now := s.now()
	return now.AddDate(0, 0, -s.historicalDays), now
}

// ClampManualRange bounds a user-supplied range: the end never lies in
// the future, and the start never reaches back more than 30 days.
func ClampManualRange(from, to, now time.Time) (time.Time, time.Time) {
	if to.After(now) {
		to = now
	}
	if earliest := now.Add(-manualRangeLimit); from.Before(earliest) {
		from = earliest
	}
	return from, to
}
