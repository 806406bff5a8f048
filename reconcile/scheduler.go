package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig controls when automatic syncs run.
type SchedulerConfig struct {
	Interval    time.Duration
	DailyHour   int
	StartupSync bool
}

// Scheduler drives the service: an optional startup catch-up, an
// hourly scheduled sweep, and a full daily sweep at a fixed local
// hour.
type Scheduler struct {
	service *Service
	config  SchedulerConfig
	logger  *slog.Logger

	mu            sync.Mutex
	nextScheduled time.Time
	nextDaily     time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(service *Service, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.DailyHour < 0 || config.DailyHour > 23 {
		config.DailyHour = 3
	}
	return &Scheduler{
		service: service,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the schedule loops. The startup sync, when enabled,
// runs asynchronously so worker boot is not delayed by a large
// catch-up window.
func (s *Scheduler) Start(ctx context.Context) {
	if s.config.StartupSync {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			from, to := s.service.StartupWindow(ctx)
			s.service.SyncRange(ctx, SyncStartup, from, to)
		}()
	}

	s.wg.Add(2)
	go s.runInterval(ctx)
	go s.runDaily(ctx)

	s.logger.Info("reconciliation scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Int("daily_hour", s.config.DailyHour),
		slog.Bool("startup_sync", s.config.StartupSync),
	)
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("reconciliation scheduler stopped")
}

// NextRuns reports the upcoming automatic sync times for the status
// endpoint.
func (s *Scheduler) NextRuns() (scheduled, daily time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextScheduled, s.nextDaily
}

func (s *Scheduler) runInterval(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.setNextScheduled(s.service.now().Add(s.config.Interval))

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.setNextScheduled(s.service.now().Add(s.config.Interval))
			from, to := s.service.ScheduledWindow()
			s.service.SyncRange(ctx, SyncScheduled, from, to)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.nextDailyRun(s.service.now())
		s.setNextDaily(next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			from, to := s.service.DailyWindow()
			s.service.SyncRange(ctx, SyncDaily, from, to)
		}
	}
}

// nextDailyRun finds the next occurrence of the configured hour in
// the business timezone.
func (s *Scheduler) nextDailyRun(now time.Time) time.Time {
	local := now.In(statusZone)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.config.DailyHour, 0, 0, 0, statusZone)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) setNextScheduled(t time.Time) {
	s.mu.Lock()
	s.nextScheduled = t
	s.mu.Unlock()
}

func (s *Scheduler) setNextDaily(t time.Time) {
	s.mu.Lock()
	s.nextDaily = t
	s.mu.Unlock()
}
