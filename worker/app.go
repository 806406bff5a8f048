package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/xKeNcHii/shopee-webhook-receiver/common/metrics"
	"github.com/xKeNcHii/shopee-webhook-receiver/discovery"
	"github.com/xKeNcHii/shopee-webhook-receiver/discovery/consul"
	"github.com/xKeNcHii/shopee-webhook-receiver/discovery/inmem"
	"github.com/xKeNcHii/shopee-webhook-receiver/queue"
	"github.com/xKeNcHii/shopee-webhook-receiver/reconcile"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
	"github.com/xKeNcHii/shopee-webhook-receiver/sink"
)

// Config holds the worker configuration, populated from the
// environment in main.
type Config struct {
	ServiceName string
	InstanceID  string
	HTTPAddr    string
	ConsulAddr  string

	PartnerID    int64
	PartnerKey   string
	ShopID       int64
	AccessToken  string
	RefreshToken string
	HostAPI      string
	TokenFile    string

	RedisAddr    string
	RedisDB      int
	NumWorkers   int
	BRPopTimeout time.Duration
	MaxRetries   int

	StorageBackend string
	PostgresDSN    string
	MongoURI       string

	SyncInterval     time.Duration
	SyncDailyHour    int
	SyncOnStartup    bool
	SyncAPICallDelay time.Duration
	SyncBatchSize    int
	HistoricalDays   int
	SyncOverlap      time.Duration
	SyncLockTTL      time.Duration
}

// App wires the queue consumer side: the worker pool draining the main
// queue, the order item sink, and the reconciliation scheduler.
type App struct {
	config Config
	logger *slog.Logger

	registry     discovery.Registry
	registration *ServiceRegistration

	redisClient *redis.Client
	pool        *queue.ConsumerPool
	admin       *queue.Admin
	store       sink.OrderItemSink
	processor   *webhookProcessor

	syncService   *reconcile.Service
	syncScheduler *reconcile.Scheduler

	httpMetrics *metrics.HTTPMetrics
	server      *http.Server
}

func NewApp(ctx context.Context, config Config) (*App, error) {
	logger := slog.Default().With(slog.String("component", "app"))

	// The worker is useless without Redis, unlike the receiver it
	// fails fast instead of degrading.
	redisClient, err := queue.NewRedisClient(ctx, config.RedisAddr, config.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store, err := newSink(ctx, config)
	if err != nil {
		return nil, err
	}

	tokens := shopee.NewFileTokenStore(config.TokenFile)
	if err := tokens.SeedIfMissing(config.AccessToken, config.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to seed token store: %w", err)
	}

	client := shopee.NewClient(shopee.ClientConfig{
		Host:       config.HostAPI,
		PartnerID:  config.PartnerID,
		PartnerKey: config.PartnerKey,
		ShopID:     config.ShopID,
	}, tokens, logger)
	assembler := shopee.NewAssembler(client, logger)

	processor := newWebhookProcessor(assembler, store, logger)
	pool := queue.NewConsumerPool(redisClient, processor, queue.ConsumerConfig{
		NumWorkers:   config.NumWorkers,
		BRPopTimeout: config.BRPopTimeout,
		MaxRetries:   config.MaxRetries,
	}, logger)

	syncService := reconcile.NewService(redisClient, client, assembler, store, reconcile.ServiceConfig{
		HistoricalDays: config.HistoricalDays,
		APICallDelay:   config.SyncAPICallDelay,
		BatchSize:      config.SyncBatchSize,
		Overlap:        config.SyncOverlap,
		LockTTL:        config.SyncLockTTL,
	}, logger)
	syncScheduler := reconcile.NewScheduler(syncService, reconcile.SchedulerConfig{
		Interval:    config.SyncInterval,
		DailyHour:   config.SyncDailyHour,
		StartupSync: config.SyncOnStartup,
	}, logger)

	app := &App{
		config:        config,
		logger:        logger,
		redisClient:   redisClient,
		pool:          pool,
		admin:         queue.NewAdmin(redisClient, logger),
		store:         store,
		processor:     processor,
		syncService:   syncService,
		syncScheduler: syncScheduler,
		httpMetrics:   metrics.NewHTTPMetrics("webhook_worker"),
	}

	if config.ConsulAddr != "" {
		registry, err := consul.NewRegistry(config.ConsulAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to consul: %w", err)
		}
		app.registry = registry
	} else {
		app.registry = inmem.NewRegistry()
	}

	return app, nil
}

func newSink(ctx context.Context, config Config) (sink.OrderItemSink, error) {
	switch config.StorageBackend {
	case "postgres":
		s, err := sink.NewPostgresSink(ctx, config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres sink: %w", err)
		}
		return s, nil
	case "mongo":
		s, err := sink.NewMongoSink(ctx, config.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo sink: %w", err)
		}
		return s, nil
	case "memory":
		return sink.NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.StorageBackend)
	}
}

func (a *App) Start(ctx context.Context) error {
	registration, err := RegisterService(ctx, a.registry, a.config.InstanceID, a.config.ServiceName, a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.registration = registration

	a.pool.Start(ctx)
	a.syncScheduler.Start(ctx)

	mux := http.NewServeMux()
	a.registerRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    a.config.HTTPAddr,
		Handler: a.metricsMiddleware(mux),
	}

	a.logger.Info("http server listening", slog.String("addr", a.config.HTTPAddr))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		return nil
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	if a.registration != nil {
		if err := a.registration.Deregister(ctx); err != nil {
			a.logger.Error("failed to deregister service", slog.Any("error", err))
		}
	}

	var firstErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	a.syncScheduler.Stop()
	a.pool.Stop()

	if err := a.store.Close(ctx); err != nil {
		a.logger.Error("failed to close sink", slog.Any("error", err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := a.redisClient.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		a.httpMetrics.RecordHTTPRequest(
			r.Method,
			r.URL.Path,
			fmt.Sprintf("%d", recorder.statusCode),
			time.Since(start),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
