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
	"github.com/xKeNcHii/shopee-webhook-receiver/events"
	"github.com/xKeNcHii/shopee-webhook-receiver/forwarder"
	"github.com/xKeNcHii/shopee-webhook-receiver/notifier"
	"github.com/xKeNcHii/shopee-webhook-receiver/queue"
	"github.com/xKeNcHii/shopee-webhook-receiver/runtimeconfig"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// Config holds the receiver configuration, populated from the
// environment in main.
type Config struct {
	ServiceName string
	InstanceID  string
	HTTPAddr    string
	ConsulAddr  string

	PartnerID         int64
	PartnerKey        string
	WebhookPartnerKey string
	ShopID            int64
	AccessToken       string
	RefreshToken      string
	HostAPI           string
	DebugWebhook      bool

	RedisEnabled bool
	RedisAddr    string
	RedisDB      int
	MaxRetries   int

	TelegramBotToken  string
	TelegramChatID    string
	MessagesPerMinute int
	ForwardURL        string
	DashboardAPIKey   string

	TokenFile         string
	TopicsFile        string
	RuntimeConfigFile string
	EventLogDir       string
}

// App wires the webhook ingress pipeline: signature verification,
// audit logging, notification, queue publish with direct-delivery
// fallback, and the dashboard API.
type App struct {
	config Config
	logger *slog.Logger

	registry     discovery.Registry
	registration *ServiceRegistration

	redisClient *redis.Client
	breaker     *queue.Breaker
	producer    *queue.Producer

	handler *webhookHandler
	notify  *notifier.Queue
	runtime *runtimeconfig.Store

	httpMetrics *metrics.HTTPMetrics
	server      *http.Server
}

func NewApp(config Config) (*App, error) {
	logger := slog.Default().With(slog.String("component", "app"))

	verifier := shopee.NewVerifier(config.PartnerKey, config.WebhookPartnerKey, config.DebugWebhook, logger)

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

	runtime, err := runtimeconfig.NewStore(config.RuntimeConfigFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime config: %w", err)
	}

	var notify *notifier.Queue
	if config.TelegramBotToken != "" && config.TelegramChatID != "" {
		topics, err := notifier.NewTopicStore(config.TopicsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load topic store: %w", err)
		}
		telegram := notifier.NewTelegramClient(config.TelegramBotToken, config.TelegramChatID, logger)
		notify = notifier.NewQueue(telegram, topics, config.MessagesPerMinute, logger)
	} else {
		logger.Warn("telegram not configured, notifications disabled")
	}

	app := &App{
		config:      config,
		logger:      logger,
		notify:      notify,
		runtime:     runtime,
		breaker:     queue.NewBreaker(queue.DefaultFailureThreshold, queue.DefaultBreakerTimeout),
		httpMetrics: metrics.NewHTTPMetrics("webhook_receiver"),
	}

	if config.RedisEnabled {
		redisClient, err := queue.NewRedisClient(context.Background(), config.RedisAddr, config.RedisDB)
		if err != nil {
			// The receiver must keep accepting webhooks even when the
			// queue is down, so a failed connection only disables it.
			logger.Error("redis unavailable, running in direct-delivery mode", slog.Any("error", err))
		} else {
			app.redisClient = redisClient
			app.producer = queue.NewProducer(redisClient, app.breaker, config.MaxRetries, logger)
		}
	} else {
		logger.Warn("queue disabled, webhooks are delivered directly")
	}

	app.handler = &webhookHandler{
		logger:       logger,
		verifier:     verifier,
		assembler:    assembler,
		producer:     app.producer,
		forward:      forwarder.New(config.ForwardURL, logger),
		notify:       notify,
		audit:        events.NewLog(config.EventLogDir, logger),
		queueMetrics: metrics.NewQueueMetrics("webhook_receiver"),
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

func (a *App) Start(ctx context.Context) error {
	registration, err := RegisterService(ctx, a.registry, a.config.InstanceID, a.config.ServiceName, a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.registration = registration

	if a.notify != nil {
		a.notify.Start()
	}

	mux := http.NewServeMux()
	a.handler.registerRoutes(mux)
	a.registerDashboardRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", a.handleHealth)

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

	// Drain pending notifications after the listener stops accepting
	// new events.
	if a.notify != nil {
		a.notify.Stop()
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleHealth reports degraded instead of failing so load balancers
// keep routing webhooks while the queue recovers.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var reasons []string

	if !a.config.RedisEnabled {
		status = "degraded"
		reasons = append(reasons, "queue disabled")
	} else if a.producer == nil {
		status = "degraded"
		reasons = append(reasons, "redis unavailable")
	} else if a.breaker.State() == queue.StateOpen {
		status = "degraded"
		reasons = append(reasons, "circuit breaker open")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": a.config.ServiceName,
		"reasons": reasons,
		"checks": map[string]any{
			"signature_keys":  a.config.PartnerKey != "" || a.config.WebhookPartnerKey != "",
			"queue":           a.producer != nil,
			"notifier":        a.notify != nil,
			"forwarding":      a.config.ForwardURL != "",
			"circuit_breaker": a.breaker.Snapshot(),
		},
	})
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
