package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xKeNcHii/shopee-webhook-receiver/common/config"
	"github.com/xKeNcHii/shopee-webhook-receiver/common/logger"
	"github.com/xKeNcHii/shopee-webhook-receiver/common/tracing"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

func main() {
	godotenv.Load()

	cfg := Config{
		ServiceName: config.GetEnv("SERVICE_NAME", "webhook-worker"),
		InstanceID:  config.GetEnv("INSTANCE_ID", "webhook-worker-1"),
		HTTPAddr:    config.GetEnv("HTTP_ADDR", "0.0.0.0:8001"),
		ConsulAddr:  config.GetEnv("CONSUL_ADDR", ""),

		PartnerID:    config.GetEnvInt64("PARTNER_ID", 0),
		PartnerKey:   config.GetEnv("PARTNER_KEY", ""),
		ShopID:       config.GetEnvInt64("SHOP_ID", 0),
		AccessToken:  config.GetEnv("ACCESS_TOKEN", ""),
		RefreshToken: config.GetEnv("REFRESH_TOKEN", ""),
		HostAPI:      config.GetEnv("HOST_API", shopee.DefaultHost),
		TokenFile:    config.GetEnv("TOKEN_FILE", "data/tokens.json"),

		RedisAddr:    config.GetEnv("REDIS_HOST", "redis") + ":" + config.GetEnv("REDIS_PORT", "6379"),
		RedisDB:      config.GetEnvInt("REDIS_DB", 0),
		NumWorkers:   config.GetEnvInt("NUM_WORKERS", 3),
		BRPopTimeout: config.GetEnvDuration("BRPOP_TIMEOUT", 30*time.Second),
		MaxRetries:   config.GetEnvInt("MAX_RETRIES", 3),

		StorageBackend: config.GetEnv("STORAGE_BACKEND", "memory"),
		PostgresDSN:    config.GetEnv("POSTGRES_DSN", ""),
		MongoURI:       config.GetEnv("MONGO_URI", ""),

		SyncInterval:     config.GetEnvDuration("SYNC_INTERVAL", time.Hour),
		SyncDailyHour:    config.GetEnvInt("SYNC_DAILY_HOUR", 3),
		SyncOnStartup:    config.GetEnvBool("SYNC_ON_STARTUP", true),
		SyncAPICallDelay: config.GetEnvDuration("SYNC_API_CALL_DELAY", 200*time.Millisecond),
		SyncBatchSize:    config.GetEnvInt("SYNC_BATCH_SIZE", 50),
		HistoricalDays:   config.GetEnvInt("HISTORICAL_DAYS", 7),
		SyncOverlap:      time.Duration(config.GetEnvInt("SYNC_OVERLAP_HOURS", 2)) * time.Hour,
		SyncLockTTL:      config.GetEnvDuration("SYNC_TIMEOUT_SECONDS", 10*time.Minute),
	}

	log := logger.NewLogger(cfg.ServiceName)
	slog.SetDefault(log)
	log.Info("starting service",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	shutdown, err := tracing.InitTracer(cfg.ServiceName)
	if err != nil {
		log.Error("failed to initialize tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer shutdown()

	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		log.Error("failed to create app", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 40*time.Second)
		defer shutdownCancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", slog.Any("error", err))
		}
		cancel()
	}()

	if err := app.Start(ctx); err != nil {
		log.Error("failed to start app", slog.Any("error", err))
		os.Exit(1)
	}
}
