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
		ServiceName: config.GetEnv("SERVICE_NAME", "webhook-receiver"),
		InstanceID:  config.GetEnv("INSTANCE_ID", "webhook-receiver-1"),
		HTTPAddr:    config.GetEnv("HTTP_ADDR", "0.0.0.0:8000"),
		ConsulAddr:  config.GetEnv("CONSUL_ADDR", ""),

		PartnerID:         config.GetEnvInt64("PARTNER_ID", 0),
		PartnerKey:        config.GetEnv("PARTNER_KEY", ""),
		WebhookPartnerKey: config.GetEnv("WEBHOOK_PARTNER_KEY", ""),
		ShopID:            config.GetEnvInt64("SHOP_ID", 0),
		AccessToken:       config.GetEnv("ACCESS_TOKEN", ""),
		RefreshToken:      config.GetEnv("REFRESH_TOKEN", ""),
		HostAPI:           config.GetEnv("HOST_API", shopee.DefaultHost),
		DebugWebhook:      config.GetEnvBool("DEBUG_WEBHOOK", false),

		RedisEnabled: config.GetEnvBool("REDIS_ENABLED", true),
		RedisAddr:    config.GetEnv("REDIS_HOST", "redis") + ":" + config.GetEnv("REDIS_PORT", "6379"),
		RedisDB:      config.GetEnvInt("REDIS_DB", 0),
		MaxRetries:   config.GetEnvInt("REDIS_MAX_RETRIES", 3),

		TelegramBotToken:  config.GetEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    config.GetEnv("TELEGRAM_CHAT_ID", ""),
		MessagesPerMinute: config.GetEnvInt("TELEGRAM_MESSAGES_PER_MINUTE", 15),
		ForwardURL:        config.GetEnv("FORWARD_WEBHOOK_URL", ""),
		DashboardAPIKey:   config.GetEnv("DASHBOARD_API_KEY", ""),

		TokenFile:         config.GetEnv("TOKEN_FILE", "data/tokens.json"),
		TopicsFile:        config.GetEnv("TOPICS_FILE", "data/telegram_topics.json"),
		RuntimeConfigFile: config.GetEnv("RUNTIME_CONFIG_FILE", "data/runtime_config.json"),
		EventLogDir:       config.GetEnv("EVENT_LOG_DIR", "data/events"),
	}

	log := logger.NewLogger(cfg.ServiceName)
	slog.SetDefault(log)
	log.Info("starting service",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	shutdown, err := tracing.InitTracer(cfg.ServiceName)
	if err != nil {
		log.Error("failed to initialize tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer shutdown()

	app, err := NewApp(cfg)
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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 35*time.Second)
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
