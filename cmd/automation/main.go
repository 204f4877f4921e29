package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"order-messenger/internal/api"
	"order-messenger/internal/auth"
	"order-messenger/internal/config"
	"order-messenger/internal/db"
	"order-messenger/internal/engine"
	"order-messenger/internal/guard"
	"order-messenger/internal/observability"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/sheet"
	"order-messenger/internal/transport"
	"order-messenger/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := observability.GetLogger(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("Starting Order Messenger", zap.String("version", "0.9.0"))

	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
		shutdownOtel, err := observability.SetupOpenTelemetry("order-messenger", logger)
		if err != nil {
			logger.Warn("OpenTelemetry setup failed", zap.Error(err))
		} else {
			defer shutdownOtel()
		}
	}

	// Redis is optional: the guard's file tier alone preserves idempotency.
	var redisClient *db.RedisDB
	if cfg.RedisURL != "" {
		redisClient, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis unreachable, duplicate guard runs on the local file only", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	fileStore, err := guard.NewFileStore(cfg.SentFilePath)
	if err != nil {
		log.Fatalf("Failed to open sent-key file: %v", err)
	}
	var guardRedis *redis.Client
	if redisClient != nil {
		guardRedis = redisClient.Client
	}
	guardSvc := guard.New(guardRedis, fileStore, logger)

	// Queue backend is chosen once: NATS JetStream when reachable, the
	// in-process fallback otherwise.
	q := queue.New(ctx, cfg.NATSURL, logger)
	defer q.Close()

	exec := resilience.NewExecutor(logger)

	source, err := sheet.NewGoogleSource(ctx, sheet.GoogleConfig{
		SpreadsheetID:   cfg.SpreadsheetID,
		ReadRange:       cfg.SheetRange,
		APIKey:          cfg.GoogleAPIKey,
		CredentialsFile: cfg.GoogleCredentialsFile,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open order book source: %v", err)
	}

	bridge := transport.NewBridge(cfg.TransportURL, logger)

	eng := engine.New(cfg, source, q, guardSvc, exec, bridge, metrics, logger)

	sender := worker.NewSender(q, bridge, exec, guardSvc, metrics, logger)
	if err := sender.Start(); err != nil {
		log.Fatalf("Failed to start sender worker: %v", err)
	}
	followup := worker.NewFollowup(q, source, exec, guardSvc, cfg.Templates(), cfg.CompanyName, cfg.DiscountRate, metrics, logger)
	if err := followup.Start(); err != nil {
		log.Fatalf("Failed to start follow-up worker: %v", err)
	}

	if cfg.AutoStart {
		eng.Start()
	}

	if metrics != nil {
		go sampleGauges(metrics, exec, q)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("Fiber error", zap.Error(err))
			return c.Status(500).JSON(fiber.Map{"error": "Internal server error"})
		},
	})

	handlers := api.NewHandlers(logger, eng, exec, q, bridge)
	authService := auth.New(cfg.AdminAPIKeyHash, logger)
	api.SetupRoutes(app, logger, metrics, handlers, authService, cfg.MetricsEnabled)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	logger.Info("Order Messenger started", zap.String("port", cfg.Port),
		zap.String("queue_backend", q.Backend()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown gracefully", zap.Error(err))
	}

	logger.Info("Order Messenger stopped")
}

// sampleGauges refreshes the breaker and queue-depth gauges on a slow tick.
func sampleGauges(metrics *observability.Metrics, exec *resilience.Executor, q queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		for _, family := range []string{resilience.FamilySheetRead, resilience.FamilyTransportSend} {
			open := 0.0
			if exec.BreakerState(family) == resilience.StateOpen {
				open = 1
			}
			metrics.BreakerOpen.WithLabelValues(family).Set(open)
		}
		if mem, ok := q.(*queue.Memory); ok {
			metrics.QueueDepth.Set(float64(mem.Depth()))
		}
	}
}
