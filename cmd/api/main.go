package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	"github.com/kursadbilgin/alert-relay/internal/config"
	"github.com/kursadbilgin/alert-relay/internal/deadletter"
	"github.com/kursadbilgin/alert-relay/internal/handler"
	"github.com/kursadbilgin/alert-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/alert-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/alert-relay/internal/infra/redis"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"github.com/kursadbilgin/alert-relay/internal/queue"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"github.com/kursadbilgin/alert-relay/internal/rules"
	"github.com/kursadbilgin/alert-relay/internal/service"
	"github.com/kursadbilgin/alert-relay/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	counterStore, err := infraredis.NewRedisCounterStore(rdb)
	if err != nil {
		logger.Fatal("counter store initialization failed", zap.Error(err))
	}

	gate, err := backpressure.NewGate(counterStore, cfg.MaxQueueDepth, cfg.ResumeThreshold, logger)
	if err != nil {
		logger.Fatal("backpressure gate initialization failed", zap.Error(err))
	}

	eventRepo := repository.NewGormEventRepo(db)
	deliveryRepo := repository.NewGormDeliveryRepo(db)
	ruleSource := rules.NewGormSource(db)

	enqueuer := queue.NewRabbitMQEnqueuer(rabbit)

	submissions, err := service.NewSubmissionService(
		eventRepo,
		deliveryRepo,
		ruleSource,
		gate,
		enqueuer,
		[]byte(cfg.DedupSecret),
		logger,
	)
	if err != nil {
		logger.Fatal("submission service initialization failed", zap.Error(err))
	}
	submissions.SetMetrics(metrics)

	poison, err := deadletter.NewStore(deliveryRepo, metrics, logger)
	if err != nil {
		logger.Fatal("dead-letter store initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	if err := handler.RegisterAlertRoutes(api, submissions, poison); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("alert-relay api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	logger.Info("alert-relay api stopped")
}
