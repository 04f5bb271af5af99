package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	"github.com/kursadbilgin/alert-relay/internal/config"
	"github.com/kursadbilgin/alert-relay/internal/deadletter"
	"github.com/kursadbilgin/alert-relay/internal/domain"
	"github.com/kursadbilgin/alert-relay/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/alert-relay/internal/infra/redis"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"github.com/kursadbilgin/alert-relay/internal/provider"
	"github.com/kursadbilgin/alert-relay/internal/queue"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"github.com/kursadbilgin/alert-relay/internal/rules"
	"github.com/kursadbilgin/alert-relay/internal/service"
)

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

	limiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.Limits{
		ChannelPerSec:   cfg.ChannelLimitPerSec,
		RecipientPerMin: cfg.RecipientLimitPerMin,
		GlobalPerSec:    cfg.GlobalLimitPerSec,
	})
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	deliveryRepo := repository.NewGormDeliveryRepo(db)
	eventRepo := repository.NewGormEventRepo(db)
	ruleSource := rules.NewGormSource(db)

	poison, err := deadletter.NewStore(deliveryRepo, metrics, logger)
	if err != nil {
		logger.Fatal("dead-letter store initialization failed", zap.Error(err))
	}

	registry, err := buildProviderRegistry(cfg)
	if err != nil {
		logger.Fatal("provider registry initialization failed", zap.Error(err))
	}

	enqueuer := queue.NewRabbitMQEnqueuer(rabbit)

	executor, err := service.NewExecutor(
		deliveryRepo,
		registry,
		limiter,
		gate,
		poison,
		enqueuer,
		[]byte(cfg.DedupSecret),
		logger,
	)
	if err != nil {
		logger.Fatal("executor initialization failed", zap.Error(err))
	}
	executor.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	worker, err := service.NewWorkerService(consumer, executor, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	reconciler, err := service.NewReconciler(
		deliveryRepo,
		eventRepo,
		ruleSource,
		gate,
		poison,
		enqueuer,
		metrics,
		time.Duration(cfg.ReconcileIntervalSeconds)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("alert-relay worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Strings("queues", queue.WorkQueueNames()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		return reconciler.Start(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}

	logger.Info("alert-relay worker stopped")
}

// buildProviderRegistry wires one provider per configured channel. Channels
// without configuration are left unregistered; the executor settles their
// jobs as permanent failures instead of retrying.
func buildProviderRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if err := registry.Register(domain.ChannelWebhook, provider.NewWebhookProvider()); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		smtp, err := provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(domain.ChannelEmail, smtp); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.SMSGatewayURL) != "" {
		sms, err := provider.NewSMSProvider(cfg.SMSGatewayURL, cfg.SMSGatewayKey)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(domain.ChannelSMS, sms); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
