package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reaction-reminder/internal/config"
	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/gateway"
	"reaction-reminder/internal/handler"
	"reaction-reminder/internal/infra/postgresql"
	"reaction-reminder/internal/infra/postgresql/migrations"
	infraredis "reaction-reminder/internal/infra/redis"
	"reaction-reminder/internal/observability"
	"reaction-reminder/internal/queue"
	"reaction-reminder/internal/repository"
	"reaction-reminder/internal/service"
)

const (
	consumerPrefetch = 8
	shutdownTimeout  = 10 * time.Second
)

func main() {
	// Local development reads .env; deployed environments set real variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("reaction-reminder exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	chatGateway, err := gateway.NewRESTGateway(cfg.ChatAPIBaseURL, cfg.ChatAPIToken)
	if err != nil {
		return fmt.Errorf("chat gateway initialization failed: %w", err)
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.NotifyRatePerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	itemRepo := repository.NewGormWatchedItemRepo(db)
	logRepo := repository.NewGormReminderLogRepo(db)
	settingRepo := repository.NewGormGuildSettingRepo(db)

	bounds := domain.NormalIntervalBounds()
	if cfg.PermissiveIntervals {
		bounds = domain.PermissiveIntervalBounds()
	}

	metrics := observability.NewMetrics()

	events, err := service.NewEventManager(itemRepo, bounds, logger)
	if err != nil {
		return fmt.Errorf("event manager initialization failed: %w", err)
	}

	scheduler, err := service.NewReminderScheduler(
		events,
		settingRepo,
		chatGateway,
		logRepo,
		rateLimiter,
		cfg.CheckConcurrency,
		logger,
	)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}
	scheduler.SetMetrics(metrics)

	aggregator, err := service.NewReactionAggregator(events, logger)
	if err != nil {
		return fmt.Errorf("aggregator initialization failed: %w", err)
	}
	aggregator.SetMetrics(metrics)

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger)

	watchService, err := service.NewWatchService(
		events,
		scheduler,
		chatGateway,
		logRepo,
		settingRepo,
		publisher,
		logger,
	)
	if err != nil {
		return fmt.Errorf("watch service initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "reaction-reminder",
		ErrorHandler:          handler.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", metrics.FiberHandler())
	if err := handler.RegisterWatchRoutes(app, watchService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("reaction consumer started", zap.String("queue", queue.ReactionsQueue))
		return consumer.Consume(groupCtx, queue.ReactionsQueue, aggregator.Apply)
	})

	g.Go(func() error {
		logger.Info("http api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	})

	logger.Info("reaction-reminder started",
		zap.Int("port", cfg.APIPort),
		zap.Bool("permissiveIntervals", cfg.PermissiveIntervals),
		zap.Int("checkConcurrency", cfg.CheckConcurrency),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("reaction-reminder stopped")
	return nil
}
