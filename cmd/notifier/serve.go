package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/multichannel-notifier/internal/config"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/handler"
	"github.com/kursadbilgin/multichannel-notifier/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/multichannel-notifier/internal/infra/redis"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/provider"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"github.com/kursadbilgin/multichannel-notifier/internal/service"
	"github.com/kursadbilgin/multichannel-notifier/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAPI       bool
	serveWorker    bool
	serveScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, queue workers and scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveAPI, "api", true, "Serve the HTTP API")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "Consume the notification queues")
	serveCmd.Flags().BoolVar(&serveScheduler, "scheduler", true, "Run the scheduler and retry scanner")
}

type repositories struct {
	notifications  *repository.GormNotificationRepo
	events         *repository.GormEventRepo
	campaigns      *repository.GormCampaignRepo
	campaignEvents *repository.GormCampaignEventRepo
	recipients     *repository.GormCampaignRecipientRepo
	providers      *repository.GormProviderRepo
	bulks          *repository.GormBulkRepo
	merchants      *repository.GormMerchantSettingsRepo
}

func newRepositories(db *gorm.DB) repositories {
	return repositories{
		notifications:  repository.NewGormNotificationRepo(db),
		events:         repository.NewGormEventRepo(db),
		campaigns:      repository.NewGormCampaignRepo(db),
		campaignEvents: repository.NewGormCampaignEventRepo(db),
		recipients:     repository.NewGormCampaignRecipientRepo(db),
		providers:      repository.NewGormProviderRepo(db),
		bulks:          repository.NewGormBulkRepo(db),
		merchants:      repository.NewGormMerchantSettingsRepo(db),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if !serveAPI && !serveWorker && !serveScheduler {
		return fmt.Errorf("nothing to run: enable at least one of --api, --worker, --scheduler")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb)
	if err != nil {
		return err
	}
	checker, err := ratelimit.NewChecker(limiter, logger)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	repos := newRepositories(db)
	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	if cfg.ProvidersFile != "" {
		n, err := syncProviders(ctx, repos.providers, cfg.ProvidersFile)
		if err != nil {
			return err
		}
		logger.Info("providers synced", zap.String("file", cfg.ProvidersFile), zap.Int("count", n))
	}

	expander, err := service.NewBulkExpander(repos.notifications, repos.recipients, logger)
	if err != nil {
		return err
	}
	notifications, err := service.NewNotificationService(repos.notifications, repos.events, publisher, logger)
	if err != nil {
		return err
	}
	notifications.SetMetrics(metrics)
	notifications.SetPublishRetryDelay(cfg.Dispatch.ThrottleDelay)

	campaigns, err := service.NewCampaignService(service.CampaignServiceDeps{
		Campaigns:      repos.campaigns,
		Recipients:     repos.recipients,
		Notifications:  repos.notifications,
		Events:         repos.events,
		CampaignEvents: repos.campaignEvents,
		Expander:       expander,
		Publisher:      publisher,
	}, logger)
	if err != nil {
		return err
	}
	campaigns.SetMetrics(metrics)
	campaigns.SetPublishRetryDelay(cfg.Dispatch.ThrottleDelay)

	bulks, err := service.NewBulkService(service.BulkServiceDeps{
		Bulks:         repos.bulks,
		Notifications: repos.notifications,
		Events:        repos.events,
		Expander:      expander,
		Limits:        checker,
	}, cfg.Limits.BulkOperationPerHour, logger)
	if err != nil {
		return err
	}
	bulks.SetMetrics(metrics)

	g, gctx := errgroup.WithContext(ctx)

	if serveWorker {
		worker, err := newWorker(cfg, logger, metrics, repos, rabbit, checker)
		if err != nil {
			return err
		}
		g.Go(func() error {
			logger.Info("queue workers started", zap.Int("concurrency", cfg.Worker.Concurrency))
			return worker.Start(gctx)
		})
	}

	if serveScheduler {
		scheduler, err := service.NewScheduler(service.SchedulerDeps{
			Notifications: repos.notifications,
			Events:        repos.events,
			Campaigns:     repos.campaigns,
			Bulks:         repos.bulks,
			CampaignRuns:  campaigns,
			BulkRuns:      bulks,
			Publisher:     publisher,
		}, service.SchedulerConfig{
			Interval:          cfg.Scheduler.PollInterval,
			BatchSize:         cfg.Scheduler.BatchSize,
			ProcessingTimeout: cfg.Scheduler.ProcessingTimeout,
			StalePendingAfter: cfg.Scheduler.StalePendingAfter,
			RepublishDelay:    cfg.Dispatch.ThrottleDelay,
		}, logger)
		if err != nil {
			return err
		}
		scheduler.SetMetrics(metrics)

		retries, err := service.NewRetryScanner(repos.notifications, repos.events,
			cfg.Scheduler.RetryScanInterval, cfg.Scheduler.BatchSize, logger)
		if err != nil {
			return err
		}

		g.Go(func() error { return scheduler.Start(gctx) })
		g.Go(func() error { return retries.Start(gctx) })
	}

	if serveAPI {
		app := fiber.New(fiber.Config{
			AppName:               "notifier",
			DisableStartupMessage: true,
			ErrorHandler:          transport.ErrorHandler(logger),
		})
		app.Use(recover.New())
		app.Use(requestid.New())
		app.Use(metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
		handler.RegisterHealthRoutes(app, handler.HealthDeps{DB: sqlDB, Redis: rdb, Broker: rabbit})

		if err := handler.RegisterRoutes(app, handler.RouteDeps{
			Notifications: notifications,
			Campaigns:     campaigns,
			Bulks:         bulks,
			Providers:     repos.providers,
			Merchants:     repos.merchants,
			Limits:        checker,
			APIKeyPerHour: cfg.Limits.APIKeyPerHour,
		}); err != nil {
			return err
		}

		g.Go(func() error {
			logger.Info("notifier api started", zap.Int("port", cfg.APIPort))
			if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.ShutdownWithTimeout(shutdownTimeout)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("notifier stopped")
	return nil
}

func newWorker(
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
	repos repositories,
	rabbit *queue.RabbitMQ,
	checker *ratelimit.Checker,
) (*service.WorkerService, error) {
	router, err := service.NewProviderRouter(repos.providers, repos.merchants, logger)
	if err != nil {
		return nil, err
	}
	registry := provider.NewDefaultRegistry(
		provider.WithWebhookTimeout(cfg.Dispatch.SendTimeout),
		provider.WithLogSink(func(n domain.Notification, messageID string) {
			logger.Info("log provider accepted notification",
				zap.String("notificationId", n.ID),
				zap.String("channel", n.Channel.String()),
				zap.String("providerMessageId", messageID),
			)
		}),
	)

	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Notifications: repos.notifications,
		Events:        repos.events,
		Merchants:     repos.merchants,
		Router:        router,
		Providers:     registry,
		Limits:        checker,
	}, service.DispatcherConfig{
		ThrottleDelay:  cfg.Dispatch.ThrottleDelay,
		RetryBaseDelay: cfg.Dispatch.RetryBaseDelay,
		SendTimeout:    cfg.Dispatch.SendTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	dispatcher.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.Worker.Prefetch, logger)
	consumer.SetOutcomeHook(func(queueName string, outcome queue.Outcome) {
		metrics.IncQueueDelivery(queueName, string(outcome))
	})
	worker, err := service.NewWorkerService(consumer, dispatcher, cfg.Worker.Concurrency, logger)
	if err != nil {
		return nil, err
	}
	worker.SetMetrics(metrics)
	return worker, nil
}
