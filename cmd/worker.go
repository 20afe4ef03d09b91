package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/storefront/services/checkout/config"
	"example.com/storefront/services/checkout/internal/cache"
	"example.com/storefront/services/checkout/internal/messaging"
	"example.com/storefront/services/checkout/internal/repositories"
	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that dispatches due scheduled notifications and reconciles stock flags`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize push sender
	var push services.PushSender
	pushSender, err := messaging.NewServiceBusPushSender(cfg.Azure)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize push sender, notifications will be database-only")
	} else {
		push = pushSender
		defer pushSender.Close()
	}

	productRepo := repositories.NewProductRepository(db, readOnlyDB, redisCache)
	notificationRepo := repositories.NewNotificationRepository(db, readOnlyDB)
	scheduledRepo := repositories.NewScheduledNotificationRepository(db, readOnlyDB)
	tokenRepo := repositories.NewDeviceTokenRepository(db, readOnlyDB)

	notificationService := services.NewNotificationService(
		notificationRepo, scheduledRepo, tokenRepo, push, tracer,
		cfg.Notifications.PushTimeout)

	// Run the periodic sweeps on a shared scheduler
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Dispatch scheduled notifications that have come due
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Notifications.SweepInterval),
			gocron.NewTask(func() {
				if err := notificationService.ProcessDue(ctx, cfg.Notifications.SweepBatch); err != nil {
					log.Error().Err(err).Msg("Failed to process due scheduled notifications")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Realign the denormalized in_stock flag with live quantities
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Notifications.SweepInterval),
			gocron.NewTask(func() {
				fixed, err := productRepo.ReconcileStockFlags(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to reconcile stock flags")
					return
				}
				if fixed > 0 {
					log.Info().Int64("products", fixed).Msg("Reconciled stale stock flags")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		log.Info().Dur("interval", cfg.Notifications.SweepInterval).Msg("Worker sweeps started")

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
