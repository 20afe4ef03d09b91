package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/storefront/services/checkout/config"
	"example.com/storefront/services/checkout/internal/api"
	"example.com/storefront/services/checkout/internal/cache"
	"example.com/storefront/services/checkout/internal/messaging"
	"example.com/storefront/services/checkout/internal/metrics"
	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/repositories"
	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that handles cart, checkout, invoice and notification requests`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize services
	svc := buildServices(cfg, db, readOnlyDB, redisCache, push, tracer)

	// Initialize and start the server
	server := api.NewServer(cfg, svc, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func buildServices(
	cfg config.Config,
	db, readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	push services.PushSender,
	tracer tracing.Tracer,
) api.Services {
	productRepo := repositories.NewProductRepository(db, readOnlyDB, redisCache)
	cartRepo := repositories.NewCartRepository(db, readOnlyDB)
	invoiceRepo := repositories.NewInvoiceRepository(db, readOnlyDB)
	notificationRepo := repositories.NewNotificationRepository(db, readOnlyDB)
	scheduledRepo := repositories.NewScheduledNotificationRepository(db, readOnlyDB)
	tokenRepo := repositories.NewDeviceTokenRepository(db, readOnlyDB)
	accountRepo := repositories.NewAccountRepository(db, readOnlyDB)
	settingsRepo := repositories.NewSettingsRepository(db, readOnlyDB, redisCache)
	checkoutStore := repositories.NewCheckoutStore(db)

	notificationService := services.NewNotificationService(
		notificationRepo, scheduledRepo, tokenRepo, push, tracer,
		cfg.Notifications.PushTimeout)
	cartService := services.NewCartService(productRepo, cartRepo, tracer)
	checkoutService := services.NewCheckoutService(
		productRepo, cartRepo, checkoutStore, notificationService, accountRepo, tracer,
		cfg.Checkout.MaxAllocationAttempts, cfg.Checkout.AllocationBackoff)
	invoiceService := services.NewInvoiceService(invoiceRepo, notificationService, tracer)

	return api.Services{
		Cart:          cartService,
		Checkout:      checkoutService,
		Invoice:       invoiceService,
		Notifications: notificationService,
		Tokens:        tokenRepo,
		Settings:      settingsRepo,
	}
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// TranslateError surfaces unique violations as gorm.ErrDuplicatedKey,
	// which the invoice number allocator relies on to retry.
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure connection pools for both databases
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	readSqlDB, err := readOnlyDB.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying read-only DB connection")
	}

	// Higher limits for the read side
	readSqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns * 2)
	readSqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns * 2)
	readSqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, readOnlyDB, nil
}
