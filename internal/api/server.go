package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/config"
	"example.com/storefront/services/checkout/internal/api/handlers"
	"example.com/storefront/services/checkout/internal/metrics"
	"example.com/storefront/services/checkout/internal/repositories"
	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"
)

// Services bundles the service layer handed to the HTTP surface
type Services struct {
	Cart          *services.CartService
	Checkout      *services.CheckoutService
	Invoice       *services.InvoiceService
	Notifications *services.NotificationService
	Tokens        services.DeviceTokenStore
	Settings      *repositories.SettingsRepository
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	svc        Services
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, svc Services, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:  cfg,
		svc:     svc,
		metrics: m,
		tracer:  tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(router)

	// Everything below requires a resolved caller identity.
	authed := router.Group("/")
	authed.Use(Identity())
	authed.Use(SettingsSnapshot(s.svc.Settings))

	cartHandler := handlers.NewCartHandler(s.svc.Cart, s.metrics, s.tracer)
	cartHandler.RegisterRoutes(authed)

	checkoutHandler := handlers.NewCheckoutHandler(s.svc.Checkout, s.metrics, s.tracer)
	checkoutHandler.RegisterRoutes(authed)

	invoiceHandler := handlers.NewInvoiceHandler(s.svc.Invoice, s.svc.Notifications, s.tracer)
	invoiceHandler.RegisterRoutes(authed)

	notificationHandler := handlers.NewNotificationHandler(s.svc.Notifications, s.svc.Tokens, s.tracer)
	notificationHandler.RegisterRoutes(authed)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}
	return nil
}
