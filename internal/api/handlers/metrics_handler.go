package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/checkout/internal/metrics"
)

// MetricsHandler exposes the in-process metrics and health endpoints
type MetricsHandler struct {
	metrics *metrics.Metrics
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// HandleHealthCheck returns a simplified health status
func (h *MetricsHandler) HandleHealthCheck(c *gin.Context) {
	checks := h.metrics.HealthChecks()

	healthy := true
	for _, ok := range checks {
		if !ok {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": healthy, "details": checks})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleHealthCheck)
}
