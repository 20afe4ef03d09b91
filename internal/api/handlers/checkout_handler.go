package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/checkout/internal/metrics"
	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"
)

// CheckoutHandler handles the checkout endpoint
type CheckoutHandler struct {
	checkout *services.CheckoutService
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout *services.CheckoutService, m *metrics.Metrics, tracer tracing.Tracer) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, metrics: m, tracer: tracer}
}

// CheckoutResponse returns the created invoice number and where the
// storefront should send the user next.
type CheckoutResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	InvoiceNumber string  `json:"invoice_number"`
	TotalAmount   float64 `json:"total_amount"`
	Redirect      string  `json:"redirect"`
}

// HandleCheckout converts the caller's cart into a Draft invoice.
// Retrying after a transient failure is safe: a failed attempt rolls
// the whole transaction back and leaves the cart intact.
func (h *CheckoutHandler) HandleCheckout(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-checkout")
	defer h.tracer.EndTransaction(txn)

	actor, ok := mustActor(c)
	if !ok {
		return
	}
	settings := SettingsFrom(c)

	start := time.Now()
	invoice, err := h.checkout.Checkout(c.Request.Context(), actor.Identity, settings)
	h.metrics.RecordTimer("checkout.duration", time.Since(start))

	if err != nil {
		h.metrics.IncrementCounter("checkout.failed")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	h.metrics.IncrementCounter("checkout.completed")
	h.tracer.AddAttribute(txn, "invoice_number", invoice.InvoiceNumber)

	c.JSON(http.StatusCreated, CheckoutResponse{
		Success:       true,
		Message:       "order placed",
		InvoiceNumber: invoice.InvoiceNumber,
		TotalAmount:   invoice.TotalAmount,
		Redirect:      "/invoices/" + invoice.ID.String(),
	})
}

// RegisterRoutes registers the handler's routes
func (h *CheckoutHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/checkout", h.HandleCheckout)
}
