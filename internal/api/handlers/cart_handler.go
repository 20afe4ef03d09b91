package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/metrics"
	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"
)

// CartHandler handles cart HTTP requests
type CartHandler struct {
	cart    *services.CartService
	metrics *metrics.Metrics
	tracer  tracing.Tracer
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cart *services.CartService, m *metrics.Metrics, tracer tracing.Tracer) *CartHandler {
	return &CartHandler{cart: cart, metrics: m, tracer: tracer}
}

// AddToCartRequest is the add-or-update payload
type AddToCartRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

// MergeCartRequest identifies the anonymous cart to fold in
type MergeCartRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// CartResponse is the envelope every cart mutation returns
type CartResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	CartCount int         `json:"cart_count"`
	CartTotal float64     `json:"cart_total"`
	Line      interface{} `json:"line,omitempty"`
}

// HandleAddToCart adds or replaces a cart line
func (h *CartHandler) HandleAddToCart(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-cart-add")
	defer h.tracer.EndTransaction(txn)

	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	line, err := h.cart.AddOrUpdate(c.Request.Context(), actor.Identity, req.ProductID, req.Quantity)
	if err != nil {
		h.metrics.IncrementCounter("cart.add.rejected")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	h.metrics.IncrementCounter("cart.add.accepted")

	h.respondWithCart(c, actor, http.StatusOK, "item added to cart", line)
}

// HandleRemoveFromCart deletes a cart line
func (h *CartHandler) HandleRemoveFromCart(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid cart line id"})
		return
	}

	if err := h.cart.Remove(c.Request.Context(), actor.Identity, lineID); err != nil {
		respondError(c, err)
		return
	}

	h.respondWithCart(c, actor, http.StatusOK, "item removed from cart", nil)
}

// HandleGetCart lists the cart
func (h *CartHandler) HandleGetCart(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	lines, err := h.cart.Lines(c.Request.Context(), actor.Identity)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := h.cart.Total(c.Request.Context(), actor.Identity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"cart_count": len(lines),
		"cart_total": total,
		"lines":      lines,
	})
}

// HandleMergeCart folds an anonymous cart into the caller's account
func (h *CartHandler) HandleMergeCart(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-cart-merge")
	defer h.tracer.EndTransaction(txn)

	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Identity.IsAccount() {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "merge requires an authenticated account"})
		return
	}

	var req MergeCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	err := h.cart.MergeAnonymousIntoAccount(c.Request.Context(), req.SessionID, *actor.Identity.AccountID)
	if err != nil {
		log.Error().Err(err).Msg("Cart merge failed")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	h.respondWithCart(c, actor, http.StatusOK, "carts merged", nil)
}

func (h *CartHandler) respondWithCart(c *gin.Context, actor services.Actor, status int, message string, line interface{}) {
	count, err := h.cart.Count(c.Request.Context(), actor.Identity)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := h.cart.Total(c.Request.Context(), actor.Identity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(status, CartResponse{
		Success:   true,
		Message:   message,
		CartCount: count,
		CartTotal: total,
		Line:      line,
	})
}

// RegisterRoutes registers the handler's routes
func (h *CartHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/cart/items", h.HandleAddToCart)
	router.DELETE("/cart/items/:id", h.HandleRemoveFromCart)
	router.GET("/cart", h.HandleGetCart)
	router.POST("/cart/merge", h.HandleMergeCart)
}
