package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"
)

// InvoiceHandler handles invoice HTTP requests
type InvoiceHandler struct {
	invoices      *services.InvoiceService
	notifications *services.NotificationService
	tracer        tracing.Tracer
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(invoices *services.InvoiceService, notifications *services.NotificationService, tracer tracing.Tracer) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, notifications: notifications, tracer: tracer}
}

// ChangeStatusRequest carries the target status
type ChangeStatusRequest struct {
	Status models.InvoiceStatus `json:"status" binding:"required"`
}

// UpdateNotesRequest carries the replacement notes
type UpdateNotesRequest struct {
	Notes string `json:"notes"`
}

// HandleListInvoices lists the actor's invoices
func (h *InvoiceHandler) HandleListInvoices(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	invoices, err := h.invoices.List(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invoices": invoices})
}

// HandleGetInvoice returns one invoice and clears the viewer's
// notifications that reference it. The clear is an explicit call, not
// a side effect buried in the read path.
func (h *InvoiceHandler) HandleGetInvoice(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid invoice id"})
		return
	}

	invoice, err := h.invoices.Get(c.Request.Context(), actor, invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	if actor.Identity.AccountID != nil {
		cleared, err := h.notifications.MarkAndClearForInvoice(c.Request.Context(), *actor.Identity.AccountID, invoiceID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to clear invoice notifications")
		} else if cleared > 0 {
			log.Debug().Int64("cleared", cleared).Msg("Cleared invoice notifications on view")
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "invoice": invoice})
}

// HandleChangeStatus moves an invoice to another status (admin only)
func (h *InvoiceHandler) HandleChangeStatus(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-invoice-status")
	defer h.tracer.EndTransaction(txn)

	actor, ok := mustActor(c)
	if !ok {
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid invoice id"})
		return
	}

	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := h.invoices.ChangeStatus(c.Request.Context(), actor, invoiceID, req.Status); err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": req.Status})
}

// HandleUpdateNotes edits the invoice notes
func (h *InvoiceHandler) HandleUpdateNotes(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid invoice id"})
		return
	}

	var req UpdateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := h.invoices.UpdateNotes(c.Request.Context(), actor, invoiceID, req.Notes); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleRemoveItem deletes one line item and returns the recomputed total
func (h *InvoiceHandler) HandleRemoveItem(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-invoice-remove-item")
	defer h.tracer.EndTransaction(txn)

	actor, ok := mustActor(c)
	if !ok {
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid invoice id"})
		return
	}
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid item id"})
		return
	}

	total, err := h.invoices.RemoveItem(c.Request.Context(), actor, invoiceID, itemID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "total_amount": total})
}

// HandleDeleteInvoice deletes an invoice
func (h *InvoiceHandler) HandleDeleteInvoice(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid invoice id"})
		return
	}

	if err := h.invoices.Delete(c.Request.Context(), actor, invoiceID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "invoice deleted"})
}

// RegisterRoutes registers the handler's routes
func (h *InvoiceHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/invoices", h.HandleListInvoices)
	router.GET("/invoices/:id", h.HandleGetInvoice)
	router.PATCH("/invoices/:id/status", h.HandleChangeStatus)
	router.PATCH("/invoices/:id/notes", h.HandleUpdateNotes)
	router.DELETE("/invoices/:id/items/:itemId", h.HandleRemoveItem)
	router.DELETE("/invoices/:id", h.HandleDeleteInvoice)
}
