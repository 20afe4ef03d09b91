package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/storefront/services/checkout/internal/services"
	"example.com/storefront/services/checkout/internal/tracing"
)

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	notifications *services.NotificationService
	tokens        services.DeviceTokenStore
	tracer        tracing.Tracer
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications *services.NotificationService, tokens services.DeviceTokenStore, tracer tracing.Tracer) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, tokens: tokens, tracer: tracer}
}

// RegisterTokenRequest carries a push delivery address
type RegisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// ScheduleRequest describes a deferred notification
type ScheduleRequest struct {
	Title        string      `json:"title" binding:"required"`
	Message      string      `json:"message" binding:"required"`
	ScheduledFor time.Time   `json:"scheduled_for" binding:"required"`
	RecipientIDs []uuid.UUID `json:"recipient_ids" binding:"required,min=1"`
}

// UpdateScheduleRequest carries partial edits to a Pending item
type UpdateScheduleRequest struct {
	Title        string      `json:"title"`
	Message      string      `json:"message"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	RecipientIDs []uuid.UUID `json:"recipient_ids"`
}

// HandleListNotifications returns the caller's durable records
func (h *NotificationHandler) HandleListNotifications(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if actor.Identity.AccountID == nil {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "notifications require an account"})
		return
	}

	records, err := h.notifications.ListForRecipient(c.Request.Context(), *actor.Identity.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notifications": records})
}

// HandleRegisterToken stores a push delivery address for the caller
func (h *NotificationHandler) HandleRegisterToken(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if actor.Identity.AccountID == nil {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "device tokens require an account"})
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := h.tokens.Register(c.Request.Context(), *actor.Identity.AccountID, req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// HandleRemoveToken removes a push delivery address
func (h *NotificationHandler) HandleRemoveToken(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if actor.Identity.AccountID == nil {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "device tokens require an account"})
		return
	}

	if err := h.tokens.Remove(c.Request.Context(), *actor.Identity.AccountID, c.Param("token")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleSchedule creates a Pending deferred notification (admin only)
func (h *NotificationHandler) HandleSchedule(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-schedule-notification")
	defer h.tracer.EndTransaction(txn)

	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Admin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "admin required"})
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	item, err := h.notifications.Schedule(c.Request.Context(), services.ScheduleInput{
		Title:        req.Title,
		Message:      req.Message,
		ScheduledFor: req.ScheduledFor,
		RecipientIDs: req.RecipientIDs,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "scheduled_notification": item})
}

// HandleUpdateSchedule edits a Pending deferred notification (admin only)
func (h *NotificationHandler) HandleUpdateSchedule(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Admin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "admin required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return
	}

	var req UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	item, err := h.notifications.UpdateSchedule(c.Request.Context(), id, services.ScheduleInput{
		Title:        req.Title,
		Message:      req.Message,
		ScheduledFor: req.ScheduledFor,
		RecipientIDs: req.RecipientIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "scheduled_notification": item})
}

// HandleCancelSchedule cancels a Pending deferred notification (admin only)
func (h *NotificationHandler) HandleCancelSchedule(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Admin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "admin required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return
	}

	if err := h.notifications.CancelSchedule(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "scheduled notification cancelled"})
}

// RegisterRoutes registers the handler's routes
func (h *NotificationHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/notifications", h.HandleListNotifications)
	router.POST("/device-tokens", h.HandleRegisterToken)
	router.DELETE("/device-tokens/:token", h.HandleRemoveToken)
	router.POST("/scheduled-notifications", h.HandleSchedule)
	router.PATCH("/scheduled-notifications/:id", h.HandleUpdateSchedule)
	router.POST("/scheduled-notifications/:id/cancel", h.HandleCancelSchedule)
}
