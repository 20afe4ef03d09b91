package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/services"
)

// Context keys shared with the middleware chain
const (
	ContextActor    = "actor"
	ContextSettings = "settings"
)

// ActorFrom returns the request actor set by the identity middleware
func ActorFrom(c *gin.Context) (services.Actor, bool) {
	value, exists := c.Get(ContextActor)
	if !exists {
		return services.Actor{}, false
	}
	actor, ok := value.(services.Actor)
	return actor, ok
}

// SettingsFrom returns the request's settings snapshot
func SettingsFrom(c *gin.Context) models.SettingsSnapshot {
	value, exists := c.Get(ContextSettings)
	if !exists {
		return models.SettingsSnapshot{}
	}
	snapshot, _ := value.(models.SettingsSnapshot)
	return snapshot
}

// mustActor aborts with 401 when no identity was resolved
func mustActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing identity"})
	}
	return actor, ok
}

// respondError maps domain errors to status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case services.IsValidationError(err), errors.Is(err, services.ErrCartEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrOutOfStock),
		errors.Is(err, services.ErrInvoiceLocked),
		errors.Is(err, services.ErrNotEditable):
		status = http.StatusConflict
	case errors.Is(err, services.ErrAllocationExhausted):
		// Fatal after the retry ceiling; never downgraded.
		status = http.StatusInternalServerError
	}

	c.JSON(status, gin.H{"success": false, "message": err.Error()})
}
