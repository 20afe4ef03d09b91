package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/api/handlers"
	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/repositories"
	"example.com/storefront/services/checkout/internal/services"
)

// RequestLogger logs each request after it completes
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := log.Info()
		status := c.Writer.Status()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Msg("Request processed")
	}
}

// Identity resolves the caller's identity from the session headers the
// edge proxy sets after authentication. Authentication itself happens
// upstream; this core only consumes its result. Exactly one of the
// account and session headers must be present.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountHeader := c.GetHeader("X-Account-ID")
		sessionHeader := c.GetHeader("X-Session-ID")

		var identity models.Identity
		switch {
		case accountHeader != "":
			accountID, err := uuid.Parse(accountHeader)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"success": false,
					"message": "invalid account id",
				})
				return
			}
			identity = models.AccountIdentity(accountID)
		case sessionHeader != "":
			identity = models.SessionIdentity(sessionHeader)
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing identity",
			})
			return
		}

		actor := services.Actor{
			Identity: identity,
			Admin:    identity.IsAccount() && c.GetHeader("X-Admin-Role") == "admin",
		}
		c.Set(handlers.ContextActor, actor)
		c.Next()
	}
}

// SettingsSnapshot resolves the store settings once per request and
// injects the snapshot; nothing downstream reads settings lazily.
func SettingsSnapshot(settings *repositories.SettingsRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := settings.Snapshot(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to resolve settings snapshot")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "settings unavailable",
			})
			return
		}
		c.Set(handlers.ContextSettings, snapshot)
		c.Next()
	}
}
