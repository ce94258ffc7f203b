package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settlr/fraud-service/internal/idgen"
	"github.com/settlr/fraud-service/internal/logging"
	"github.com/settlr/fraud-service/internal/security"
	"github.com/settlr/fraud-service/internal/webhooks"
)

// requireAdmin protects webhook subscription management. When an admin
// secret is configured the X-Admin-Secret header must match; without one,
// management is open in development and closed in production.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.WebhookAdminSecret
		if secret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "webhook management requires WEBHOOK_ADMIN_SECRET in production",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

var validEventTypes = map[webhooks.EventType]bool{
	webhooks.EventDecisionAllowed: true,
	webhooks.EventDecisionReview:  true,
	webhooks.EventDecisionBlocked: true,
}

// createWebhookHandler handles POST /v1/webhooks
func (s *Server) createWebhookHandler(c *gin.Context) {
	var req struct {
		URL    string               `json:"url" binding:"required"`
		Secret string               `json:"secret" binding:"required"`
		Events []webhooks.EventType `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "url, secret, and events are required",
		})
		return
	}

	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	for _, ev := range req.Events {
		if !validEventTypes[ev] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event_type",
				"message": "unknown event type: " + string(ev),
			})
			return
		}
	}

	sub := &webhooks.Subscription{
		ID:        idgen.WithPrefix("wh"),
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.webhooks.Store().Create(c.Request.Context(), sub); err != nil {
		logging.L(c.Request.Context()).Error("webhook create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"webhook": sub})
}

// listWebhooksHandler handles GET /v1/webhooks
func (s *Server) listWebhooksHandler(c *gin.Context) {
	subs, err := s.webhooks.Store().List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("webhook list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// getWebhookHandler handles GET /v1/webhooks/:id
func (s *Server) getWebhookHandler(c *gin.Context) {
	sub, err := s.webhooks.Store().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		logging.L(c.Request.Context()).Error("webhook lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no webhook with that ID",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": sub})
}

// deleteWebhookHandler handles DELETE /v1/webhooks/:id
func (s *Server) deleteWebhookHandler(c *gin.Context) {
	if err := s.webhooks.Store().Delete(c.Request.Context(), c.Param("id")); err != nil {
		logging.L(c.Request.Context()).Error("webhook delete failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
