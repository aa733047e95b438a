package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 65536

// HandleStripeWebhook keeps subscription statuses in step with Stripe.
// Only subscription lifecycle events are acted on; everything else is
// acknowledged and dropped.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), s.cfg.StripeWebhookSecret)
	if err != nil {
		s.log.Warn("webhook.signature_invalid", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	switch event.Type {
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			s.log.Warn("webhook.payload_invalid", zap.String("event_type", string(event.Type)), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		status := string(sub.Status)
		if event.Type == "customer.subscription.deleted" {
			status = "canceled"
		}

		if err := s.syncEngine.RefreshSubscriptionStatus(c.Request.Context(), sub.ID, status); err != nil {
			s.log.Error("webhook.refresh_failed",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
			return
		}
	default:
		s.log.Debug("webhook.ignored", zap.String("event_type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
