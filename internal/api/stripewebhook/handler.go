package stripewebhooks

import (
	"context"
	"io"
	"net/http"

	"familybook/internal/domain/billing"
	stripegw "familybook/internal/infra/stripe"
	"familybook/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v75/webhook"
)

type EventRecorder interface {
	RecordGatewayEvent(ctx context.Context, transactionID string, status billing.PaymentStatus) error
}

type Handler struct {
	billing        EventRecorder
	endpointSecret string
}

func NewHandler(rec EventRecorder, endpointSecret string) *Handler {
	return &Handler{billing: rec, endpointSecret: endpointSecret}
}

func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.endpointSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, 65536)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		logging.Logger.WithError(err).Warn("❌ Stripe signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}
	log := logging.With(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	status, ok := stripegw.EventPaymentStatus(event.Type)
	if !ok {
		// Acknowledge unknown events to avoid retries
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	txID, err := transactionID(event)
	if err != nil {
		log.WithError(err).Warn("could not parse event object")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse event object"})
		return
	}

	handled, err := h.recordPaymentEvent(c.Request.Context(), log, txID, status)
	if err != nil {
		// 500 makes Stripe retry
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !handled {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
