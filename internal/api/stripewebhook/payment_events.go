package stripewebhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"familybook/internal/apperr"
	"familybook/internal/domain/billing"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v75"
)

// transactionID pulls the payment intent id out of the event object. For
// refunds the object is a charge pointing at its intent.
func transactionID(event stripe.Event) (string, error) {
	if event.Type == "charge.refunded" {
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return "", err
		}
		if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
			return "", fmt.Errorf("charge %s has no payment intent", ch.ID)
		}
		return ch.PaymentIntent.ID, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", err
	}
	if pi.ID == "" {
		return "", fmt.Errorf("payment intent without id")
	}
	return pi.ID, nil
}

// recordPaymentEvent reports false for payments this service never created.
func (h *Handler) recordPaymentEvent(ctx context.Context, log *logrus.Entry, txID string, status billing.PaymentStatus) (bool, error) {
	err := h.billing.RecordGatewayEvent(ctx, txID, status)
	if apperr.IsKind(err, apperr.KindNotFound) {
		log.WithField("transaction_id", txID).Debug("event for unknown payment")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
