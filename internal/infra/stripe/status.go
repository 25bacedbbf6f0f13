package stripe

import (
	"context"
	"errors"

	"familybook/internal/domain/billing"

	"github.com/stripe/stripe-go/v75"
)

// PaymentStatus folds a PaymentIntent status into the local payment status.
func PaymentStatus(s stripe.PaymentIntentStatus) billing.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return billing.PaymentSuccess
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return billing.PaymentPending
	default:
		// requires_payment_method, canceled
		return billing.PaymentFailed
	}
}

// RefundStatus maps a refund to the cancel outcome. Pending refunds are
// accepted by Stripe and will settle, so they count as success.
func RefundStatus(s stripe.RefundStatus) billing.GatewayStatus {
	switch s {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return billing.GatewaySucceeded
	default:
		return billing.GatewayFailed
	}
}

// A disputed charge is not in this set: the money is held by the dispute,
// not returned, so the refund has failed.
var alreadyCancelledCodes = map[stripe.ErrorCode]bool{
	stripe.ErrorCodeChargeAlreadyRefunded: true,
}

// ClassifyError turns a stripe-go error into a GatewayError with a stable
// code. Deadline and cancellation errors become "timeout".
func ClassifyError(err error) *billing.GatewayError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &billing.GatewayError{Status: billing.GatewayFailed, Code: "timeout", Err: err}
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		code := string(serr.Code)
		if code == "" {
			code = string(serr.Type)
		}
		status := billing.GatewayFailed
		if alreadyCancelledCodes[serr.Code] {
			status = billing.GatewayAlreadyCancelled
		}
		return &billing.GatewayError{Status: status, Code: code, Err: err}
	}
	return &billing.GatewayError{Status: billing.GatewayFailed, Code: "gateway_error", Err: err}
}

// EventPaymentStatus maps the webhook event types we subscribe to.
func EventPaymentStatus(eventType stripe.EventType) (billing.PaymentStatus, bool) {
	switch eventType {
	case "payment_intent.succeeded":
		return billing.PaymentSuccess, true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return billing.PaymentFailed, true
	case "charge.refunded":
		return billing.PaymentRefunded, true
	}
	return "", false
}
