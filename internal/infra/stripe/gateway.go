// Package stripe implements the payment gateway on Stripe: off-session
// PaymentIntents for recurring charges and Refunds for cancellation.
package stripe

import (
	"context"

	"familybook/internal/domain/billing"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
)

type Gateway struct {
	api *client.API
}

func New(secretKey string) *Gateway {
	return &Gateway{api: client.New(secretKey, nil)}
}

// NewWithBackends is used to point the client at a different API host.
func NewWithBackends(secretKey string, backends *stripe.Backends) *Gateway {
	return &Gateway{api: client.New(secretKey, backends)}
}

func (g *Gateway) Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerKey),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("subscription_id", req.SubscriptionID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		gerr := ClassifyError(err)
		res := billing.ChargeResult{Status: billing.PaymentFailed, Code: gerr.Code}
		if serr, ok := gerr.Err.(*stripe.Error); ok && serr.PaymentIntent != nil {
			res.TransactionID = serr.PaymentIntent.ID
		}
		return res, gerr
	}
	return billing.ChargeResult{TransactionID: pi.ID, Status: PaymentStatus(pi.Status)}, nil
}

// Cancel refunds the charge behind a PaymentIntent.
func (g *Gateway) Cancel(ctx context.Context, req billing.CancelRequest) (billing.CancelResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		gerr := ClassifyError(err)
		if gerr.Status == billing.GatewayAlreadyCancelled {
			return billing.CancelResult{Status: billing.GatewayAlreadyCancelled, Code: gerr.Code}, nil
		}
		return billing.CancelResult{Status: billing.GatewayFailed, Code: gerr.Code}, gerr
	}

	status := RefundStatus(r.Status)
	res := billing.CancelResult{Status: status, RefundAmount: r.Amount, Code: string(r.Status)}
	if status == billing.GatewayFailed {
		return res, &billing.GatewayError{Status: status, Code: "refund_" + string(r.Status)}
	}
	return res, nil
}
