package billing

// CancelStatus is the payment_cancel_status reported to callers.
type CancelStatus string

const (
	CancelSucceeded        CancelStatus = "success"
	CancelAlreadyCancelled CancelStatus = "already_cancelled"
	CancelFailed           CancelStatus = "failed"
	CancelNoPayment        CancelStatus = "no_payment"
)

const ReasonNoActiveSubscription = "no_active_subscription"

// CancelReport keeps what the gateway confirmed apart from what was
// committed locally, so "gateway cancelled, local update failed" is
// representable.
type CancelReport struct {
	Cancelled           bool         `json:"cancelled"`
	Reason              string       `json:"reason,omitempty"`
	SubscriptionID      string       `json:"subscription_id,omitempty"`
	PaymentCancelStatus CancelStatus `json:"payment_cancel_status,omitempty"`
	RefundAmount        int64        `json:"refund_amount"`
	Error               string       `json:"error,omitempty"`

	GatewayCalled    bool   `json:"gateway_called"`
	GatewayConfirmed bool   `json:"gateway_confirmed"`
	GatewayCode      string `json:"gateway_code,omitempty"`
	LocalCommitted   bool   `json:"local_committed"`
	LocalError       string `json:"local_error,omitempty"`
}

// ChargeReport summarises one ChargeDue run.
type ChargeReport struct {
	Due       int `json:"due"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
