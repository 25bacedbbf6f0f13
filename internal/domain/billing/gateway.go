package billing

// GatewayStatus is the gateway's answer to a cancel/refund request.
type GatewayStatus string

const (
	GatewaySucceeded        GatewayStatus = "success"
	GatewayAlreadyCancelled GatewayStatus = "already_cancelled"
	GatewayFailed           GatewayStatus = "failed"
)

type ChargeRequest struct {
	SubscriptionID string
	CustomerKey    string
	PaymentMethod  string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type ChargeResult struct {
	TransactionID string
	Status        PaymentStatus
	Code          string
}

type CancelRequest struct {
	TransactionID  string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

type CancelResult struct {
	Status       GatewayStatus
	Code         string
	RefundAmount int64
}

// GatewayError is a gateway failure carrying the gateway's stable code.
type GatewayError struct {
	Status GatewayStatus
	Code   string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return "gateway " + e.Code + ": " + e.Err.Error()
	}
	return "gateway " + e.Code
}

func (e *GatewayError) Unwrap() error { return e.Err }
