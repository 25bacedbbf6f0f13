package billing

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentPending  PaymentStatus = "pending"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment is one billing attempt. Rows are append-only; only the status
// and the refund markers change after the gateway has answered.
type Payment struct {
	ID             string        `gorm:"type:uuid;primaryKey"`
	SubscriptionID string        `gorm:"type:uuid;not null;index"`
	Subscription   *Subscription `gorm:"foreignKey:SubscriptionID"`
	TransactionID  *string       `gorm:"uniqueIndex:idx_payments_transaction_id"`
	IdempotencyKey string        `gorm:"not null;uniqueIndex:idx_payments_idempotency_key"`
	Amount         int64         `gorm:"not null"`
	Currency       string        `gorm:"type:varchar(3);not null"`
	Status         PaymentStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	FailureReason  *string
	PaidAt         *time.Time
	RefundedAt     *time.Time
	RefundAmount   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PaymentPending
	}
	return nil
}

func ChargeKey(subscriptionID string, billingDate time.Time) string {
	return "charge-" + subscriptionID + "-" + billingDate.Format("20060102")
}

// MaxChargeAttempts is how many declined attempts one billing period gets
// before the subscription expires.
const MaxChargeAttempts = 3

// ChargeAttemptKey is the idempotency key of the n-th attempt (1-based) to
// bill a period. The first attempt uses the plain ChargeKey.
func ChargeAttemptKey(subscriptionID string, billingDate time.Time, attempt int) string {
	key := ChargeKey(subscriptionID, billingDate)
	if attempt <= 1 {
		return key
	}
	return key + "-" + strconv.Itoa(attempt)
}

func CancelKey(paymentID string) string {
	return "cancel-" + paymentID
}
