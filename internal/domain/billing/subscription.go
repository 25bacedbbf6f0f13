package billing

import (
	"time"

	"familybook/internal/domain/groups"
	"familybook/internal/domain/users"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription is the recurring charge for one group. At most one active
// row per group; the partial unique index enforces it.
type Subscription struct {
	ID                   string             `gorm:"type:uuid;primaryKey"`
	GroupID              string             `gorm:"type:uuid;not null;index;uniqueIndex:idx_subscriptions_active_group,where:status = 'active'"`
	Group                *groups.Group      `gorm:"foreignKey:GroupID"`
	PayerID              string             `gorm:"type:uuid;not null"`
	Payer                *users.User        `gorm:"foreignKey:PayerID"`
	Status               SubscriptionStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Amount               int64              `gorm:"not null"`
	Currency             string             `gorm:"type:varchar(3);not null"`
	StartDate            time.Time          `gorm:"type:date;not null"`
	NextBillingDate      *time.Time         `gorm:"type:date"`
	EndDate              *time.Time         `gorm:"type:date"`
	GatewayCustomerKey   *string
	GatewayPaymentMethod *string
	CancelReason         *string
	CancelledAt          *time.Time
	RefundAmount         int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SubscriptionActive
	}
	return nil
}

// Billable reports whether the subscription currently entitles the group
// to the service.
func (s Subscription) Billable(today time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	return s.EndDate == nil || !today.After(*s.EndDate)
}

// Due reports whether a recurring charge should run on today.
func (s Subscription) Due(today time.Time) bool {
	return s.Status == SubscriptionActive && s.NextBillingDate != nil && !today.Before(*s.NextBillingDate)
}
