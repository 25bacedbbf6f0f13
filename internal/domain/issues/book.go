package issues

import (
	"fmt"
	"time"

	"familybook/internal/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Production and delivery are two independent tracks on a book.

type ProductionStatus string

const (
	ProductionPending   ProductionStatus = "pending"
	ProductionCompleted ProductionStatus = "completed"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryShipping  DeliveryStatus = "shipping"
	DeliveryDelivered DeliveryStatus = "delivered"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch DeliveryStatus(s) {
	case DeliveryPending, DeliveryShipping, DeliveryDelivered:
		return DeliveryStatus(s), nil
	}
	return "", apperr.Validation("invalid_delivery_status", fmt.Sprintf("unknown delivery status %q", s))
}

type Book struct {
	ID                    string           `gorm:"type:uuid;primaryKey"`
	IssueID               string           `gorm:"type:uuid;not null;uniqueIndex:idx_books_issue"`
	Issue                 *Issue           `gorm:"foreignKey:IssueID"`
	ProductionStatus      ProductionStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	DeliveryStatus        DeliveryStatus   `gorm:"type:varchar(20);not null;default:'pending'"`
	AssetRef              *string
	ProductionRequestedAt *time.Time
	ProductionCompletedAt *time.Time
	ShippedAt             *time.Time
	DeliveredAt           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.ProductionStatus == "" {
		b.ProductionStatus = ProductionPending
	}
	if b.DeliveryStatus == "" {
		b.DeliveryStatus = DeliveryPending
	}
	return nil
}

// Outstanding reports whether the book is still in production or on its
// way to the recipient. Outstanding books block group deletion.
func (b Book) Outstanding() bool {
	return b.ProductionStatus == ProductionPending ||
		b.DeliveryStatus == DeliveryPending ||
		b.DeliveryStatus == DeliveryShipping
}

// CheckProduction validates pending → completed. Completing an already
// completed book is a no-op.
func (b Book) CheckProduction() (already bool) {
	return b.ProductionStatus == ProductionCompleted
}

// CheckDelivery validates a delivery step. Requesting the current state is
// a no-op; skipping shipping or going backwards is refused.
func (b Book) CheckDelivery(next DeliveryStatus) (already bool, err error) {
	if b.DeliveryStatus == next {
		return true, nil
	}
	switch {
	case b.DeliveryStatus == DeliveryPending && next == DeliveryShipping:
		if b.ProductionStatus != ProductionCompleted {
			return false, apperr.Precondition("production_pending", "book production must complete before shipping")
		}
		return false, nil
	case b.DeliveryStatus == DeliveryShipping && next == DeliveryDelivered:
		return false, nil
	}
	return false, apperr.Precondition("invalid_delivery_transition",
		fmt.Sprintf("cannot move delivery from %s to %s", b.DeliveryStatus, next))
}
