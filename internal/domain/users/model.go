package users

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

type User struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	Name             string
	Email            string  `gorm:"not null;uniqueIndex:idx_users_email"`
	Role             string  `gorm:"type:varchar(20);not null;default:'user'"`
	StripeCustomerID *string `gorm:"column:stripe_customer_id;uniqueIndex:idx_users_stripe_customer_id"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// Caller is the authenticated principal behind a request or job.
type Caller struct {
	UserID string
	Role   string
}

func (c Caller) IsAdmin() bool  { return c.Role == RoleAdmin }
func (c Caller) IsSystem() bool { return c.Role == RoleSystem }

// SystemCaller is used by the scheduler.
var SystemCaller = Caller{Role: RoleSystem}
