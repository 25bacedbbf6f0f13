package groups

import (
	"time"

	"familybook/internal/domain/users"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

const (
	RoleLeader = "leader"
	RoleMember = "member"
)

// Allowed deadline cadences, in days.
var Cadences = []int{14, 28}

type Group struct {
	ID          string      `gorm:"type:uuid;primaryKey"`
	Name        string      `gorm:"not null"`
	LeaderID    string      `gorm:"type:uuid;not null;index"`
	Leader      *users.User `gorm:"foreignKey:LeaderID"`
	CadenceDays int         `gorm:"not null;default:14"`
	Status      Status      `gorm:"type:varchar(20);not null;default:'active'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = StatusActive
	}
	return nil
}

func ValidCadence(days int) bool {
	for _, c := range Cadences {
		if c == days {
			return true
		}
	}
	return false
}

type Member struct {
	ID           string      `gorm:"type:uuid;primaryKey"`
	GroupID      string      `gorm:"type:uuid;not null;uniqueIndex:idx_members_group_user"`
	Group        *Group      `gorm:"foreignKey:GroupID"`
	UserID       string      `gorm:"type:uuid;not null;uniqueIndex:idx_members_group_user"`
	User         *users.User `gorm:"foreignKey:UserID"`
	Role         string      `gorm:"type:varchar(20);not null;default:'member'"`
	Relationship string      `gorm:"type:varchar(40)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Role == "" {
		m.Role = RoleMember
	}
	return nil
}

func (m Member) IsLeader() bool { return m.Role == RoleLeader }

type Recipient struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	GroupID       string `gorm:"type:uuid;not null;uniqueIndex:idx_recipients_group"`
	Group         *Group `gorm:"foreignKey:GroupID"`
	Name          string `gorm:"not null"`
	Phone         string
	PostalCode    string
	AddressLine   string
	AddressDetail string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Recipient) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
