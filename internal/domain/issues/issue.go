// Package issues holds the issue, book and post models together with the
// pure transition rules of the issue lifecycle. Nothing here touches the
// database; the lifecycle service applies these rules inside transactions.
package issues

import (
	"time"

	"familybook/internal/apperr"
	"familybook/internal/domain/groups"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusPublished Status = "published"
)

// WarningLeadDays is how many days before the deadline the warning goes out.
const WarningLeadDays = 7

type Issue struct {
	ID            string        `gorm:"type:uuid;primaryKey"`
	GroupID       string        `gorm:"type:uuid;not null;uniqueIndex:idx_issues_group_number"`
	Group         *groups.Group `gorm:"foreignKey:GroupID"`
	IssueNumber   int           `gorm:"not null;uniqueIndex:idx_issues_group_number"`
	DeadlineDate  time.Time     `gorm:"type:date;not null"`
	Status        Status        `gorm:"type:varchar(20);not null;default:'open';index"`
	ClosedAt      *time.Time
	PublishedAt   *time.Time
	WarningSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = StatusOpen
	}
	return nil
}

// DateOf truncates t to its calendar date (in t's own location) and
// returns it as UTC midnight, the form deadlines are stored in.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// First returns issue #1 for a freshly created group.
func First(groupID string, today time.Time, cadenceDays int) Issue {
	return Issue{
		GroupID:      groupID,
		IssueNumber:  1,
		DeadlineDate: DateOf(today).AddDate(0, 0, cadenceDays),
		Status:       StatusOpen,
	}
}

func (i Issue) IsOpen() bool { return i.Status == StatusOpen }

// AcceptsPosts is the write-time gate for post mutations.
func (i Issue) AcceptsPosts() bool {
	return i.Status == StatusOpen && i.ClosedAt == nil
}

func (i Issue) DeadlineReached(today time.Time) bool {
	return !DateOf(today).Before(DateOf(i.DeadlineDate))
}

func (i Issue) WarningDue(today time.Time) bool {
	return DateOf(today).Equal(DateOf(i.DeadlineDate).AddDate(0, 0, -WarningLeadDays))
}

// Successor is the issue opened in the same step that closes i.
func (i Issue) Successor(closedAt time.Time, cadenceDays int) Issue {
	return Issue{
		GroupID:      i.GroupID,
		IssueNumber:  i.IssueNumber + 1,
		DeadlineDate: DateOf(closedAt).AddDate(0, 0, cadenceDays),
		Status:       StatusOpen,
	}
}

// CheckPublish validates open/closed → published. A nil error with
// already=true means the issue is published and nothing should change.
func (i Issue) CheckPublish(book *Book) (already bool, err error) {
	switch i.Status {
	case StatusPublished:
		return true, nil
	case StatusOpen:
		return false, apperr.Precondition("issue_not_closed", "issue must be closed before it can be published")
	}
	if book == nil {
		return false, apperr.Precondition("book_missing", "issue has no book")
	}
	if book.DeliveryStatus != DeliveryDelivered {
		return false, apperr.Precondition("book_not_delivered", "book must be delivered before the issue is published")
	}
	return false, nil
}
