// Package testutil provides a real SQLite database and fakes for the
// external dependencies so service tests run without network access.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"familybook/database"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/users"
	"familybook/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a migrated SQLite database in a temp dir with foreign
// keys enforced. A single connection keeps writers from racing.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logging.Silence()

	dsn := "file:" + filepath.Join(t.TempDir(), "familybook.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewMockDB returns a gorm postgres handle backed by sqlmock, for asserting
// the exact statements a function issues.
func NewMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"}),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db, mock
}

// Date is a calendar date at UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NewUser(t *testing.T, db *gorm.DB, name string) *users.User {
	t.Helper()
	u := &users.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, db.Create(u).Error)
	return u
}

func NewAdmin(t *testing.T, db *gorm.DB) *users.User {
	t.Helper()
	u := &users.User{Name: "admin", Email: "admin@example.com", Role: users.RoleAdmin}
	require.NoError(t, db.Create(u).Error)
	return u
}

// NewGroup creates a 14-day group led by leader with open issue #1 due on
// deadline.
func NewGroup(t *testing.T, db *gorm.DB, leader *users.User, deadline time.Time) (*groups.Group, *issues.Issue) {
	t.Helper()
	g := &groups.Group{Name: leader.Name + "'s family", LeaderID: leader.ID, CadenceDays: 14}
	require.NoError(t, db.Create(g).Error)
	require.NoError(t, db.Create(&groups.Member{GroupID: g.ID, UserID: leader.ID, Role: groups.RoleLeader}).Error)

	i := &issues.Issue{GroupID: g.ID, IssueNumber: 1, DeadlineDate: deadline, Status: issues.StatusOpen}
	require.NoError(t, db.Create(i).Error)
	return g, i
}

func AddMember(t *testing.T, db *gorm.DB, groupID string, u *users.User) *groups.Member {
	t.Helper()
	m := &groups.Member{GroupID: groupID, UserID: u.ID, Role: groups.RoleMember, Relationship: "grandchild"}
	require.NoError(t, db.Create(m).Error)
	return m
}

func AddRecipient(t *testing.T, db *gorm.DB, groupID string) *groups.Recipient {
	t.Helper()
	r := &groups.Recipient{GroupID: groupID, Name: "Grandma", PostalCode: "04524", AddressLine: "1 Sejong-daero"}
	require.NoError(t, db.Create(r).Error)
	return r
}

func AddPost(t *testing.T, db *gorm.DB, issueID, authorID string, imageKeys ...string) *issues.Post {
	t.Helper()
	urls := make([]string, len(imageKeys))
	for i, k := range imageKeys {
		urls[i] = "https://cdn.example.com/" + k
	}
	p := &issues.Post{IssueID: issueID, AuthorID: authorID, Content: "hello", ImageURLs: urls, ImageKeys: imageKeys}
	require.NoError(t, db.Create(p).Error)
	return p
}

// AddBook attaches a book in the given state to a closed issue.
func AddBook(t *testing.T, db *gorm.DB, issueID string, prod issues.ProductionStatus, delivery issues.DeliveryStatus) *issues.Book {
	t.Helper()
	b := &issues.Book{IssueID: issueID, ProductionStatus: prod, DeliveryStatus: delivery}
	require.NoError(t, db.Create(b).Error)
	return b
}

// CloseIssueDirect closes an issue and opens its successor without going
// through the service, for setting up history.
func CloseIssueDirect(t *testing.T, db *gorm.DB, issue *issues.Issue) *issues.Issue {
	t.Helper()
	now := time.Now()
	require.NoError(t, db.Model(issue).Updates(map[string]any{"status": issues.StatusClosed, "closed_at": now}).Error)
	next := issue.Successor(now, 14)
	require.NoError(t, db.Create(&next).Error)
	return &next
}

// NewSubscription creates an active monthly subscription. With paid set a
// successful payment with a gateway transaction is recorded too.
func NewSubscription(t *testing.T, db *gorm.DB, groupID, payerID string, paid bool) (*billing.Subscription, *billing.Payment) {
	t.Helper()
	start := Date(2026, 9, 1)
	next := Date(2026, 11, 1)
	customer, method := "cus_test", "pm_card_visa"
	s := &billing.Subscription{
		GroupID:              groupID,
		PayerID:              payerID,
		Amount:               19900,
		Currency:             "krw",
		StartDate:            start,
		NextBillingDate:      &next,
		GatewayCustomerKey:   &customer,
		GatewayPaymentMethod: &method,
	}
	require.NoError(t, db.Create(s).Error)
	if !paid {
		return s, nil
	}

	tx := "pi_" + s.ID[:8]
	paidAt := Date(2026, 10, 1)
	p := &billing.Payment{
		SubscriptionID: s.ID,
		TransactionID:  &tx,
		IdempotencyKey: billing.ChargeKey(s.ID, paidAt),
		Amount:         s.Amount,
		Currency:       s.Currency,
		Status:         billing.PaymentSuccess,
		PaidAt:         &paidAt,
	}
	require.NoError(t, db.Create(p).Error)
	return s, p
}

// Count returns the number of rows of model matching the optional query.
func Count(t *testing.T, db *gorm.DB, model any, query ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if len(query) > 0 {
		q = q.Where(query[0], query[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
