// Package store holds the gorm queries shared by the services. Every
// function takes the *gorm.DB to run on so callers can pass a transaction.
package store

import (
	"errors"
	"fmt"

	"familybook/internal/apperr"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/users"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

// LockGroup loads the group and takes its row lock for the rest of tx.
func LockGroup(tx *gorm.DB, groupID string) (*groups.Group, error) {
	var g groups.Group
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", groupID).
		First(&g).Error
	if err != nil {
		return nil, notFound(err, "group", groupID)
	}
	return &g, nil
}

func FindGroup(db *gorm.DB, groupID string) (*groups.Group, error) {
	var g groups.Group
	if err := db.Where("id = ?", groupID).First(&g).Error; err != nil {
		return nil, notFound(err, "group", groupID)
	}
	return &g, nil
}

func ListGroups(db *gorm.DB) ([]groups.Group, error) {
	var out []groups.Group
	if err := db.Preload("Leader").Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return out, nil
}

func FindUser(db *gorm.DB, userID string) (*users.User, error) {
	var u users.User
	if err := db.Where("id = ?", userID).First(&u).Error; err != nil {
		return nil, notFound(err, "user", userID)
	}
	return &u, nil
}

func FindMember(db *gorm.DB, memberID string) (*groups.Member, error) {
	var m groups.Member
	if err := db.Where("id = ?", memberID).First(&m).Error; err != nil {
		return nil, notFound(err, "member", memberID)
	}
	return &m, nil
}

// MemberOf returns the membership of userID in groupID, or nil.
func MemberOf(db *gorm.DB, groupID, userID string) (*groups.Member, error) {
	var m groups.Member
	err := db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return &m, nil
}

// Memberships lists the groups a user belongs to, group preloaded.
func Memberships(db *gorm.DB, userID string) ([]groups.Member, error) {
	var out []groups.Member
	if err := db.Preload("Group").Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return out, nil
}

func MemberEmails(db *gorm.DB, groupID string) ([]string, error) {
	var emails []string
	err := db.Model(&users.User{}).
		Joins("JOIN members ON members.user_id = users.id").
		Where("members.group_id = ?", groupID).
		Order("users.email ASC").
		Pluck("users.email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load member emails: %w", err)
	}
	return emails, nil
}

func FindIssue(db *gorm.DB, issueID string) (*issues.Issue, error) {
	var i issues.Issue
	if err := db.Where("id = ?", issueID).First(&i).Error; err != nil {
		return nil, notFound(err, "issue", issueID)
	}
	return &i, nil
}

// OpenIssue is the group's current open issue. It is always read fresh.
func OpenIssue(db *gorm.DB, groupID string) (*issues.Issue, error) {
	var i issues.Issue
	err := db.Where("group_id = ? AND status = ?", groupID, issues.StatusOpen).
		Order("issue_number DESC").
		First(&i).Error
	if err != nil {
		return nil, notFound(err, "open_issue", groupID)
	}
	return &i, nil
}

func OpenIssues(db *gorm.DB) ([]issues.Issue, error) {
	var out []issues.Issue
	if err := db.Where("status = ?", issues.StatusOpen).Order("deadline_date ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list open issues: %w", err)
	}
	return out, nil
}

func CountOpenIssues(db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.Model(&issues.Issue{}).Where("group_id = ? AND status = ?", groupID, issues.StatusOpen).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open issues: %w", err)
	}
	return n, nil
}

func FindPost(db *gorm.DB, postID string) (*issues.Post, error) {
	var p issues.Post
	if err := db.Where("id = ?", postID).First(&p).Error; err != nil {
		return nil, notFound(err, "post", postID)
	}
	return &p, nil
}

func PostsForIssue(db *gorm.DB, issueID string) ([]issues.Post, error) {
	var out []issues.Post
	if err := db.Preload("Author").Where("issue_id = ?", issueID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return out, nil
}

func FindBook(db *gorm.DB, bookID string) (*issues.Book, error) {
	var b issues.Book
	if err := db.Preload("Issue").Where("id = ?", bookID).First(&b).Error; err != nil {
		return nil, notFound(err, "book", bookID)
	}
	return &b, nil
}

// BookForIssue returns the issue's book, or nil when none exists yet.
func BookForIssue(db *gorm.DB, issueID string) (*issues.Book, error) {
	var b issues.Book
	err := db.Where("issue_id = ?", issueID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}
	return &b, nil
}

func outstandingBooks(db *gorm.DB) *gorm.DB {
	return db.Where("books.production_status = ? OR books.delivery_status IN ?",
		issues.ProductionPending,
		[]issues.DeliveryStatus{issues.DeliveryPending, issues.DeliveryShipping})
}

// CountOutstandingBooks counts the group's books still in production or
// not yet delivered.
func CountOutstandingBooks(db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := outstandingBooks(db.Model(&issues.Book{}).
		Joins("JOIN issues ON issues.id = books.issue_id").
		Where("issues.group_id = ?", groupID)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count outstanding books: %w", err)
	}
	return n, nil
}

func OutstandingBooks(db *gorm.DB) ([]issues.Book, error) {
	var out []issues.Book
	err := outstandingBooks(db.Preload("Issue").Model(&issues.Book{})).
		Order("books.created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding books: %w", err)
	}
	return out, nil
}

// ActiveSubscription returns the group's active subscription, or nil.
func ActiveSubscription(db *gorm.DB, groupID string) (*billing.Subscription, error) {
	var s billing.Subscription
	err := db.Where("group_id = ? AND status = ?", groupID, billing.SubscriptionActive).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &s, nil
}

func FindSubscription(db *gorm.DB, subscriptionID string) (*billing.Subscription, error) {
	var s billing.Subscription
	if err := db.Where("id = ?", subscriptionID).First(&s).Error; err != nil {
		return nil, notFound(err, "subscription", subscriptionID)
	}
	return &s, nil
}

func ActiveSubscriptions(db *gorm.DB) ([]billing.Subscription, error) {
	var out []billing.Subscription
	err := db.Where("status = ? AND next_billing_date IS NOT NULL", billing.SubscriptionActive).
		Order("next_billing_date ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

// LastSuccessfulPayment is the most recent settled charge of the
// subscription carrying a gateway transaction id, or nil.
func LastSuccessfulPayment(db *gorm.DB, subscriptionID string) (*billing.Payment, error) {
	var p billing.Payment
	err := db.Where("subscription_id = ? AND status = ? AND transaction_id IS NOT NULL",
		subscriptionID, billing.PaymentSuccess).
		Order("paid_at DESC, created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}

func PaymentByKey(db *gorm.DB, key string) (*billing.Payment, error) {
	var p billing.Payment
	err := db.Where("idempotency_key = ?", key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}

func PaymentByTransaction(db *gorm.DB, transactionID string) (*billing.Payment, error) {
	var p billing.Payment
	if err := db.Where("transaction_id = ?", transactionID).First(&p).Error; err != nil {
		return nil, notFound(err, "payment", transactionID)
	}
	return &p, nil
}

func GroupPayments(db *gorm.DB, groupID string) ([]billing.Payment, error) {
	var out []billing.Payment
	err := db.Joins("JOIN subscriptions ON subscriptions.id = payments.subscription_id").
		Where("subscriptions.group_id = ?", groupID).
		Order("payments.created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return out, nil
}

func AllPayments(db *gorm.DB) ([]billing.Payment, error) {
	var out []billing.Payment
	if err := db.Preload("Subscription").Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return out, nil
}
