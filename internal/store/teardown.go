package store

import (
	"fmt"

	"familybook/internal/apperr"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"

	"gorm.io/gorm"
)

// DeletionCounts is the number of rows removed per table.
type DeletionCounts struct {
	Payments      int64 `json:"payments"`
	Subscriptions int64 `json:"subscriptions"`
	Posts         int64 `json:"posts"`
	Books         int64 `json:"books"`
	Issues        int64 `json:"issues"`
	Members       int64 `json:"members"`
	Recipients    int64 `json:"recipients"`
	Groups        int64 `json:"groups"`

	// OutstandingBooks is counted under the group lock before anything
	// is removed.
	OutstandingBooks int64 `json:"outstanding_books"`
}

// GroupAssets lists the asset-store keys owned by a group: post images and
// rendered books.
func GroupAssets(db *gorm.DB, groupID string) ([]string, error) {
	var posts []issues.Post
	err := db.Select("posts.image_keys").
		Joins("JOIN issues ON issues.id = posts.issue_id").
		Where("issues.group_id = ?", groupID).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to collect post images: %w", err)
	}

	var refs []string
	err = db.Model(&issues.Book{}).
		Joins("JOIN issues ON issues.id = books.issue_id").
		Where("issues.group_id = ? AND books.asset_ref IS NOT NULL", groupID).
		Pluck("books.asset_ref", &refs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to collect book assets: %w", err)
	}

	var keys []string
	for _, p := range posts {
		keys = append(keys, p.ImageKeys...)
	}
	for _, r := range refs {
		if r != "" {
			keys = append(keys, r)
		}
	}
	return keys, nil
}

// DeleteGroupTree removes a group and everything it owns in one
// transaction, children before parents:
//
//	payments → subscriptions → posts → books → issues → members → recipient → group
//
// The group row is locked first, so a concurrent call waits and then sees
// NotFound. Books still in production or delivery are counted under that
// lock; unless force is set they abort the deletion with books_in_progress.
// Any failure rolls the whole tree back.
func DeleteGroupTree(db *gorm.DB, groupID string, force bool) (DeletionCounts, error) {
	var counts DeletionCounts

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := LockGroup(tx, groupID); err != nil {
			return err
		}
		pending, err := CountOutstandingBooks(tx, groupID)
		if err != nil {
			return err
		}
		counts.OutstandingBooks = pending
		if pending > 0 && !force {
			return BooksInProgress(pending)
		}

		sub := func() *gorm.DB { return tx.Session(&gorm.Session{NewDB: true}) }
		subscriptionIDs := func() *gorm.DB {
			return sub().Model(&billing.Subscription{}).Select("id").Where("group_id = ?", groupID)
		}
		issueIDs := func() *gorm.DB {
			return sub().Model(&issues.Issue{}).Select("id").Where("group_id = ?", groupID)
		}

		steps := []struct {
			name  string
			count *int64
			run   func() *gorm.DB
		}{
			{"payments", &counts.Payments, func() *gorm.DB {
				return tx.Where("subscription_id IN (?)", subscriptionIDs()).Delete(&billing.Payment{})
			}},
			{"subscriptions", &counts.Subscriptions, func() *gorm.DB {
				return tx.Where("group_id = ?", groupID).Delete(&billing.Subscription{})
			}},
			{"posts", &counts.Posts, func() *gorm.DB {
				return tx.Where("issue_id IN (?)", issueIDs()).Delete(&issues.Post{})
			}},
			{"books", &counts.Books, func() *gorm.DB {
				return tx.Where("issue_id IN (?)", issueIDs()).Delete(&issues.Book{})
			}},
			{"issues", &counts.Issues, func() *gorm.DB {
				return tx.Where("group_id = ?", groupID).Delete(&issues.Issue{})
			}},
			{"members", &counts.Members, func() *gorm.DB {
				return tx.Where("group_id = ?", groupID).Delete(&groups.Member{})
			}},
			{"recipients", &counts.Recipients, func() *gorm.DB {
				return tx.Where("group_id = ?", groupID).Delete(&groups.Recipient{})
			}},
			{"groups", &counts.Groups, func() *gorm.DB {
				return tx.Where("id = ?", groupID).Delete(&groups.Group{})
			}},
		}

		for _, s := range steps {
			res := s.run()
			if res.Error != nil {
				return fmt.Errorf("failed to delete %s: %w", s.name, res.Error)
			}
			*s.count = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == codeBooksInProgress {
			return DeletionCounts{OutstandingBooks: counts.OutstandingBooks}, err
		}
		return DeletionCounts{}, err
	}
	return counts, nil
}

const codeBooksInProgress = "books_in_progress"

// BooksInProgress is the precondition error for a non-forced deletion of a
// group whose books are not finished.
func BooksInProgress(pending int64) error {
	return apperr.Precondition(codeBooksInProgress,
		fmt.Sprintf("%d book(s) still in production or delivery; retry with force", pending))
}
