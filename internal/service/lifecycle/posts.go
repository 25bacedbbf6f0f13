package lifecycle

import (
	"context"
	"fmt"
	"html"
	"strings"

	"familybook/internal/apperr"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/users"
	"familybook/internal/logging"
	"familybook/internal/store"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var policy = bluemonday.StrictPolicy()

type PostInput struct {
	GroupID   string   `json:"group_id"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls"`
	ImageKeys []string `json:"image_keys"`
}

// plainText strips markup. The policy escapes what it keeps, so entities
// are decoded again and the stored text is what the author typed.
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}

func (in *PostInput) clean() error {
	in.Content = plainText(in.Content)
	return issues.ValidatePost(in.Content, in.ImageURLs, in.ImageKeys)
}

var errIssueClosed = apperr.Precondition("issue_closed", "the issue is closed for posts")

// CreatePost adds a post to the group's current open issue. The issue is
// read inside the locked transaction, so a post racing the close either
// lands before it or is refused.
func (s *Service) CreatePost(ctx context.Context, author users.Caller, in PostInput) (*issues.Post, error) {
	if err := in.clean(); err != nil {
		return nil, err
	}
	member, err := store.MemberOf(s.db.WithContext(ctx), in.GroupID, author.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, apperr.Permission(apperr.ScopeMember, "only group members can post")
	}

	unlock := s.locks.Lock(in.GroupID)
	defer unlock()

	post := issues.Post{
		AuthorID:  author.UserID,
		Content:   in.Content,
		ImageURLs: datatypes.JSONSlice[string](in.ImageURLs),
		ImageKeys: datatypes.JSONSlice[string](in.ImageKeys),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := store.LockGroup(tx, in.GroupID); err != nil {
			return err
		}
		issue, err := store.OpenIssue(tx, in.GroupID)
		if apperr.IsKind(err, apperr.KindNotFound) {
			return errIssueClosed
		}
		if err != nil {
			return err
		}
		if !issue.AcceptsPosts() {
			return errIssueClosed
		}
		post.IssueID = issue.ID
		if err := tx.Create(&post).Error; err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.With(logrus.Fields{"group_id": in.GroupID, "issue_id": post.IssueID, "post_id": post.ID}).Debug("post created")
	return &post, nil
}

// UpdatePost edits a post while its issue is still open. Only the author
// may edit.
func (s *Service) UpdatePost(ctx context.Context, author users.Caller, postID string, in PostInput) (*issues.Post, error) {
	if err := in.clean(); err != nil {
		return nil, err
	}
	post, err := store.FindPost(s.db.WithContext(ctx), postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != author.UserID {
		return nil, apperr.Permission(apperr.ScopeAuthor, "only the author can edit a post")
	}
	issue, err := store.FindIssue(s.db.WithContext(ctx), post.IssueID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(issue.GroupID)
	defer unlock()

	var out *issues.Post
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := store.LockGroup(tx, issue.GroupID); err != nil {
			return err
		}
		current, err := store.FindIssue(tx, post.IssueID)
		if err != nil {
			return err
		}
		if !current.AcceptsPosts() {
			return errIssueClosed
		}
		err = tx.Model(&issues.Post{}).Where("id = ?", postID).Updates(map[string]any{
			"content":    in.Content,
			"image_urls": datatypes.JSONSlice[string](in.ImageURLs),
			"image_keys": datatypes.JSONSlice[string](in.ImageKeys),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}
		out, err = store.FindPost(tx, postID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
