package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"familybook/internal/apperr"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/notices"
	"familybook/internal/domain/users"
	"familybook/internal/logging"
	"familybook/internal/metrics"
	"familybook/internal/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Summary is the outcome of one EvaluateDeadlines run.
type Summary struct {
	Evaluated int `json:"evaluated"`
	Closed    int `json:"closed"`
	Created   int `json:"created"`
	Warned    int `json:"warned"`
	Failed    int `json:"failed"`
}

type CloseResult struct {
	Issue     issues.Issue  `json:"issue"`
	Book      *issues.Book  `json:"book,omitempty"`
	Successor *issues.Issue `json:"successor,omitempty"`
	// Closed is false when the issue had already left open.
	Closed              bool `json:"closed"`
	ProductionRequested bool `json:"production_requested"`
}

type RecipientInput struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	PostalCode    string `json:"postal_code"`
	AddressLine   string `json:"address_line"`
	AddressDetail string `json:"address_detail"`
}

type CreateGroupInput struct {
	Name         string          `json:"name"`
	CadenceDays  int             `json:"cadence_days"`
	Relationship string          `json:"relationship"`
	Recipient    *RecipientInput `json:"recipient"`
}

// CreateGroup creates a group led by caller together with its leader
// membership, optional recipient and open issue #1.
func (s *Service) CreateGroup(ctx context.Context, caller users.Caller, in CreateGroupInput) (*groups.Group, *issues.Issue, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, apperr.Validation("name_required", "group name is required")
	}
	if in.CadenceDays == 0 {
		in.CadenceDays = groups.Cadences[0]
	}
	if !groups.ValidCadence(in.CadenceDays) {
		return nil, nil, apperr.Validation("invalid_cadence", fmt.Sprintf("cadence must be one of %v days", groups.Cadences))
	}
	if in.Recipient != nil && strings.TrimSpace(in.Recipient.Name) == "" {
		return nil, nil, apperr.Validation("recipient_name_required", "recipient name is required")
	}
	if _, err := store.FindUser(s.db.WithContext(ctx), caller.UserID); err != nil {
		return nil, nil, err
	}

	g := groups.Group{Name: name, LeaderID: caller.UserID, CadenceDays: in.CadenceDays}
	var first issues.Issue
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&g).Error; err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		leader := groups.Member{GroupID: g.ID, UserID: caller.UserID, Role: groups.RoleLeader, Relationship: in.Relationship}
		if err := tx.Create(&leader).Error; err != nil {
			return fmt.Errorf("failed to create leader membership: %w", err)
		}
		if r := in.Recipient; r != nil {
			rec := groups.Recipient{
				GroupID:       g.ID,
				Name:          strings.TrimSpace(r.Name),
				Phone:         r.Phone,
				PostalCode:    r.PostalCode,
				AddressLine:   r.AddressLine,
				AddressDetail: r.AddressDetail,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to create recipient: %w", err)
			}
		}
		first = issues.First(g.ID, s.clock(), g.CadenceDays)
		if err := tx.Create(&first).Error; err != nil {
			return fmt.Errorf("failed to open first issue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logging.With(logrus.Fields{"group_id": g.ID, "issue_id": first.ID}).Info("group created")
	return &g, &first, nil
}

// CloseIssue moves an open issue to closed, creates its book and opens the
// successor in one transaction, then asks the renderer for the book.
// Closing a closed or published issue changes nothing.
func (s *Service) CloseIssue(ctx context.Context, issueID string) (*CloseResult, error) {
	issue, err := store.FindIssue(s.db.WithContext(ctx), issueID)
	if err != nil {
		return nil, err
	}
	log := logging.With(logrus.Fields{"group_id": issue.GroupID, "issue_id": issueID})

	res := &CloseResult{}
	unlock := s.locks.Lock(issue.GroupID)
	closedAt := s.clock()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := store.LockGroup(tx, issue.GroupID)
		if err != nil {
			return err
		}

		upd := tx.Model(&issues.Issue{}).
			Where("id = ? AND status = ?", issueID, issues.StatusOpen).
			Updates(map[string]any{"status": issues.StatusClosed, "closed_at": closedAt})
		if upd.Error != nil {
			return fmt.Errorf("failed to close issue: %w", upd.Error)
		}

		current, err := store.FindIssue(tx, issueID)
		if err != nil {
			return err
		}
		res.Issue = *current
		if upd.RowsAffected == 0 {
			return nil
		}

		book := issues.Book{IssueID: issueID}
		if err := tx.Create(&book).Error; err != nil {
			return fmt.Errorf("failed to create book: %w", err)
		}
		next := current.Successor(closedAt, g.CadenceDays)
		if err := tx.Create(&next).Error; err != nil {
			return fmt.Errorf("failed to open successor issue: %w", err)
		}
		res.Closed = true
		res.Book = &book
		res.Successor = &next
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}
	if !res.Closed {
		log.WithField("status", res.Issue.Status).Debug("issue already closed")
		return res, nil
	}

	metrics.IssuesClosed.Inc()
	log.WithFields(logrus.Fields{"book_id": res.Book.ID, "successor_id": res.Successor.ID}).Info("issue closed")
	s.notifier.Notify(ctx, issue.GroupID, notices.IssueClosed, notices.Payload{
		notices.KeyIssueNo:  res.Issue.IssueNumber,
		notices.KeyDeadline: res.Successor.DeadlineDate.Format("2006-01-02"),
	})

	res.ProductionRequested = s.produce(ctx, *res.Book, res.Issue) == nil
	return res, nil
}

// produce sends the production request. Failures leave the book pending
// for RequestProduction to retry.
func (s *Service) produce(ctx context.Context, book issues.Book, issue issues.Issue) error {
	log := logging.With(logrus.Fields{"group_id": issue.GroupID, "issue_id": issue.ID, "book_id": book.ID})

	posts, err := store.PostsForIssue(s.db.WithContext(ctx), issue.ID)
	if err != nil {
		return err
	}
	ref, err := s.renderer.Produce(ctx, issues.NewProductionRequest(book, issue, posts))
	if err != nil {
		metrics.ProductionRequests.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("book production request failed")
		return apperr.Dependency("renderer_failed", "book production request failed", err)
	}
	metrics.ProductionRequests.WithLabelValues("sent").Inc()

	err = s.db.WithContext(ctx).Model(&issues.Book{}).
		Where("id = ?", book.ID).
		Update("production_requested_at", s.clock()).Error
	if err != nil {
		log.WithError(err).Error("failed to stamp production request")
	}
	log.WithField("posts", len(posts)).Info("book production requested")

	if ref != "" {
		if _, err := s.AdvanceProduction(ctx, book.ID, ref); err != nil {
			return err
		}
	}
	return nil
}

// RequestProduction re-sends the production request of a pending book.
func (s *Service) RequestProduction(ctx context.Context, bookID string) (*issues.Book, error) {
	book, err := store.FindBook(s.db.WithContext(ctx), bookID)
	if err != nil {
		return nil, err
	}
	if book.CheckProduction() {
		return nil, apperr.Precondition("production_completed", "book production already completed")
	}
	if err := s.produce(ctx, *book, *book.Issue); err != nil {
		return nil, err
	}
	return store.FindBook(s.db.WithContext(ctx), bookID)
}

// AdvanceProduction records the renderer's completion callback. A repeated
// callback is a no-op.
func (s *Service) AdvanceProduction(ctx context.Context, bookID, assetRef string) (*issues.Book, error) {
	if strings.TrimSpace(assetRef) == "" {
		return nil, apperr.Validation("asset_ref_required", "asset reference is required")
	}
	book, err := store.FindBook(s.db.WithContext(ctx), bookID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(book.Issue.GroupID)
	defer unlock()

	var out *issues.Book
	var changed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := store.LockGroup(tx, book.Issue.GroupID); err != nil {
			return err
		}
		upd := tx.Model(&issues.Book{}).
			Where("id = ? AND production_status = ?", bookID, issues.ProductionPending).
			Updates(map[string]any{
				"production_status":       issues.ProductionCompleted,
				"asset_ref":               assetRef,
				"production_completed_at": s.clock(),
			})
		if upd.Error != nil {
			return fmt.Errorf("failed to complete production: %w", upd.Error)
		}
		changed = upd.RowsAffected > 0
		out, err = store.FindBook(tx, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		logging.With(logrus.Fields{"book_id": bookID, "asset_ref": assetRef}).Info("book production completed")
	}
	return out, nil
}

// AdvanceDelivery moves the delivery track pending → shipping → delivered.
func (s *Service) AdvanceDelivery(ctx context.Context, bookID string, next issues.DeliveryStatus) (*issues.Book, error) {
	book, err := store.FindBook(s.db.WithContext(ctx), bookID)
	if err != nil {
		return nil, err
	}
	groupID := book.Issue.GroupID

	unlock := s.locks.Lock(groupID)
	defer unlock()

	var out *issues.Book
	var changed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := store.LockGroup(tx, groupID); err != nil {
			return err
		}
		current, err := store.FindBook(tx, bookID)
		if err != nil {
			return err
		}
		already, err := current.CheckDelivery(next)
		if err != nil {
			return err
		}
		out = current
		if already {
			return nil
		}

		updates := map[string]any{"delivery_status": next}
		switch next {
		case issues.DeliveryShipping:
			updates["shipped_at"] = s.clock()
		case issues.DeliveryDelivered:
			updates["delivered_at"] = s.clock()
		}
		upd := tx.Model(&issues.Book{}).
			Where("id = ? AND delivery_status = ?", bookID, current.DeliveryStatus).
			Updates(updates)
		if upd.Error != nil {
			return fmt.Errorf("failed to advance delivery: %w", upd.Error)
		}
		changed = upd.RowsAffected > 0
		out, err = store.FindBook(tx, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logging.With(logrus.Fields{"group_id": groupID, "book_id": bookID, "delivery_status": next}).Info("book delivery advanced")
		kind := notices.BookShipped
		if next == issues.DeliveryDelivered {
			kind = notices.BookDelivered
		}
		s.notifier.Notify(ctx, groupID, kind, notices.Payload{notices.KeyIssueNo: out.Issue.IssueNumber})
	}
	return out, nil
}

// PublishIssue moves a closed issue whose book was delivered to published.
func (s *Service) PublishIssue(ctx context.Context, issueID string) (*issues.Issue, error) {
	issue, err := store.FindIssue(s.db.WithContext(ctx), issueID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(issue.GroupID)
	defer unlock()

	var out *issues.Issue
	var changed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := store.LockGroup(tx, issue.GroupID); err != nil {
			return err
		}
		current, err := store.FindIssue(tx, issueID)
		if err != nil {
			return err
		}
		book, err := store.BookForIssue(tx, issueID)
		if err != nil {
			return err
		}
		already, err := current.CheckPublish(book)
		if err != nil {
			return err
		}
		out = current
		if already {
			return nil
		}

		upd := tx.Model(&issues.Issue{}).
			Where("id = ? AND status = ?", issueID, issues.StatusClosed).
			Updates(map[string]any{"status": issues.StatusPublished, "published_at": s.clock()})
		if upd.Error != nil {
			return fmt.Errorf("failed to publish issue: %w", upd.Error)
		}
		changed = upd.RowsAffected > 0
		out, err = store.FindIssue(tx, issueID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logging.With(logrus.Fields{"group_id": issue.GroupID, "issue_id": issueID}).Info("issue published")
		s.notifier.Notify(ctx, issue.GroupID, notices.IssuePublished, notices.Payload{notices.KeyIssueNo: out.IssueNumber})
	}
	return out, nil
}

// EvaluateDeadlines closes every open issue whose deadline is today or
// earlier and warns groups whose deadline is a week away. Groups are
// independent: one failing group is counted and the rest continue.
func (s *Service) EvaluateDeadlines(ctx context.Context, today time.Time) (Summary, error) {
	var sum Summary
	open, err := store.OpenIssues(s.db.WithContext(ctx))
	if err != nil {
		return sum, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, issue := range open {
		g.Go(func() error {
			closed, warned, err := s.evaluate(ctx, issue, today)

			mu.Lock()
			defer mu.Unlock()
			sum.Evaluated++
			switch {
			case err != nil:
				sum.Failed++
				logging.With(logrus.Fields{"group_id": issue.GroupID, "issue_id": issue.ID}).
					WithError(err).Error("deadline evaluation failed")
			case closed:
				sum.Closed++
				sum.Created++
			case warned:
				sum.Warned++
			}
			return nil
		})
	}
	_ = g.Wait()

	logging.With(logrus.Fields{
		"date":      issues.DateOf(today).Format("2006-01-02"),
		"evaluated": sum.Evaluated,
		"closed":    sum.Closed,
		"warned":    sum.Warned,
		"failed":    sum.Failed,
	}).Info("deadlines evaluated")
	return sum, nil
}

func (s *Service) evaluate(ctx context.Context, issue issues.Issue, today time.Time) (closed, warned bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	if issue.DeadlineReached(today) {
		res, err := s.CloseIssue(ctx, issue.ID)
		if err != nil {
			return false, false, err
		}
		return res.Closed, false, nil
	}
	if issue.WarningDue(today) && issue.WarningSentAt == nil {
		warned, err := s.warn(ctx, issue)
		return false, warned, err
	}
	return false, false, nil
}

// warn sends the one-week warning at most once per issue.
func (s *Service) warn(ctx context.Context, issue issues.Issue) (bool, error) {
	upd := s.db.WithContext(ctx).Model(&issues.Issue{}).
		Where("id = ? AND status = ? AND warning_sent_at IS NULL", issue.ID, issues.StatusOpen).
		Update("warning_sent_at", s.clock())
	if upd.Error != nil {
		return false, fmt.Errorf("failed to stamp deadline warning: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		return false, nil
	}

	metrics.DeadlineWarnings.Inc()
	s.notifier.Notify(ctx, issue.GroupID, notices.DeadlineWarning, notices.Payload{
		notices.KeyIssueNo:  issue.IssueNumber,
		notices.KeyDeadline: issue.DeadlineDate.Format("2006-01-02"),
	})
	return true, nil
}
