// Package teardown deletes groups and members. Group deletion stops the
// recurring payment first, then removes the structural records in one
// transaction, then cleans up stored assets. Only the structural step can
// fail the call.
package teardown

import (
	"context"
	"fmt"

	"familybook/internal/apperr"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/notices"
	"familybook/internal/domain/users"
	"familybook/internal/logging"
	"familybook/internal/metrics"
	"familybook/internal/service/grouplock"
	"familybook/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const cancelReason = "group_deleted"

type Canceller interface {
	Cancel(ctx context.Context, groupID, reason string) billing.CancelReport
}

type AssetStore interface {
	Delete(ctx context.Context, path string) error
}

type Notifier interface {
	Notify(ctx context.Context, groupID string, kind notices.Kind, payload notices.Payload)
}

type Orchestrator struct {
	db       *gorm.DB
	billing  Canceller
	assets   AssetStore
	notifier Notifier
	locks    *grouplock.Locker
}

type Option func(*Orchestrator)

// WithLocker shares the per-group lock with the other services that write
// a group's rows.
func WithLocker(l *grouplock.Locker) Option {
	return func(o *Orchestrator) { o.locks = l }
}

func New(db *gorm.DB, billing Canceller, assets AssetStore, notifier Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:       db,
		billing:  billing,
		assets:   assets,
		notifier: notifier,
		locks:    grouplock.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Report struct {
	GroupID             string                `json:"group_id"`
	Deleted             bool                  `json:"deleted"`
	Blocked             bool                  `json:"blocked"`
	Forced              bool                  `json:"forced"`
	PendingBooksCount   int64                 `json:"pending_books_count"`
	SubscriptionCancel  *billing.CancelReport `json:"subscription_cancel,omitempty"`
	SubscriptionDeleted bool                  `json:"subscription_deleted"`
	Counts              store.DeletionCounts  `json:"counts"`
	AssetsDeleted       int                   `json:"assets_deleted"`
	AssetFailures       int                   `json:"asset_failures"`
}

func canDeleteGroup(caller users.Caller, g *groups.Group) bool {
	return caller.IsAdmin() || (caller.UserID != "" && caller.UserID == g.LeaderID)
}

// DeleteGroup tears down a group. Outstanding books block the deletion
// unless force is set. The billing outcome is recorded in the report and
// never aborts the teardown.
//
// The group lock is released while billing cancels, since the coordinator
// takes the same lock. Books are counted again inside the deletion
// transaction, so an issue closed in that window still blocks.
func (o *Orchestrator) DeleteGroup(ctx context.Context, groupID string, caller users.Caller, force bool) (*Report, error) {
	log := logging.With(logrus.Fields{"group_id": groupID, "caller": caller.UserID, "force": force})
	db := o.db.WithContext(ctx)
	report := &Report{GroupID: groupID}

	g, err := o.precheck(db, log, report, caller, force)
	if err != nil {
		return report.orNil(), err
	}

	cancel := o.billing.Cancel(ctx, groupID, cancelReason)
	report.SubscriptionCancel = &cancel
	if cancel.PaymentCancelStatus == billing.CancelFailed {
		log.WithField("error", cancel.Error).Warn("billing cancellation failed, continuing teardown")
	}

	unlock := o.locks.Lock(groupID)
	defer unlock()

	// collected before the rows that reference them disappear
	keys, err := store.GroupAssets(db, groupID)
	if err != nil {
		log.WithError(err).Warn("could not collect group assets")
	}
	emails, err := store.MemberEmails(db, groupID)
	if err != nil {
		log.WithError(err).Warn("could not collect member emails")
	}

	counts, err := store.DeleteGroupTree(db, groupID, force)
	if err != nil {
		if apperr.IsKind(err, apperr.KindPrecondition) {
			report.block(log, counts.OutstandingBooks)
			return report, err
		}
		metrics.Teardowns.WithLabelValues("failed").Inc()
		log.WithError(err).Error("group deletion rolled back")
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}
	report.Deleted = true
	report.Counts = counts
	report.PendingBooksCount = counts.OutstandingBooks
	report.Forced = force && counts.OutstandingBooks > 0
	report.SubscriptionDeleted = counts.Subscriptions > 0
	metrics.Teardowns.WithLabelValues("deleted").Inc()

	o.cleanupAssets(ctx, log, report, keys)
	o.notifier.Notify(ctx, groupID, notices.GroupDeleted, notices.Payload{
		notices.KeyGroupName: g.Name,
		notices.KeyEmails:    emails,
	})

	log.WithFields(logrus.Fields{
		"pending_books":  counts.OutstandingBooks,
		"subscription":   cancel.PaymentCancelStatus,
		"issues":         counts.Issues,
		"posts":          counts.Posts,
		"assets_deleted": report.AssetsDeleted,
	}).Info("group deleted")
	return report, nil
}

// precheck authorizes the caller and refuses early when books are still
// outstanding, before any gateway call is made.
func (o *Orchestrator) precheck(db *gorm.DB, log *logrus.Entry, report *Report, caller users.Caller, force bool) (*groups.Group, error) {
	unlock := o.locks.Lock(report.GroupID)
	defer unlock()

	g, err := store.FindGroup(db, report.GroupID)
	if err != nil {
		return nil, err
	}
	if !canDeleteGroup(caller, g) {
		return nil, apperr.Permission(apperr.ScopeLeaderOrAdmin, "only the group leader or an admin can delete a group")
	}

	pending, err := store.CountOutstandingBooks(db, report.GroupID)
	if err != nil {
		return nil, err
	}
	report.PendingBooksCount = pending
	if pending > 0 && !force {
		report.block(log, pending)
		return nil, store.BooksInProgress(pending)
	}
	return g, nil
}

func (r *Report) block(log *logrus.Entry, pending int64) {
	r.Blocked = true
	r.PendingBooksCount = pending
	metrics.Teardowns.WithLabelValues("blocked").Inc()
	log.WithField("pending_books", pending).Info("group deletion blocked by books in progress")
}

// orNil keeps the report only when it carries a blocked outcome.
func (r *Report) orNil() *Report {
	if r.Blocked {
		return r
	}
	return nil
}

func (o *Orchestrator) cleanupAssets(ctx context.Context, log *logrus.Entry, report *Report, keys []string) {
	for _, key := range keys {
		if err := o.assets.Delete(ctx, key); err != nil {
			report.AssetFailures++
			log.WithError(err).WithField("key", key).Warn("failed to delete asset")
			continue
		}
		report.AssetsDeleted++
	}
}

// DeleteMember removes a non-leader member. The leader can only leave by
// deleting the group.
func (o *Orchestrator) DeleteMember(ctx context.Context, memberID string, caller users.Caller) error {
	db := o.db.WithContext(ctx)
	m, err := store.FindMember(db, memberID)
	if err != nil {
		return err
	}
	if m.IsLeader() {
		return apperr.Precondition("leader_member", "the leader cannot be removed; delete the group instead")
	}

	unlock := o.locks.Lock(m.GroupID)
	defer unlock()

	g, err := store.FindGroup(db, m.GroupID)
	if err != nil {
		return err
	}
	if !canDeleteGroup(caller, g) && caller.UserID != m.UserID {
		return apperr.Permission(apperr.ScopeLeaderOrAdmin, "only the leader, an admin or the member can remove a member")
	}

	res := db.Where("id = ?", memberID).Delete(&groups.Member{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("member", memberID)
	}
	logging.With(logrus.Fields{"group_id": m.GroupID, "member_id": memberID, "caller": caller.UserID}).Info("member removed")
	return nil
}
