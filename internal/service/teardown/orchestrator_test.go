package teardown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"familybook/internal/apperr"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/notices"
	"familybook/internal/domain/users"
	billingsvc "familybook/internal/service/billing"
	"familybook/internal/service/grouplock"
	"familybook/internal/service/lifecycle"
	"familybook/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	gateway  *testutil.FakeGateway
	assets   *testutil.FakeAssets
	notifier *testutil.FakeNotifier
	orch     *Orchestrator

	leader *users.User
	admin  *users.User
	group  *groups.Group
	first  *issues.Issue
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{
		db:       db,
		gateway:  &testutil.FakeGateway{},
		assets:   &testutil.FakeAssets{},
		notifier: &testutil.FakeNotifier{},
	}
	coord := billingsvc.New(db, f.gateway, billingsvc.WithTimeout(time.Second), billingsvc.WithCommitRetry(0, 0))
	f.orch = New(db, coord, f.assets, f.notifier)

	f.leader = testutil.NewUser(t, db, "mina")
	f.admin = testutil.NewAdmin(t, db)
	f.group, f.first = testutil.NewGroup(t, db, f.leader, testutil.Date(2026, 9, 20))
	return f
}

func as(u *users.User) users.Caller {
	return users.Caller{UserID: u.ID, Role: u.Role}
}

// populate gives the group a member, a recipient, a paid subscription and
// a closed issue whose book is still shipping.
func (f *fixture) populate(t *testing.T) *issues.Book {
	t.Helper()
	jun := testutil.NewUser(t, f.db, "jun")
	testutil.AddMember(t, f.db, f.group.ID, jun)
	testutil.AddRecipient(t, f.db, f.group.ID)
	testutil.AddPost(t, f.db, f.first.ID, jun.ID, "groups/g/1.jpg")
	second := testutil.CloseIssueDirect(t, f.db, f.first)
	testutil.AddPost(t, f.db, second.ID, f.leader.ID)
	book := testutil.AddBook(t, f.db, f.first.ID, issues.ProductionCompleted, issues.DeliveryShipping)
	require.NoError(t, f.db.Model(book).Update("asset_ref", "books/g/1.pdf").Error)
	testutil.NewSubscription(t, f.db, f.group.ID, f.leader.ID, true)
	return book
}

func TestDeleteGroupBlockedByShippingBook(t *testing.T) {
	f := setup(t)
	f.populate(t)

	report, err := f.orch.DeleteGroup(context.Background(), f.group.ID, as(f.leader), false)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
	assert.Equal(t, "books_in_progress", apperr.CodeOf(err))
	require.NotNil(t, report)
	assert.True(t, report.Blocked)
	assert.False(t, report.Deleted)
	assert.Equal(t, int64(1), report.PendingBooksCount)

	assert.Zero(t, f.gateway.CancelCalls())
	assert.Equal(t, int64(1), testutil.Count(t, f.db, &groups.Group{}, "id = ?", f.group.ID))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, &billing.Subscription{}, "status = ?", billing.SubscriptionActive))
}

// closingCanceller closes an issue of the group while the subscription is
// being cancelled, the window in which the teardown does not hold the lock.
type closingCanceller struct {
	t       *testing.T
	lc      *lifecycle.Service
	issueID string
	next    Canceller
}

func (c closingCanceller) Cancel(ctx context.Context, groupID, reason string) billing.CancelReport {
	res, err := c.lc.CloseIssue(ctx, c.issueID)
	require.NoError(c.t, err)
	require.True(c.t, res.Closed)
	return c.next.Cancel(ctx, groupID, reason)
}

func TestDeleteGroupBlockedByIssueClosedDuringCancel(t *testing.T) {
	f := setup(t)
	testutil.AddPost(t, f.db, f.first.ID, f.leader.ID)
	testutil.NewSubscription(t, f.db, f.group.ID, f.leader.ID, true)

	locks := grouplock.New()
	lc := lifecycle.New(f.db, &testutil.FakeRenderer{}, f.notifier, lifecycle.WithLocker(locks))
	coord := billingsvc.New(f.db, f.gateway, billingsvc.WithLocker(locks), billingsvc.WithCommitRetry(0, 0))
	orch := New(f.db, closingCanceller{t: t, lc: lc, issueID: f.first.ID, next: coord}, f.assets, f.notifier, WithLocker(locks))

	report, err := orch.DeleteGroup(context.Background(), f.group.ID, as(f.leader), false)

	require.Error(t, err)
	assert.Equal(t, "books_in_progress", apperr.CodeOf(err))
	require.NotNil(t, report)
	assert.True(t, report.Blocked)
	assert.False(t, report.Deleted)
	assert.Equal(t, int64(1), report.PendingBooksCount)

	assert.Equal(t, int64(1), testutil.Count(t, f.db, &groups.Group{}, "id = ?", f.group.ID))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, &issues.Book{}, "issue_id = ?", f.first.ID))
	assert.Equal(t, int64(2), testutil.Count(t, f.db, &issues.Issue{}, "group_id = ?", f.group.ID))
	assert.Empty(t, f.assets.Deleted)
	assert.Empty(t, f.notifier.Of(notices.GroupDeleted))
	assert.Zero(t, locks.Len())
}

func TestDeleteGroupForced(t *testing.T) {
	f := setup(t)
	f.populate(t)

	report, err := f.orch.DeleteGroup(context.Background(), f.group.ID, as(f.leader), true)
	require.NoError(t, err)

	assert.True(t, report.Deleted)
	assert.True(t, report.Forced)
	assert.Equal(t, int64(1), report.PendingBooksCount)
	assert.True(t, report.SubscriptionDeleted)
	require.NotNil(t, report.SubscriptionCancel)
	assert.Equal(t, billing.CancelSucceeded, report.SubscriptionCancel.PaymentCancelStatus)
	assert.Equal(t, 1, f.gateway.CancelCalls())

	for _, model := range []any{&issues.Issue{}, &issues.Post{}, &issues.Book{}, &billing.Subscription{}, &billing.Payment{}, &groups.Member{}, &groups.Recipient{}, &groups.Group{}} {
		assert.Zero(t, testutil.Count(t, f.db, model), "%T rows left", model)
	}
	// users are not part of the group tree
	assert.Equal(t, int64(3), testutil.Count(t, f.db, &users.User{}))

	assert.ElementsMatch(t, []string{"groups/g/1.jpg", "books/g/1.pdf"}, f.assets.Deleted)
	assert.Equal(t, 2, report.AssetsDeleted)

	deleted := f.notifier.Of(notices.GroupDeleted)
	require.Len(t, deleted, 1)
	assert.ElementsMatch(t, []string{"mina@example.com", "jun@example.com"}, deleted[0].Payload[notices.KeyEmails])
}

func TestDeleteGroupWithoutOutstandingBooks(t *testing.T) {
	f := setup(t)

	report, err := f.orch.DeleteGroup(context.Background(), f.group.ID, as(f.admin), false)
	require.NoError(t, err)

	assert.True(t, report.Deleted)
	assert.False(t, report.Forced)
	assert.False(t, report.SubscriptionDeleted)
	assert.Equal(t, billing.ReasonNoActiveSubscription, report.SubscriptionCancel.Reason)
	assert.Equal(t, int64(1), report.Counts.Issues)
}

func TestDeleteGroupBillingFailureDoesNotAbort(t *testing.T) {
	f := setup(t)
	f.populate(t)
	f.gateway.CancelFn = func(billing.CancelRequest) (billing.CancelResult, error) {
		return billing.CancelResult{}, errors.New("gateway down")
	}
	f.assets.DeleteErr = errors.New("bucket unavailable")

	report, err := f.orch.DeleteGroup(context.Background(), f.group.ID, as(f.leader), true)
	require.NoError(t, err)

	assert.True(t, report.Deleted)
	assert.Equal(t, billing.CancelFailed, report.SubscriptionCancel.PaymentCancelStatus)
	assert.Contains(t, report.SubscriptionCancel.Error, "gateway down")
	assert.True(t, report.SubscriptionDeleted)
	assert.Equal(t, 2, report.AssetFailures)
	assert.Zero(t, testutil.Count(t, f.db, &billing.Subscription{}))
}

func TestDeleteGroupPermissions(t *testing.T) {
	f := setup(t)
	jun := testutil.NewUser(t, f.db, "jun")
	testutil.AddMember(t, f.db, f.group.ID, jun)

	_, err := f.orch.DeleteGroup(context.Background(), f.group.ID, as(jun), true)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.ScopeLeaderOrAdmin, ae.Scope)

	_, err = f.orch.DeleteGroup(context.Background(), "00000000-0000-0000-0000-000000000000", as(f.admin), false)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestConcurrentDeleteGroup(t *testing.T) {
	f := setup(t)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.orch.DeleteGroup(context.Background(), f.group.ID, as(f.leader), false)
		}()
	}
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsKind(err, apperr.KindNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)
}

func TestDeleteLeaderMemberAlwaysRefused(t *testing.T) {
	f := setup(t)
	var leaderMember groups.Member
	require.NoError(t, f.db.Where("group_id = ? AND role = ?", f.group.ID, groups.RoleLeader).First(&leaderMember).Error)

	for _, c := range []users.Caller{as(f.admin), as(f.leader)} {
		err := f.orch.DeleteMember(context.Background(), leaderMember.ID, c)
		assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
		assert.Equal(t, "leader_member", apperr.CodeOf(err))
	}
	assert.Equal(t, int64(1), testutil.Count(t, f.db, &groups.Member{}, "id = ?", leaderMember.ID))
}

func TestDeleteMember(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	jun := testutil.NewUser(t, f.db, "jun")
	seo := testutil.NewUser(t, f.db, "seo")
	junMember := testutil.AddMember(t, f.db, f.group.ID, jun)
	seoMember := testutil.AddMember(t, f.db, f.group.ID, seo)

	err := f.orch.DeleteMember(ctx, junMember.ID, as(seo))
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	require.NoError(t, f.orch.DeleteMember(ctx, junMember.ID, as(jun)))
	require.NoError(t, f.orch.DeleteMember(ctx, seoMember.ID, as(f.leader)))

	err = f.orch.DeleteMember(ctx, seoMember.ID, as(f.leader))
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, &groups.Member{}, "group_id = ?", f.group.ID))
}
