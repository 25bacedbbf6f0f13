package users

import (
	"net/http"
	"testing"
	"time"

	"familybook/internal/service/billing"
	"familybook/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCurrentUser(t *testing.T) {
	db := testutil.NewTestDB(t)
	leader := testutil.NewUser(t, db, "mina")
	g, issue := testutil.NewGroup(t, db, leader, testutil.Date(2026, 10, 25))
	testutil.AddPost(t, db, issue.ID, leader.ID)
	testutil.NewSubscription(t, db, g.ID, leader.ID, true)

	now := func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	coord := billing.New(db, &testutil.FakeGateway{}, billing.WithClock(now))
	h := NewHandler(db, coord, time.UTC)
	h.now = now

	r := testutil.NewRouter(leader)
	r.GET("/me", h.GetCurrentUser)
	w := testutil.Do(t, r, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp MeResponse
	testutil.Decode(t, w, &resp)
	assert.Equal(t, leader.ID, resp.User.ID)
	require.Len(t, resp.Groups, 1)
	got := resp.Groups[0]
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, "leader", got.Role)
	assert.True(t, got.Billable)
	require.NotNil(t, got.OpenIssue)
	assert.Equal(t, 1, got.OpenIssue.IssueNumber)
	assert.Equal(t, 7, got.OpenIssue.DaysLeft)
	assert.EqualValues(t, 1, got.OpenIssue.PostCount)
}

func TestGetCurrentUserUnauthorized(t *testing.T) {
	db := testutil.NewTestDB(t)
	h := NewHandler(db, billing.New(db, &testutil.FakeGateway{}), nil)

	r := testutil.NewRouter(nil)
	r.GET("/me", h.GetCurrentUser)
	w := testutil.Do(t, r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
