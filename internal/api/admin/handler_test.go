package admin

import (
	"net/http"
	"testing"
	"time"

	"familybook/internal/domain/issues"
	"familybook/internal/service/lifecycle"
	"familybook/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	renderer *testutil.FakeRenderer
	r        *gin.Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{db: db, renderer: &testutil.FakeRenderer{}}
	now := func() time.Time { return time.Date(2026, 10, 18, 1, 0, 0, 0, time.UTC) }
	lc := lifecycle.New(db, f.renderer, &testutil.FakeNotifier{}, lifecycle.WithClock(now))
	h := NewHandler(db, lc, time.UTC)
	h.now = now

	f.r = testutil.NewRouter(testutil.NewAdmin(t, db))
	f.r.POST("/admin/deadlines/evaluate", h.EvaluateDeadlines)
	f.r.POST("/admin/issues/:id/close", h.CloseIssue)
	f.r.POST("/admin/issues/:id/publish", h.PublishIssue)
	f.r.POST("/admin/books/:id/production", h.CompleteProduction)
	f.r.POST("/admin/books/:id/production/retry", h.RetryProduction)
	f.r.PUT("/admin/books/:id/delivery", h.AdvanceDelivery)
	f.r.GET("/admin/books/pending", h.ListPendingBooks)
	f.r.GET("/admin/groups", h.ListGroups)
	f.r.GET("/admin/payments", h.ListAllPayments)
	return f
}

func TestEvaluateDeadlines(t *testing.T) {
	f := setup(t)
	leader := testutil.NewUser(t, f.db, "mina")
	_, issue := testutil.NewGroup(t, f.db, leader, testutil.Date(2026, 10, 18))
	testutil.AddPost(t, f.db, issue.ID, leader.ID)

	w := testutil.Do(t, f.r, http.MethodPost, "/admin/deadlines/evaluate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Date    string            `json:"date"`
		Summary lifecycle.Summary `json:"summary"`
	}
	testutil.Decode(t, w, &resp)
	assert.Equal(t, "2026-10-18", resp.Date)
	assert.Equal(t, 1, resp.Summary.Closed)
	assert.Equal(t, 1, f.renderer.Calls())

	w = testutil.Do(t, f.r, http.MethodPost, "/admin/deadlines/evaluate?date=18-10-2026", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookFlowThroughAdminRoutes(t *testing.T) {
	f := setup(t)
	leader := testutil.NewUser(t, f.db, "mina")
	_, issue := testutil.NewGroup(t, f.db, leader, testutil.Date(2026, 10, 25))

	w := testutil.Do(t, f.r, http.MethodPost, "/admin/issues/"+issue.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var closed lifecycle.CloseResult
	testutil.Decode(t, w, &closed)
	require.True(t, closed.Closed)
	require.NotNil(t, closed.Book)
	bookID := closed.Book.ID

	w = testutil.Do(t, f.r, http.MethodGet, "/admin/books/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []AdminBook
	testutil.Decode(t, w, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].IssueNumber)

	w = testutil.Do(t, f.r, http.MethodPut, "/admin/books/"+bookID+"/delivery", gin.H{"status": "shipping"})
	assert.Equal(t, http.StatusConflict, w.Code, "cannot ship before production")

	w = testutil.Do(t, f.r, http.MethodPost, "/admin/books/"+bookID+"/production/retry", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, f.renderer.Calls())

	w = testutil.Do(t, f.r, http.MethodPost, "/admin/books/"+bookID+"/production", gin.H{"asset_ref": "books/1.pdf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.Do(t, f.r, http.MethodPost, "/admin/books/"+bookID+"/production/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = testutil.Do(t, f.r, http.MethodPut, "/admin/books/"+bookID+"/delivery", gin.H{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, s := range []string{"shipping", "delivered"} {
		w = testutil.Do(t, f.r, http.MethodPut, "/admin/books/"+bookID+"/delivery", gin.H{"status": s})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = testutil.Do(t, f.r, http.MethodPost, "/admin/issues/"+issue.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var published issues.Issue
	require.NoError(t, f.db.First(&published, "id = ?", issue.ID).Error)
	assert.Equal(t, issues.StatusPublished, published.Status)

	w = testutil.Do(t, f.r, http.MethodGet, "/admin/books/pending", nil)
	testutil.Decode(t, w, &pending)
	assert.Empty(t, pending)
}

func TestListings(t *testing.T) {
	f := setup(t)
	leader := testutil.NewUser(t, f.db, "mina")
	g, _ := testutil.NewGroup(t, f.db, leader, testutil.Date(2026, 10, 25))
	testutil.NewSubscription(t, f.db, g.ID, leader.ID, true)

	w := testutil.Do(t, f.r, http.MethodGet, "/admin/groups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var groupsResp []AdminGroup
	testutil.Decode(t, w, &groupsResp)
	require.Len(t, groupsResp, 1)
	assert.Equal(t, "mina@example.com", groupsResp[0].LeaderEmail)

	w = testutil.Do(t, f.r, http.MethodGet, "/admin/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payments []AdminPayment
	testutil.Decode(t, w, &payments)
	require.Len(t, payments, 1)
	assert.Equal(t, g.ID, payments[0].GroupID)
}
