package billing

import (
	"net/http"
	"testing"

	"familybook/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaymentHistory(t *testing.T) {
	db := testutil.NewTestDB(t)
	leader := testutil.NewUser(t, db, "mina")
	g, _ := testutil.NewGroup(t, db, leader, testutil.Date(2026, 10, 25))
	_, payment := testutil.NewSubscription(t, db, g.ID, leader.ID, true)

	other := testutil.NewUser(t, db, "jun")
	g2, _ := testutil.NewGroup(t, db, other, testutil.Date(2026, 10, 25))
	testutil.NewSubscription(t, db, g2.ID, other.ID, true)

	h := NewHandler(db)
	r := testutil.NewRouter(leader)
	r.GET("/payments", h.GetPaymentHistory)

	w := testutil.Do(t, r, http.MethodGet, "/payments", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got []PaymentDTO
	testutil.Decode(t, w, &got)
	require.Len(t, got, 1)
	assert.Equal(t, payment.ID, got[0].ID)
	assert.Equal(t, g.ID, got[0].GroupID)
	assert.EqualValues(t, 19900, got[0].Amount)

	w = testutil.Do(t, r, http.MethodGet, "/payments?group_id="+g2.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
