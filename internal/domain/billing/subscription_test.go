package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBillable(t *testing.T) {
	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	assert.True(t, Subscription{Status: SubscriptionActive}.Billable(today))
	assert.True(t, Subscription{Status: SubscriptionActive, EndDate: &today}.Billable(today))
	assert.False(t, Subscription{Status: SubscriptionActive, EndDate: &yesterday}.Billable(today))
	assert.False(t, Subscription{Status: SubscriptionCancelled}.Billable(today))
}

func TestDue(t *testing.T) {
	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)

	assert.True(t, Subscription{Status: SubscriptionActive, NextBillingDate: &today}.Due(today))
	assert.False(t, Subscription{Status: SubscriptionActive, NextBillingDate: &tomorrow}.Due(today))
	assert.False(t, Subscription{Status: SubscriptionActive}.Due(today))
	assert.False(t, Subscription{Status: SubscriptionExpired, NextBillingDate: &today}.Due(today))
}

func TestKeys(t *testing.T) {
	d := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "charge-sub1-20260305", ChargeKey("sub1", d))
	assert.Equal(t, ChargeKey("sub1", d), ChargeAttemptKey("sub1", d, 1))
	assert.Equal(t, "charge-sub1-20260305-3", ChargeAttemptKey("sub1", d, 3))
	assert.Equal(t, "cancel-p1", CancelKey("p1"))
}
