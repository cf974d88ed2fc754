package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPurchaseStatusTransitions(t *testing.T) {
	legal := map[string][]string{
		PurchaseStatusPending: {PurchaseStatusPaid, PurchaseStatusFailed},
		PurchaseStatusPaid:    {PurchaseStatusRefunded},
	}

	statuses := []string{PurchaseStatusPending, PurchaseStatusPaid, PurchaseStatusFailed, PurchaseStatusRefunded}
	for _, from := range statuses {
		for _, to := range statuses {
			want := false
			for _, allowed := range legal[from] {
				if to == allowed {
					want = true
				}
			}
			got := PurchaseStatusCanTransition(from, to)
			assert.Equal(t, want, got, "%s -> %s", from, to)
		}
	}
}

func TestPurchaseCanTransitionTo(t *testing.T) {
	p := &Purchase{Status: PurchaseStatusPending}
	assert.True(t, p.CanTransitionTo(PurchaseStatusPaid))
	assert.False(t, p.CanTransitionTo(PurchaseStatusRefunded))

	p.Status = PurchaseStatusFailed
	assert.False(t, p.CanTransitionTo(PurchaseStatusPaid), "failed is terminal")

	p.Status = "garbage"
	assert.False(t, p.CanTransitionTo(PurchaseStatusPaid))
}

func TestSubscriptionActiveAt(t *testing.T) {
	now := time.Now()
	future := now.AddDate(0, 1, 0)
	past := now.AddDate(0, -1, 0)

	u := &AppUser{SubscriptionStatus: SubscriptionStatusActive, SubscriptionRenewAt: &future}
	assert.True(t, u.SubscriptionActiveAt(now))

	u.SubscriptionRenewAt = &past
	assert.False(t, u.SubscriptionActiveAt(now), "renew-at in the past means expired")

	u.SubscriptionRenewAt = nil
	assert.False(t, u.SubscriptionActiveAt(now))

	u = &AppUser{SubscriptionStatus: SubscriptionStatusNone, SubscriptionRenewAt: &future}
	assert.False(t, u.SubscriptionActiveAt(now), "status gates the renew-at check")
}
