package entitlements

import (
	"time"

	"github.com/antonkashirin/lexibot/app/models"
)

// Snapshot is what a user account currently entitles them to. It is a
// pure projection of the account row; the bot polls it to gate features
// without reaching into billing internals.
type Snapshot struct {
	SubscriptionActive  bool       `json:"subscription_active"`
	SubscriptionRenewAt *time.Time `json:"subscription_renew_at,omitempty"`
	TextTokensTotal     int64      `json:"text_tokens_total"`
	AudioSecondsTotal   int64      `json:"audio_seconds_total"`
	SpentTotal          int64      `json:"spent_total"`
}

// ForUser computes the entitlement snapshot at the given instant.
func ForUser(user *models.AppUser, now time.Time) Snapshot {
	snap := Snapshot{
		TextTokensTotal:   user.TextTokensTotal,
		AudioSecondsTotal: user.AudioSecondsTotal,
		SpentTotal:        user.SpentTotal,
	}
	if user.SubscriptionActiveAt(now) {
		snap.SubscriptionActive = true
		snap.SubscriptionRenewAt = user.SubscriptionRenewAt
	}
	return snap
}
