package models

import "time"

const (
	SubscriptionStatusNone   = "none"
	SubscriptionStatusActive = "active"
)

// AppUser is the bot user account. Billing mutates the subscription
// fields and the cumulative counters; the bot's usage logger writes the
// same counter columns from the other direction.
type AppUser struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	TGUserID            int64      `gorm:"uniqueIndex;not null" json:"tg_user_id"`
	SubscriptionStatus  string     `gorm:"type:varchar(20);not null;default:'none';index" json:"subscription_status"`
	SubscriptionRenewAt *time.Time `gorm:"type:timestamp;default:null" json:"subscription_renew_at,omitempty"`
	TextTokensTotal     int64      `gorm:"not null;default:0" json:"text_tokens_total"`
	AudioSecondsTotal   int64      `gorm:"not null;default:0" json:"audio_seconds_total"`
	SpentTotal          int64      `gorm:"not null;default:0" json:"spent_total"`
	PrivacyAccepted     bool       `gorm:"default:false" json:"privacy_accepted"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SubscriptionActiveAt reports whether the subscription entitles the
// user at the given instant.
func (u *AppUser) SubscriptionActiveAt(now time.Time) bool {
	return u.SubscriptionStatus == SubscriptionStatusActive &&
		u.SubscriptionRenewAt != nil &&
		u.SubscriptionRenewAt.After(now)
}
