package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderTribute = "tribute"
)

const (
	PurchaseStatusPending  = "pending"
	PurchaseStatusPaid     = "paid"
	PurchaseStatusFailed   = "failed"
	PurchaseStatusRefunded = "refunded"
)

// Purchase tracks one attempt to buy one product, end-to-end. The row
// is the single source of truth for whether a provider charge has been
// applied to the user account.
type Purchase struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UUID              string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	TGUserID          int64      `gorm:"not null;index:idx_purchases_tg_product,priority:1" json:"tg_user_id"`
	ProductCode       string     `gorm:"type:varchar(50);not null;index" json:"product_code"`
	Quantity          int        `gorm:"not null;default:1" json:"quantity"`
	ProviderProductID int64      `gorm:"not null;index:idx_purchases_tg_product,priority:2" json:"provider_product_id"`
	TotalAmount       int64      `gorm:"not null" json:"total_amount"`
	Currency          string     `gorm:"type:varchar(8);not null" json:"currency"`
	Status            string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ProviderChargeID  string     `gorm:"type:varchar(191);default:null;index:ux_purchases_charge,unique" json:"provider_charge_id,omitempty"`
	RawPayloadJSON    string     `gorm:"type:longtext" json:"raw_payload_json,omitempty"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransitionTo encodes the legal edges of the purchase state
// machine: pending→paid, pending→failed, paid→refunded.
func (p *Purchase) CanTransitionTo(next string) bool {
	return PurchaseStatusCanTransition(p.Status, next)
}

func PurchaseStatusCanTransition(current, next string) bool {
	switch current {
	case PurchaseStatusPending:
		return next == PurchaseStatusPaid || next == PurchaseStatusFailed
	case PurchaseStatusPaid:
		return next == PurchaseStatusRefunded
	default:
		return false
	}
}
