package billing

import (
	"fmt"
	"time"

	"github.com/antonkashirin/lexibot/app/models"
)

// applyPurchaseEffects grants what a paid product entitles the user to.
// It runs inside the paid-transition transaction: a failure here rolls
// the status flip back, so a charge is never marked paid without its
// benefit. The ledger's single-transition rule guarantees this runs at
// most once per purchase.
func applyPurchaseEffects(repo Repository, userID uint, product Product, quantity int, now time.Time) error {
	switch product.Unit {
	case UnitMonth, UnitYear:
		return extendSubscription(repo, userID, product.Unit, quantity, now)
	case UnitMinute:
		return repo.AddUserCounters(userID, 0, int64(quantity)*SecondsPerMinute, 0)
	case UnitTokenPack:
		return repo.AddUserCounters(userID, int64(quantity)*TokensPerPack, 0, 0)
	default:
		return fmt.Errorf("%w: unit %q of %s", ErrUnknownProduct, product.Unit, product.Code)
	}
}

// extendSubscription moves the renewal timestamp forward by the product
// period. An active subscription is extended from its current renew-at;
// an expired or absent one restarts from now. The row is read under a
// row lock so two simultaneous paid events serialize.
func extendSubscription(repo Repository, userID uint, unit string, quantity int, now time.Time) error {
	user, err := repo.GetUserByIDForUpdate(userID)
	if err != nil {
		return err
	}

	base := now
	if user.SubscriptionActiveAt(now) {
		base = *user.SubscriptionRenewAt
	}

	var renewAt time.Time
	switch unit {
	case UnitMonth:
		renewAt = base.AddDate(0, quantity, 0)
	case UnitYear:
		renewAt = base.AddDate(quantity, 0, 0)
	}
	if user.SubscriptionRenewAt != nil && renewAt.Before(*user.SubscriptionRenewAt) {
		// Never shorten an existing subscription.
		return nil
	}

	user.SubscriptionStatus = models.SubscriptionStatusActive
	user.SubscriptionRenewAt = &renewAt
	return repo.SaveUser(user)
}
