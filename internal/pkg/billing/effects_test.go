package billing

import (
	"testing"
	"time"

	"github.com/antonkashirin/lexibot/app/models"
	"github.com/stretchr/testify/assert"
)

func seedUser(t *testing.T, repo *fakeRepository, status string, renewAt *time.Time) *models.AppUser {
	t.Helper()
	user, err := repo.GetOrCreateUserByTGID(777)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	user.SubscriptionStatus = status
	user.SubscriptionRenewAt = renewAt
	if err := repo.SaveUser(user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return user
}

func monthly() Product {
	return Product{Code: "sub_monthly", Amount: 299, Currency: "eur", Unit: UnitMonth, ProviderProductID: 1001}
}

func TestExtendSubscriptionActiveExtendsFromRenewAt(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	renewAt := now.AddDate(0, 0, 10)
	user := seedUser(t, repo, models.SubscriptionStatusActive, &renewAt)

	if err := applyPurchaseEffects(repo, user.ID, monthly(), 1, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	after, _ := repo.GetUserByIDForUpdate(user.ID)
	assert.Equal(t, renewAt.AddDate(0, 1, 0), *after.SubscriptionRenewAt, "remaining days are preserved")
	assert.Equal(t, models.SubscriptionStatusActive, after.SubscriptionStatus)
}

func TestExtendSubscriptionExpiredRestartsFromNow(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lapsed := now.AddDate(0, -2, 0)
	user := seedUser(t, repo, models.SubscriptionStatusActive, &lapsed)

	if err := applyPurchaseEffects(repo, user.ID, monthly(), 1, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	after, _ := repo.GetUserByIDForUpdate(user.ID)
	assert.Equal(t, now.AddDate(0, 1, 0), *after.SubscriptionRenewAt, "lapsed period is not back-credited")
}

func TestExtendSubscriptionFreshUser(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := seedUser(t, repo, models.SubscriptionStatusNone, nil)

	yearly := Product{Code: "sub_yearly", Amount: 2900, Currency: "eur", Unit: UnitYear, ProviderProductID: 1002}
	if err := applyPurchaseEffects(repo, user.ID, yearly, 2, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	after, _ := repo.GetUserByIDForUpdate(user.ID)
	assert.Equal(t, models.SubscriptionStatusActive, after.SubscriptionStatus)
	assert.Equal(t, now.AddDate(2, 0, 0), *after.SubscriptionRenewAt)
}

func TestExtendSubscriptionNeverShortens(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	farFuture := now.AddDate(3, 0, 0)

	// Status none with a future renew-at: the restart-from-now branch
	// computes now+1mo, which lands before the stored renew-at and must
	// be dropped.
	user := seedUser(t, repo, models.SubscriptionStatusNone, &farFuture)
	if err := applyPurchaseEffects(repo, user.ID, monthly(), 1, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	after, _ := repo.GetUserByIDForUpdate(user.ID)
	assert.Equal(t, farFuture, *after.SubscriptionRenewAt, "renew-at must never move backwards")
}

func TestTopUpConversions(t *testing.T) {
	repo := newFakeRepository()
	now := time.Now()
	user := seedUser(t, repo, models.SubscriptionStatusNone, nil)

	audio := Product{Code: "audio_topup", Amount: 10, Currency: "eur", Unit: UnitMinute, ProviderProductID: 1003}
	if err := applyPurchaseEffects(repo, user.ID, audio, 7, now); err != nil {
		t.Fatalf("apply audio: %v", err)
	}
	tokens := Product{Code: "tokens_topup", Amount: 100, Currency: "eur", Unit: UnitTokenPack, ProviderProductID: 1004}
	if err := applyPurchaseEffects(repo, user.ID, tokens, 2, now); err != nil {
		t.Fatalf("apply tokens: %v", err)
	}

	after, _ := repo.GetUserByIDForUpdate(user.ID)
	assert.Equal(t, int64(7*60), after.AudioSecondsTotal)
	assert.Equal(t, int64(2*100_000), after.TextTokensTotal)
	assert.Equal(t, models.SubscriptionStatusNone, after.SubscriptionStatus, "top-ups do not touch the subscription")
}

func TestApplyEffectsUnknownUnit(t *testing.T) {
	repo := newFakeRepository()
	user := seedUser(t, repo, models.SubscriptionStatusNone, nil)

	bad := Product{Code: "mystery", Amount: 1, Currency: "eur", Unit: "week", ProviderProductID: 1}
	err := applyPurchaseEffects(repo, user.ID, bad, 1, time.Now())
	assert.ErrorIs(t, err, ErrUnknownProduct)
}
