package billing

import (
	"time"

	"github.com/antonkashirin/lexibot/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
// Transaction returns a Repository bound to the transaction so the
// paid-transition and its account effects commit as one unit.
type Repository interface {
	Transaction(fn func(Repository) error) error

	GetOrCreateUserByTGID(tgUserID int64) (*models.AppUser, error)
	GetUserByIDForUpdate(id uint) (*models.AppUser, error)
	SaveUser(user *models.AppUser) error
	AddUserCounters(userID uint, textTokens, audioSeconds, spent int64) error

	CreatePurchase(p *models.Purchase) error
	GetPurchaseByUUID(uuid string) (*models.Purchase, error)
	FindPendingPurchase(tgUserID, providerProductID int64) (*models.Purchase, error)
	FindPendingPurchaseForUpdate(tgUserID, providerProductID int64) (*models.Purchase, error)
	FindPurchaseByChargeID(chargeID string) (*models.Purchase, error)
	TransitionPurchase(id uint, from, to string, updates map[string]interface{}) (bool, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetOrCreateUserByTGID(tgUserID int64) (*models.AppUser, error) {
	user := &models.AppUser{
		TGUserID:           tgUserID,
		SubscriptionStatus: models.SubscriptionStatusNone,
		// Assume accepted when the user reaches checkout.
		PrivacyAccepted: true,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tg_user_id"}},
		DoNothing: true,
	}).Create(user).Error; err != nil {
		return nil, err
	}

	var stored models.AppUser
	if err := r.db.Where("tg_user_id = ?", tgUserID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) GetUserByIDForUpdate(id uint) (*models.AppUser, error) {
	var user models.AppUser
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SaveUser(user *models.AppUser) error {
	return r.db.Save(user).Error
}

// AddUserCounters applies counter deltas as a single atomic UPDATE so
// concurrent effects on the same user never lose increments.
func (r *gormRepository) AddUserCounters(userID uint, textTokens, audioSeconds, spent int64) error {
	updates := map[string]interface{}{}
	if textTokens != 0 {
		updates["text_tokens_total"] = gorm.Expr("text_tokens_total + ?", textTokens)
	}
	if audioSeconds != 0 {
		updates["audio_seconds_total"] = gorm.Expr("audio_seconds_total + ?", audioSeconds)
	}
	if spent != 0 {
		updates["spent_total"] = gorm.Expr("spent_total + ?", spent)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.AppUser{}).Where("id = ?", userID).Updates(updates).Error
}

func (r *gormRepository) CreatePurchase(p *models.Purchase) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) GetPurchaseByUUID(uuid string) (*models.Purchase, error) {
	var p models.Purchase
	if err := r.db.Where("uuid = ?", uuid).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPendingPurchase(tgUserID, providerProductID int64) (*models.Purchase, error) {
	return r.findPendingPurchase(r.db, tgUserID, providerProductID)
}

func (r *gormRepository) FindPendingPurchaseForUpdate(tgUserID, providerProductID int64) (*models.Purchase, error) {
	return r.findPendingPurchase(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), tgUserID, providerProductID)
}

func (r *gormRepository) findPendingPurchase(db *gorm.DB, tgUserID, providerProductID int64) (*models.Purchase, error) {
	var p models.Purchase
	err := db.
		Where("tg_user_id = ? AND provider_product_id = ? AND status = ?",
			tgUserID, providerProductID, models.PurchaseStatusPending).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPurchaseByChargeID(chargeID string) (*models.Purchase, error) {
	var p models.Purchase
	if err := r.db.Where("provider_charge_id = ?", chargeID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionPurchase performs a guarded status change: the UPDATE only
// matches while the row is still in the expected source status, so two
// concurrent deliveries can never both win the same transition. The
// returned bool reports whether this caller performed the change.
func (r *gormRepository) TransitionPurchase(id uint, from, to string, updates map[string]interface{}) (bool, error) {
	if !models.PurchaseStatusCanTransition(from, to) {
		return false, ErrIllegalTransition
	}

	set := map[string]interface{}{"status": to}
	for k, v := range updates {
		set[k] = v
	}
	tx := r.db.Model(&models.Purchase{}).
		Where("id = ? AND status = ?", id, from).
		Updates(set)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
