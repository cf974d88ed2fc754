package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/antonkashirin/lexibot/app/models"
	"github.com/antonkashirin/lexibot/internal/pkg/cache"
	"github.com/antonkashirin/lexibot/internal/pkg/env"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultMaxQuantity = 100

// purchaseCreateLockTTL bounds how long a crashed creator can block
// other purchases of the same (user, product).
const purchaseCreateLockTTL = 30 * time.Second

// ProviderClient is what the orchestrator needs from a payment
// provider: a hosted checkout link for a provider-side product.
type ProviderClient interface {
	GetPaymentLink(ctx context.Context, providerProductID int64) (string, error)
}

// Locker serializes purchase creation per (user, product). The Tribute
// digital-product webhook carries no correlation id, so at most one
// pending purchase per (user, product) may exist or the webhook match
// would be ambiguous.
type Locker interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string)
}

type cacheLocker struct{}

func (cacheLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	return cache.AcquireLock(key, ttl)
}

func (cacheLocker) Release(key string) { cache.ReleaseLock(key) }

// Service implements the purchase orchestrator and the paid-event
// state machine on top of the ledger repository.
type Service struct {
	repo     Repository
	catalog  *Catalog
	provider ProviderClient
	locker   Locker

	maxQuantity int
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, catalog *Catalog, provider ProviderClient, locker Locker, maxQuantity int) *Service {
	if maxQuantity <= 0 {
		maxQuantity = defaultMaxQuantity
	}
	if locker == nil {
		locker = cacheLocker{}
	}
	return &Service{
		repo:        repo,
		catalog:     catalog,
		provider:    provider,
		locker:      locker,
		maxQuantity: maxQuantity,
	}
}

// NewServiceFromDB wires the service with the GORM repository, the env
// catalog and the Tribute client.
func NewServiceFromDB(db *gorm.DB, catalog *Catalog) *Service {
	maxQty, _ := strconv.Atoi(env.GetEnv("BILLING_MAX_QUANTITY", ""))
	return NewService(NewRepository(db), catalog, NewTributeClientFromEnv(), nil, maxQty)
}

// Catalog exposes the injected catalog for read-only consumers.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// CreatePurchase resolves pricing from the catalog, writes a pending
// ledger row and obtains a checkout link. The pending row is written
// before the provider call so a charge can never exist without a local
// record. Identity is asserted by the caller.
func (s *Service) CreatePurchase(ctx context.Context, in CreatePurchaseInput) (*CreatePurchaseResult, error) {
	if in.Quantity < 1 || in.Quantity > s.maxQuantity {
		return nil, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidQuantity, in.Quantity, s.maxQuantity)
	}

	product, err := s.catalog.Get(in.ProductCode)
	if err != nil {
		return nil, err
	}
	if product.ProviderProductID <= 0 {
		return nil, fmt.Errorf("%w: %s has no provider product configured", ErrUnknownProduct, product.Code)
	}

	lockKey := fmt.Sprintf("billing:purchase:create:%d:%d", in.TGUserID, product.ProviderProductID)
	acquired, err := s.locker.Acquire(lockKey, purchaseCreateLockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !acquired {
		return nil, ErrConcurrentPurchase
	}
	defer s.locker.Release(lockKey)

	user, err := s.repo.GetOrCreateUserByTGID(in.TGUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// A pending purchase for the same (user, product) is returned again
	// instead of creating an ambiguous sibling row.
	if existing, err := s.repo.FindPendingPurchase(in.TGUserID, product.ProviderProductID); err == nil {
		if existing.Quantity != in.Quantity {
			return nil, fmt.Errorf("%w: pending purchase %s has quantity %d", ErrQuantityMismatch, existing.UUID, existing.Quantity)
		}
		paymentURL, linkErr := s.provider.GetPaymentLink(ctx, product.ProviderProductID)
		if linkErr != nil {
			return nil, linkErr
		}
		return &CreatePurchaseResult{
			PurchaseID:  existing.UUID,
			PaymentURL:  paymentURL,
			TotalAmount: existing.TotalAmount,
			Currency:    existing.Currency,
			Reused:      true,
		}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	purchase := &models.Purchase{
		UUID:              uuid.NewString(),
		UserID:            user.ID,
		TGUserID:          in.TGUserID,
		ProductCode:       product.Code,
		Quantity:          in.Quantity,
		ProviderProductID: product.ProviderProductID,
		TotalAmount:       product.Amount * int64(in.Quantity),
		Currency:          product.Currency,
		Status:            models.PurchaseStatusPending,
	}
	if err := s.repo.CreatePurchase(purchase); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	paymentURL, err := s.provider.GetPaymentLink(ctx, product.ProviderProductID)
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			// Deterministic provider error: close the row so a later
			// webhook cannot resurrect this attempt by accident.
			if _, ferr := s.repo.TransitionPurchase(purchase.ID, models.PurchaseStatusPending, models.PurchaseStatusFailed, nil); ferr != nil {
				log.Printf("billing: could not mark purchase %s failed: %v", purchase.UUID, ferr)
			}
		}
		// Ambiguous failures leave the row pending; the caller retries.
		return nil, err
	}

	return &CreatePurchaseResult{
		PurchaseID:  purchase.UUID,
		PaymentURL:  paymentURL,
		TotalAmount: purchase.TotalAmount,
		Currency:    purchase.Currency,
	}, nil
}

// GetAccount returns the account row for a Telegram user, creating it
// on first contact.
func (s *Service) GetAccount(ctx context.Context, tgUserID int64) (*models.AppUser, error) {
	_ = ctx
	user, err := s.repo.GetOrCreateUserByTGID(tgUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return user, nil
}

// ApplyPaidEvent drives a verified paid webhook through the ledger:
// match the pending purchase, flip it to paid and apply the account
// effects, all in one transaction. Replays and unmatched events return
// ErrDuplicateCharge / ErrNoMatchingPurchase, which callers acknowledge
// to the provider without re-processing.
func (s *Service) ApplyPaidEvent(ctx context.Context, ev PaidEvent) error {
	_ = ctx
	return s.repo.Transaction(func(tx Repository) error {
		if ev.ChargeID != "" {
			applied, err := tx.FindPurchaseByChargeID(ev.ChargeID)
			if err == nil && applied.Status != models.PurchaseStatusPending {
				return ErrDuplicateCharge
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		purchase, err := tx.FindPendingPurchaseForUpdate(ev.TGUserID, ev.ProviderProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: product=%d tg_user=%d", ErrNoMatchingPurchase, ev.ProviderProductID, ev.TGUserID)
			}
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"raw_payload_json": ev.RawPayloadJSON,
			"paid_at":          &now,
		}
		// An absent charge id must leave the column NULL; writing ''
		// would collide on the unique charge index at the second
		// charge-less payment.
		if ev.ChargeID != "" {
			updates["provider_charge_id"] = ev.ChargeID
		}
		won, err := tx.TransitionPurchase(purchase.ID, models.PurchaseStatusPending, models.PurchaseStatusPaid, updates)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent delivery finalized the row first.
			return ErrDuplicateCharge
		}

		product, err := s.catalog.Get(purchase.ProductCode)
		if err != nil {
			return err
		}
		if err := applyPurchaseEffects(tx, purchase.UserID, product, purchase.Quantity, now); err != nil {
			return err
		}
		return tx.AddUserCounters(purchase.UserID, 0, 0, purchase.TotalAmount)
	})
}

// RefundPurchase transitions a paid purchase to refunded. Any other
// source status is an illegal transition.
func (s *Service) RefundPurchase(ctx context.Context, purchaseUUID string) (*models.Purchase, error) {
	_ = ctx
	purchase, err := s.repo.GetPurchaseByUUID(strings.TrimSpace(purchaseUUID))
	if err != nil {
		return nil, err
	}
	won, err := s.repo.TransitionPurchase(purchase.ID, models.PurchaseStatusPaid, models.PurchaseStatusRefunded, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: %s is %s", ErrIllegalTransition, purchase.UUID, purchase.Status)
	}
	purchase.Status = models.PurchaseStatusRefunded
	return purchase, nil
}

// RefundCharge handles a provider-side refund event by charge id.
func (s *Service) RefundCharge(ctx context.Context, chargeID string) error {
	_ = ctx
	purchase, err := s.repo.FindPurchaseByChargeID(strings.TrimSpace(chargeID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: charge=%s", ErrNoMatchingPurchase, chargeID)
		}
		return err
	}
	won, err := s.repo.TransitionPurchase(purchase.ID, models.PurchaseStatusPaid, models.PurchaseStatusRefunded, nil)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("%w: charge=%s purchase=%s is %s", ErrIllegalTransition, chargeID, purchase.UUID, purchase.Status)
	}
	return nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}
