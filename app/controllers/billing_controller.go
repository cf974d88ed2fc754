package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/antonkashirin/lexibot/app/models"
	"github.com/antonkashirin/lexibot/internal/pkg/billing"
	"github.com/antonkashirin/lexibot/internal/pkg/cache"
	"github.com/antonkashirin/lexibot/internal/pkg/database"
	"github.com/antonkashirin/lexibot/internal/pkg/entitlements"
	"github.com/antonkashirin/lexibot/internal/pkg/env"
	"github.com/antonkashirin/lexibot/internal/pkg/security"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

const (
	pricingCacheKey        = "billing:pricing"
	pricingCacheExpiration = 5 * time.Minute
)

var billingService *billing.Service

// SetupBillingController injects the billing service. main wires the
// real one; tests inject fakes.
func SetupBillingController(svc *billing.Service) {
	billingService = svc
}

func getBillingService() *billing.Service {
	if billingService == nil {
		catalog, err := billing.LoadCatalog()
		if err != nil {
			panic(err)
		}
		billingService = billing.NewServiceFromDB(database.GetDB(), catalog)
	}
	return billingService
}

type pricingEntry struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Unit     string `json:"unit"`
	Name     string `json:"name"`
	Discount int    `json:"discount,omitempty"`
}

// HandleGetPricing serves the product catalog. No auth; cached in
// redis so the Mini-App can poll it freely.
func HandleGetPricing(c *fiber.Ctx) error {
	if cached, err := cache.Get(pricingCacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	pricing := make(map[string]pricingEntry)
	for _, p := range getBillingService().Catalog().Products() {
		pricing[p.Code] = pricingEntry{
			Amount:   p.Amount,
			Currency: p.Currency,
			Unit:     p.Unit,
			Name:     p.Name,
			Discount: p.DiscountPercent,
		}
	}

	body := fiber.Map{"success": true, "data": pricing}
	if encoded, err := json.Marshal(body); err == nil {
		if err := cache.Set(pricingCacheKey, string(encoded), pricingCacheExpiration); err != nil {
			log.Printf("billing: could not cache pricing: %v", err)
		}
	}
	return c.JSON(body)
}

type createPurchaseRequest struct {
	InitData    string `json:"init_data" validate:"required"`
	TGUserID    int64  `json:"tg_user_id" validate:"required,gt=0"`
	ProductCode string `json:"product_code" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
}

// HandleCreatePurchase verifies the Mini-App identity proof and asks
// the orchestrator for a pending purchase plus checkout link.
func HandleCreatePurchase(c *fiber.Ctx) error {
	var req createPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed JSON body")
	}
	if err := validator.New().Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	claims, err := security.VerifyInitData(req.InitData, env.GetEnv("BOT_TOKEN", ""), initDataMaxAge())
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_identity", "Identity proof could not be verified")
	}
	if claims.User.ID != req.TGUserID {
		return jsonError(c, fiber.StatusBadRequest, "invalid_identity", "User id does not match identity proof")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := getBillingService().CreatePurchase(ctx, billing.CreatePurchaseInput{
		TGUserID:    req.TGUserID,
		ProductCode: req.ProductCode,
		Quantity:    req.Quantity,
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownProduct):
			return jsonError(c, fiber.StatusBadRequest, "unknown_product", "Unknown or unconfigured product code")
		case errors.Is(err, billing.ErrInvalidQuantity):
			return jsonError(c, fiber.StatusBadRequest, "invalid_quantity", "Quantity out of allowed range")
		case errors.Is(err, billing.ErrConcurrentPurchase):
			return jsonError(c, fiber.StatusConflict, "purchase_in_progress", "Another purchase for this product is being created")
		case errors.Is(err, billing.ErrQuantityMismatch):
			return jsonError(c, fiber.StatusConflict, "pending_quantity_mismatch", "A pending purchase for this product exists with a different quantity")
		case errors.Is(err, billing.ErrProviderRejected):
			return jsonError(c, fiber.StatusBadRequest, "provider_rejected", "Payment provider rejected the product")
		case errors.Is(err, billing.ErrProviderUnavailable):
			return jsonError(c, fiber.StatusBadGateway, "provider_unavailable", "Payment provider is unavailable, try again")
		default:
			log.Printf("billing: create purchase failed: %v", err)
			return jsonError(c, fiber.StatusInternalServerError, "persistence_error", "Could not create purchase")
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"payment_url":  result.PaymentURL,
			"total_amount": result.TotalAmount,
			"currency":     result.Currency,
			"payment_id":   result.PurchaseID,
		},
	})
}

// HandleGetAccount returns what the verified user's account currently
// entitles them to. Identity comes from the same Mini-App init data as
// purchase creation, passed as a header so the endpoint stays a GET.
func HandleGetAccount(c *fiber.Ctx) error {
	initData := firstHeaderValue(c, "X-Telegram-Init-Data")
	if initData == "" {
		initData = c.Query("init_data")
	}

	claims, err := security.VerifyInitData(initData, env.GetEnv("BOT_TOKEN", ""), initDataMaxAge())
	if err != nil {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_identity", "Identity proof could not be verified")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := getBillingService().GetAccount(ctx, claims.User.ID)
	if err != nil {
		log.Printf("billing: account lookup failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "persistence_error", "Could not load account")
	}

	return c.JSON(fiber.Map{"success": true, "data": entitlements.ForUser(user, time.Now())})
}

// HandleTributeWebhook processes provider callbacks. The signature is
// checked against the raw body before anything is parsed; only a bad
// signature yields 401 and only an unparseable payload yields 400, so
// the provider stops retrying everything else.
func HandleTributeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := firstHeaderValue(c, "trbt-signature", "X-Tribute-Signature")
	secret := env.GetEnv("TRIBUTE_WEBHOOK_SECRET", "")

	signatureValid := billing.VerifyWebhookSignature(rawBody, signature, secret)

	svc := getBillingService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:       models.BillingProviderTribute,
		EventType:      "",
		PayloadJSON:    string(rawBody),
		SignatureValid: signatureValid,
	})
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "Could not persist webhook event")
	}
	if !signatureValid {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature mismatch")
	}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return c.JSON(fiber.Map{"ok": true, "duplicate": true})
		}
		// The earlier delivery of this event never processed cleanly
		// (transient apply failure, or it arrived before the webhook
		// secret was configured). Run it again; ApplyPaidEvent is
		// idempotent, so a repeat of an already-applied charge still
		// ends as a duplicate ack.
	}

	envelope, err := billing.ParseTributeWebhook(rawBody)
	if err != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be parsed")
	}

	switch envelope.Name {
	case billing.TributeEventDigitalProduct:
		paid, err := billing.ParseTributePaidEvent(envelope, rawBody)
		if err != nil {
			_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Digital product payload could not be parsed")
		}
		applyErr := svc.ApplyPaidEvent(ctx, *paid)
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, applyErr)
		switch {
		case applyErr == nil:
			return c.JSON(fiber.Map{"ok": true})
		case errors.Is(applyErr, billing.ErrDuplicateCharge):
			return c.JSON(fiber.Map{"ok": true, "duplicate": true})
		case errors.Is(applyErr, billing.ErrNoMatchingPurchase):
			// Signature was valid but nothing matched: alertable.
			log.Printf("billing: ALERT unmatched paid event: %v", applyErr)
			return c.JSON(fiber.Map{"ok": true, "ignored": true})
		case errors.Is(applyErr, billing.ErrIllegalTransition):
			log.Printf("billing: ALERT illegal transition from webhook: %v", applyErr)
			return c.JSON(fiber.Map{"ok": true, "ignored": true})
		default:
			return jsonError(c, fiber.StatusInternalServerError, "apply_failed", "Paid event could not be applied")
		}
	case billing.TributeEventRefund:
		chargeID, err := billing.ParseTributeRefundEvent(envelope)
		if err != nil {
			_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Refund payload could not be parsed")
		}
		refundErr := svc.RefundCharge(ctx, chargeID)
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, refundErr)
		switch {
		case refundErr == nil:
			return c.JSON(fiber.Map{"ok": true})
		case errors.Is(refundErr, billing.ErrNoMatchingPurchase), errors.Is(refundErr, billing.ErrIllegalTransition):
			log.Printf("billing: ALERT refund event not applied: %v", refundErr)
			return c.JSON(fiber.Map{"ok": true, "ignored": true})
		default:
			return jsonError(c, fiber.StatusInternalServerError, "apply_failed", "Refund event could not be applied")
		}
	default:
		log.Printf("billing: unhandled webhook event %q", envelope.Name)
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}
}

// HandleRefundPurchase is the administrative paid→refunded transition.
func HandleRefundPurchase(c *fiber.Ctx) error {
	purchaseUUID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	purchase, err := getBillingService().RefundPurchase(ctx, purchaseUUID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrIllegalTransition):
			return jsonError(c, fiber.StatusConflict, "illegal_transition", "Only paid purchases can be refunded")
		default:
			return jsonError(c, fiber.StatusNotFound, "purchase_not_found", "No purchase with that id")
		}
	}

	return c.JSON(fiber.Map{"success": true, "data": purchase})
}

func initDataMaxAge() time.Duration {
	seconds, err := strconv.Atoi(env.GetEnv("BILLING_INITDATA_MAX_AGE", "3600"))
	if err != nil || seconds < 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
