package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antonkashirin/lexibot/internal/pkg/env"
)

const defaultTributeAPIBaseURL = "https://tribute.tg/api/v1"

// TributeClient talks to the Tribute.tg API. Digital products are
// created on the Tribute side; we only resolve their payment links.
type TributeClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewTributeClientFromEnv() *TributeClient {
	return &TributeClient{
		APIKey:     strings.TrimSpace(env.GetEnv("TRIBUTE_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("TRIBUTE_API_BASE_URL", defaultTributeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetPaymentLink fetches the hosted checkout link for a provider
// product. Network and 5xx failures map to ErrProviderUnavailable,
// 4xx responses to ErrProviderRejected so the caller can tell an
// ambiguous failure from a deterministic one.
func (c *TributeClient) GetPaymentLink(ctx context.Context, providerProductID int64) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", errors.New("TRIBUTE_API_KEY is not configured")
	}

	url := fmt.Sprintf("%s/products/%d", strings.TrimRight(c.APIBaseURL, "/"), providerProductID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Api-Key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to parsing
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: status=%d body=%s", ErrProviderRejected, resp.StatusCode, string(body))
	default:
		return "", fmt.Errorf("%w: status=%d", ErrProviderUnavailable, resp.StatusCode)
	}

	var out struct {
		WebLink string `json:"webLink"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: invalid product response: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(out.WebLink) == "" {
		// Tribute occasionally omits webLink for older products.
		return fmt.Sprintf("https://tribute.tg/product/%d", providerProductID), nil
	}
	return out.WebLink, nil
}

// Tribute webhook event names we care about.
const (
	TributeEventDigitalProduct = "new_digital_product"
	TributeEventRefund         = "refund"
)

// TributeWebhookEnvelope is the outer shape of every Tribute webhook.
type TributeWebhookEnvelope struct {
	Name      string          `json:"name"`
	CreatedAt string          `json:"created_at"`
	SentAt    string          `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

func ParseTributeWebhook(raw []byte) (*TributeWebhookEnvelope, error) {
	var ev TributeWebhookEnvelope
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.Name) == "" {
		return nil, errors.New("tribute webhook missing event name")
	}
	return &ev, nil
}

// ParseTributePaidEvent extracts the paid-charge fields from a
// new_digital_product payload.
func ParseTributePaidEvent(envelope *TributeWebhookEnvelope, raw []byte) (*PaidEvent, error) {
	var p struct {
		ProductID      int64  `json:"product_id"`
		Amount         int64  `json:"amount"`
		Currency       string `json:"currency"`
		TelegramUserID int64  `json:"telegram_user_id"`
		ChargeID       string `json:"charge_id"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		return nil, err
	}
	if p.ProductID <= 0 {
		return nil, errors.New("tribute payload missing product_id")
	}
	if p.TelegramUserID <= 0 {
		return nil, errors.New("tribute payload missing telegram_user_id")
	}

	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "eur"
	}
	return &PaidEvent{
		ProviderProductID: p.ProductID,
		TGUserID:          p.TelegramUserID,
		ChargeID:          strings.TrimSpace(p.ChargeID),
		Amount:            p.Amount,
		Currency:          currency,
		RawPayloadJSON:    string(raw),
	}, nil
}

// ParseTributeRefundEvent extracts the charge reference from a refund
// payload.
func ParseTributeRefundEvent(envelope *TributeWebhookEnvelope) (string, error) {
	var p struct {
		ChargeID string `json:"charge_id"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		return "", err
	}
	chargeID := strings.TrimSpace(p.ChargeID)
	if chargeID == "" {
		return "", errors.New("tribute refund payload missing charge_id")
	}
	return chargeID, nil
}
