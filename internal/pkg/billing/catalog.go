package billing

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/antonkashirin/lexibot/internal/pkg/env"
	"github.com/go-playground/validator/v10"
)

// Product units. The unit both describes pricing granularity and
// selects the effect family applied on payment.
const (
	UnitMonth     = "month"
	UnitYear      = "year"
	UnitMinute    = "minute"
	UnitTokenPack = "100k-tokens"
)

// Effect conversion factors.
const (
	SecondsPerMinute = 60
	TokensPerPack    = 100_000
)

// Product is one sellable item. Amount is in minor currency units.
type Product struct {
	Code              string `json:"code" validate:"required"`
	Name              string `json:"name" validate:"required"`
	Amount            int64  `json:"amount" validate:"gt=0"`
	Currency          string `json:"currency" validate:"required,len=3"`
	Unit              string `json:"unit" validate:"required,oneof=month year minute 100k-tokens"`
	DiscountPercent   int    `json:"discount,omitempty" validate:"gte=0,lt=100"`
	ProviderProductID int64  `json:"provider_product_id,omitempty" validate:"gte=0"`
}

// Catalog is the injected product configuration, loaded once at process
// start. Prices referenced by a purchase are resolved here and frozen
// onto the purchase row.
type Catalog struct {
	Version      string
	byCode       map[string]Product
	byProviderID map[int64]Product
}

// NewCatalog validates the product list and builds lookup maps.
func NewCatalog(version string, products []Product) (*Catalog, error) {
	v := validator.New()
	c := &Catalog{
		Version:      version,
		byCode:       make(map[string]Product, len(products)),
		byProviderID: make(map[int64]Product, len(products)),
	}
	for _, p := range products {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid product %q: %w", p.Code, err)
		}
		if _, exists := c.byCode[p.Code]; exists {
			return nil, fmt.Errorf("duplicate product code %q", p.Code)
		}
		c.byCode[p.Code] = p
		if p.ProviderProductID > 0 {
			c.byProviderID[p.ProviderProductID] = p
		}
	}
	return c, nil
}

// Get resolves a product code. Unknown codes fail with ErrUnknownProduct.
func (c *Catalog) Get(code string) (Product, error) {
	p, ok := c.byCode[strings.TrimSpace(code)]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, code)
	}
	return p, nil
}

// GetByProviderID resolves a provider-side product id to a product.
func (c *Catalog) GetByProviderID(providerProductID int64) (Product, bool) {
	p, ok := c.byProviderID[providerProductID]
	return p, ok
}

// Products returns all products sorted by code.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.byCode))
	for _, p := range c.byCode {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func defaultProducts() []Product {
	return []Product{
		{Code: "sub_monthly", Name: "Monthly Subscription", Amount: 299, Currency: "eur", Unit: UnitMonth},
		{Code: "sub_yearly", Name: "Yearly Subscription", Amount: 2900, Currency: "eur", Unit: UnitYear, DiscountPercent: 19},
		{Code: "audio_topup", Name: "Audio Minutes", Amount: 10, Currency: "eur", Unit: UnitMinute},
		{Code: "tokens_topup", Name: "Text Tokens", Amount: 100, Currency: "eur", Unit: UnitTokenPack},
	}
}

// DefaultCatalog returns the built-in launch catalog without provider
// product ids. Intended for tests and as the LoadCatalog base.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog("builtin", defaultProducts())
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog builds the runtime catalog: the built-in products,
// overlaid by an optional JSON file (BILLING_CATALOG_FILE) and by
// per-product provider id overrides (TRIBUTE_PRODUCT_ID_<CODE>).
func LoadCatalog() (*Catalog, error) {
	products := defaultProducts()
	version := "builtin"

	if path := strings.TrimSpace(env.GetEnv("BILLING_CATALOG_FILE", "")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog file: %w", err)
		}
		var file struct {
			Version  string    `json:"version"`
			Products []Product `json:"products"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog file: %w", err)
		}
		if len(file.Products) > 0 {
			products = file.Products
		}
		if file.Version != "" {
			version = file.Version
		}
	}

	for i, p := range products {
		key := "TRIBUTE_PRODUCT_ID_" + strings.ToUpper(p.Code)
		raw := strings.TrimSpace(env.GetEnv(key, ""))
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid %s: %q", key, raw)
		}
		products[i].ProviderProductID = id
	}

	return NewCatalog(version, products)
}
