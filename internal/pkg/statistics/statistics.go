package statistics

import (
	"encoding/json"
	"log"
	"time"

	"github.com/antonkashirin/lexibot/app/models"
	"github.com/antonkashirin/lexibot/internal/pkg/cache"
	"github.com/antonkashirin/lexibot/internal/pkg/database"
)

const (
	CacheKeyRevenue = "statistics:revenue"
	CacheExpiration = 5 * time.Minute

	revenueWindowDays = 90
)

// DayRevenue is aggregate paid revenue for one calendar day.
type DayRevenue struct {
	Day      string `json:"day"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Count    int64  `json:"count"`
}

// ProductRevenue is aggregate paid revenue for one product code.
type ProductRevenue struct {
	ProductCode string `json:"product_code"`
	Currency    string `json:"currency"`
	Amount      int64  `json:"amount"`
	Count       int64  `json:"count"`
}

// RevenueStats is the analytics read model over the purchase ledger.
// It has no correctness impact on billing and may be served from a
// replica.
type RevenueStats struct {
	ByDay     []DayRevenue     `json:"by_day"`
	ByProduct []ProductRevenue `json:"by_product"`
	// Total is keyed by currency; amounts in different currencies are
	// never summed into one number.
	Total map[string]int64 `json:"total"`
	Since string           `json:"since"`
}

// GetRevenueStats returns the cached revenue aggregates, recomputing
// them from the ledger when the cache is cold.
func GetRevenueStats() (*RevenueStats, error) {
	if cached, err := cache.Get(CacheKeyRevenue); err == nil && cached != "" {
		var stats RevenueStats
		if err := json.Unmarshal([]byte(cached), &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := computeRevenueStats()
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(stats); err == nil {
		if err := cache.Set(CacheKeyRevenue, string(encoded), CacheExpiration); err != nil {
			log.Printf("statistics: could not cache revenue stats: %v", err)
		}
	}
	return stats, nil
}

func computeRevenueStats() (*RevenueStats, error) {
	db := database.GetDB()
	since := time.Now().AddDate(0, 0, -revenueWindowDays)

	stats := &RevenueStats{Since: since.Format("2006-01-02")}

	err := db.Model(&models.Purchase{}).
		Select("DATE(paid_at) AS day, currency, SUM(total_amount) AS amount, COUNT(*) AS count").
		Where("status = ? AND paid_at >= ?", models.PurchaseStatusPaid, since).
		Group("DATE(paid_at), currency").
		Order("day DESC").
		Scan(&stats.ByDay).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&models.Purchase{}).
		Select("product_code, currency, SUM(total_amount) AS amount, COUNT(*) AS count").
		Where("status = ? AND paid_at >= ?", models.PurchaseStatusPaid, since).
		Group("product_code, currency").
		Order("amount DESC").
		Scan(&stats.ByProduct).Error
	if err != nil {
		return nil, err
	}

	stats.Total = sumByCurrency(stats.ByProduct)
	return stats, nil
}

func sumByCurrency(products []ProductRevenue) map[string]int64 {
	totals := make(map[string]int64, 1)
	for _, p := range products {
		totals[p.Currency] += p.Amount
	}
	return totals
}
