package controllers

import (
	"log"

	"github.com/antonkashirin/lexibot/internal/pkg/statistics"
	"github.com/gofiber/fiber/v2"
)

// HandleRevenueStats serves aggregate revenue by day and product for
// the admin API.
func HandleRevenueStats(c *fiber.Ctx) error {
	stats, err := statistics.GetRevenueStats()
	if err != nil {
		log.Printf("statistics: revenue query failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "stats_failed", "Could not compute revenue stats")
	}
	return c.JSON(fiber.Map{"success": true, "data": stats})
}
