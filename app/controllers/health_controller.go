package controllers

import (
	"github.com/antonkashirin/lexibot/internal/pkg/cache"
	"github.com/antonkashirin/lexibot/internal/pkg/database"
	"github.com/gofiber/fiber/v2"
)

// HandleHealthz reports process liveness plus DB and cache reachability.
func HandleHealthz(c *fiber.Ctx) error {
	dbStatus := "ok"
	if db := database.GetDB(); db == nil {
		dbStatus = "down"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		dbStatus = "down"
	}

	cacheStatus := "ok"
	if err := cache.Ping(); err != nil {
		cacheStatus = "down"
	}

	status := fiber.StatusOK
	if dbStatus != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   "ok",
		"database": dbStatus,
		"cache":    cacheStatus,
	})
}
