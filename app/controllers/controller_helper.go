package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// jsonError writes the structured error shape used by all billing
// endpoints: a stable machine-readable code plus a human message.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
