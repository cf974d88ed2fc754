package router

import (
	"strconv"
	"time"

	"github.com/antonkashirin/lexibot/app/controllers"
	"github.com/antonkashirin/lexibot/internal/pkg/constants"
	"github.com/antonkashirin/lexibot/internal/pkg/env"
	"github.com/antonkashirin/lexibot/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealthz)

	billing := app.Group(constants.BillingRoute,
		limiter.New(limiter.Config{
			Max:        requestsPerMinute(),
			Expiration: time.Minute,
			Storage:    newLimiterStorage(),
		}),
		cors.New(cors.Config{
			// The Mini-App is served from Telegram's webview; origins vary.
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
		}),
	)

	billing.Get(constants.PricingRoute, controllers.HandleGetPricing)
	billing.Get(constants.AccountRoute, controllers.HandleGetAccount)
	billing.Post(constants.CreatePurchaseRoute, controllers.HandleCreatePurchase)
	billing.Post(constants.WebhookRoute, controllers.HandleTributeWebhook)
	// Legacy path kept for Tribute dashboards configured before the rename.
	billing.Post(constants.TributeWebhookRoute, controllers.HandleTributeWebhook)

	admin := billing.Group("", middleware.AdminKeyMiddleware())
	admin.Post(constants.AdminRefundRoute, controllers.HandleRefundPurchase)
	admin.Get(constants.AdminRevenueStatsRoute, controllers.HandleRevenueStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// newLimiterStorage backs the rate limiter with Redis so limits hold
// across replicas. Database 1 keeps limiter keys apart from the cache.
func newLimiterStorage() *redis.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Database: 1,
		Reset:    false,
	})
}

func requestsPerMinute() int {
	n, err := strconv.Atoi(env.GetEnv("BILLING_RATE_LIMIT_PER_MINUTE", "120"))
	if err != nil || n <= 0 {
		return 120
	}
	return n
}
