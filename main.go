package main

import (
	"fmt"
	"log"

	"github.com/antonkashirin/lexibot/app/controllers"
	"github.com/antonkashirin/lexibot/internal/pkg/billing"
	"github.com/antonkashirin/lexibot/internal/pkg/cache"
	"github.com/antonkashirin/lexibot/internal/pkg/constants"
	"github.com/antonkashirin/lexibot/internal/pkg/database"
	"github.com/antonkashirin/lexibot/internal/pkg/env"
	"github.com/antonkashirin/lexibot/internal/pkg/router"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	catalog, err := billing.LoadCatalog()
	if err != nil {
		log.Fatalf("billing catalog: %v", err)
	}
	log.Printf("billing catalog loaded (version %s, %d products)", catalog.Version, len(catalog.Products()))
	controllers.SetupBillingController(billing.NewServiceFromDB(database.GetDB(), catalog))

	app := fiber.New(fiber.Config{
		AppName: "lexibot-billing",
	})
	app.Use(recover.New(), logger.New())
	app.Get(constants.MetricsRoute, monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
