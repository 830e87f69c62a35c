package bootstrap

import (
	"agrifin-backend/internal/config"
	"agrifin-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for the serverless entry point (api handler imports this package, not internal).
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	Logger(cfg)
	app, _, _, err := router.CreateApp(cfg)
	return app, err
}
