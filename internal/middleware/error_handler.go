package middleware

import (
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler is the global error handler. Domain errors keep their mapped status;
// anything unknown becomes a 500 in the standard error format.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return response.FromError(c, err)
}
