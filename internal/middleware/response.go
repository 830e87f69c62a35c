package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ResponseFormatter marks JSON envelopes as private and uncacheable: they carry
// balances and loan state that must never be served from a shared cache.
func ResponseFormatter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		ct := string(c.Response().Header.ContentType())
		if err != nil || strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			c.Set(fiber.HeaderCacheControl, "no-store")
			c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		}
		return err
	}
}
