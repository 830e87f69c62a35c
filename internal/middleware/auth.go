package middleware

import (
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// RequireAuth ensures a user is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := GetActor(c); !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		return c.Next()
	}
}

// GetActor returns the authenticated caller, if any.
func GetActor(c *fiber.Ctx) (domain.Actor, bool) {
	a, ok := c.Locals(actorLocal).(domain.Actor)
	return a, ok
}

// SetActor attaches an authenticated caller to the request.
func SetActor(c *fiber.Ctx, a domain.Actor) {
	c.Locals(actorLocal, a)
}
