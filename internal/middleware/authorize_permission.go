package middleware

import (
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AuthorizePermission rejects callers whose role does not grant p.
// No session -> 401; role not allowed -> 403 "User is Forbidden from performing this action".
func AuthorizePermission(p domain.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := GetActor(c)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		if !actor.Role.Can(p) {
			return response.Error(c, "User is Forbidden from performing this action", fiber.StatusForbidden, fiber.Map{"permission": p})
		}
		return c.Next()
	}
}
