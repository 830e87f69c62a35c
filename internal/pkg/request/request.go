// Package request holds the binding helpers shared by the HTTP handlers.
package request

import (
	"strings"

	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/middleware"
	"agrifin-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Actor returns the authenticated caller or a 401 error.
func Actor(c *fiber.Ctx) (domain.Actor, error) {
	a, ok := middleware.GetActor(c)
	if !ok {
		return domain.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
	}
	return a, nil
}

// UUIDParam parses a path parameter as a uuid.
func UUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	raw := c.Params(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Invalid(name, raw, "Invalid UUID format for %s", name)
	}
	return id, nil
}

// OptionalUUID parses s when it is not blank.
func OptionalUUID(field, s string) (*uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, domain.Invalid(field, s, "Invalid UUID format for %s", field)
	}
	return &id, nil
}

// Bind decodes the JSON body into dst and validates it. An empty body is
// validated as the zero value.
func Bind(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return domain.Invalid("request", "", "Invalid request body")
		}
	}
	return validation.Struct(dst)
}
