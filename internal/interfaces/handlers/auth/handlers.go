package auth

import (
	"agrifin-backend/internal/middleware"
	"agrifin-backend/internal/pkg/request"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Handlers holds dependencies for session endpoints. Sessions are issued elsewhere.
type Handlers struct {
	Rdb *redis.Client
}

// Me GET /api/v1/auth/me: return the caller resolved from the session.
func (h *Handlers) Me(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		sessionID := middleware.GetSessionID(c)
		log.Info().Str("path", "/auth/me").
			Bool("session_present", sessionID != "").
			Msg("auth/me: returning 401 Not authenticated")
		return response.Error(c, "Not authenticated", fiber.StatusUnauthorized, nil)
	}
	return response.Success(c, "Authenticated", fiber.Map{
		"user": fiber.Map{
			"user_id":     actor.UserID.String(),
			"role":        actor.Role,
			"permissions": actor.Role.Permissions(),
		},
	}, nil)
}

// Logout DELETE /api/v1/auth/logout: drop the session key and clear the cookie.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	if sessionID := middleware.GetSessionID(c); sessionID != "" && h.Rdb != nil {
		if err := h.Rdb.Del(c.UserContext(), middleware.SessionRedisPrefix+sessionID).Err(); err != nil {
			return response.FromError(c, err)
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HTTPOnly: true,
	})
	return response.Success(c, "Logged out successfully", nil, nil)
}
