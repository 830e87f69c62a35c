package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"agrifin-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionConfig for the Redis-backed sessions issued by the auth service.
type SessionConfig struct {
	RedisURL string
}

const (
	SessionCookieName  = "agrifin.sid"
	SessionRedisPrefix = "session:"
	actorLocal         = "actor"
	sessionIDLocal     = "session_id"
)

// SessionUser is the shape stored in the session under "user".
type SessionUser struct {
	UserID   string `json:"user_id"`
	Fullname string `json:"fullname,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

type sessionData struct {
	User *SessionUser `json:"user"`
}

// Session connects to Redis and returns the session middleware with its client.
func Session(cfg SessionConfig) (fiber.Handler, *redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opt)
	return SessionStore(rdb), rdb, nil
}

// SessionStore resolves the caller from the session cookie or a bearer token.
// Sessions are read only here; they are created and destroyed by the auth service.
func SessionStore(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := sessionIDFrom(c)
		c.Locals(sessionIDLocal, sessionID)
		if sessionID == "" {
			return c.Next()
		}
		b, err := rdb.Get(c.UserContext(), SessionRedisPrefix+sessionID).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Warn().Err(err).Msg("session lookup failed")
			}
			return c.Next()
		}
		var data sessionData
		if err := json.Unmarshal(b, &data); err != nil || data.User == nil {
			return c.Next()
		}
		actor, err := data.User.Actor()
		if err != nil {
			log.Warn().Err(err).Str("user_id", data.User.UserID).Msg("session user rejected")
			return c.Next()
		}
		c.Locals(actorLocal, actor)
		return c.Next()
	}
}

// Actor converts the stored session user into an engine actor.
func (u SessionUser) Actor() (domain.Actor, error) {
	id, err := uuid.Parse(u.UserID)
	if err != nil {
		return domain.Actor{}, domain.Invalid("session", u.UserID, "user_id is not a uuid")
	}
	role, err := domain.ParseRole(u.Role)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{UserID: id, Role: role}, nil
}

// PutSession stores a session for user under id. Used by tooling and tests.
func PutSession(ctx context.Context, rdb *redis.Client, id string, user SessionUser) error {
	b, err := json.Marshal(sessionData{User: &user})
	if err != nil {
		return err
	}
	return rdb.Set(ctx, SessionRedisPrefix+id, b, 0).Err()
}

// GetSessionID returns the session id presented by the caller.
func GetSessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals(sessionIDLocal).(string)
	return sid
}

func sessionIDFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	sessionID := c.Cookies(SessionCookieName)
	// Signed cookies look like "s:id.signature"; the id is the first part.
	if strings.HasPrefix(sessionID, "s:") {
		sessionID, _, _ = strings.Cut(sessionID[2:], ".")
	}
	return sessionID
}
