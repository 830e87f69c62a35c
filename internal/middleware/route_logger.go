package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RouteLogger logs each request on exit with status, latency and the calling actor.
// It uses the request logger set by Tracing, so every line carries the trace id.
func RouteLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiberStatus(err, status)
		}
		logger := zerolog.Ctx(c.UserContext())
		if logger.GetLevel() == zerolog.Disabled {
			logger = &log.Logger
		}
		ev := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			ev = logger.Error().Err(err)
		case status >= fiber.StatusBadRequest:
			ev = logger.Warn()
		}
		ev = ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start))
		if actor, ok := GetActor(c); ok {
			ev = ev.Str("user_id", actor.UserID.String()).Str("role", string(actor.Role))
		}
		ev.Msg("request")
		return err
	}
}

func fiberStatus(err error, fallback int) int {
	if fe, ok := err.(*fiber.Error); ok {
		return fe.Code
	}
	if fallback < fiber.StatusBadRequest {
		return fiber.StatusInternalServerError
	}
	return fallback
}
