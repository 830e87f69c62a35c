// Package testauth authenticates handler test requests without Redis sessions.
package testauth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	userHeader = "X-Test-User"
	roleHeader = "X-Test-Role"
)

// App returns a fiber app that trusts the test identity headers.
func App() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		if id, err := uuid.Parse(c.Get(userHeader)); err == nil {
			middleware.SetActor(c, domain.Actor{UserID: id, Role: domain.Role(c.Get(roleHeader))})
		}
		return c.Next()
	})
	return app
}

// Do sends a JSON request as actor (nil for anonymous) and decodes the response body.
func Do(t *testing.T, app *fiber.App, method, path string, actor *domain.Actor, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(userHeader, actor.UserID.String())
		req.Header.Set(roleHeader, string(actor.Role))
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

// Data returns the "data" object of a success envelope.
func Data(out map[string]interface{}) map[string]interface{} {
	d, _ := out["data"].(map[string]interface{})
	return d
}

// Message returns error.message of an error envelope.
func Message(out map[string]interface{}) string {
	e, _ := out["error"].(map[string]interface{})
	m, _ := e["message"].(string)
	return m
}

