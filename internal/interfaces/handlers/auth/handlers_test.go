package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"agrifin-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthHandlers(t *testing.T) (*fiber.App, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	h := &Handlers{Rdb: rdb}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.SessionStore(rdb))
	app.Get("/auth/me", h.Me)
	app.Delete("/auth/logout", h.Logout)
	return app, rdb
}

func call(t *testing.T, app *fiber.App, method, path, sid string) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, nil)
	if sid != "" {
		req.Header.Set("Authorization", "Bearer "+sid)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestMe_NoSession(t *testing.T) {
	app, _ := setupAuthHandlers(t)
	code, out := call(t, app, "GET", "/auth/me", "")
	assert.Equal(t, 401, code)
	errBody, _ := out["error"].(map[string]interface{})
	assert.Equal(t, "Not authenticated", errBody["message"])
}

func TestMe_ReturnsActorAndPermissions(t *testing.T) {
	app, rdb := setupAuthHandlers(t)
	userID := uuid.New()
	require.NoError(t, middleware.PutSession(context.Background(), rdb, "sid-1", middleware.SessionUser{
		UserID: userID.String(), Role: "buyer",
	}))

	code, out := call(t, app, "GET", "/auth/me", "sid-1")
	require.Equal(t, 200, code)
	data, _ := out["data"].(map[string]interface{})
	user, _ := data["user"].(map[string]interface{})
	assert.Equal(t, userID.String(), user["user_id"])
	assert.Equal(t, "buyer", user["role"])
	assert.Equal(t, []interface{}{"place_order"}, user["permissions"])
}

func TestLogout_DeletesSession(t *testing.T) {
	app, rdb := setupAuthHandlers(t)
	require.NoError(t, middleware.PutSession(context.Background(), rdb, "sid-2", middleware.SessionUser{
		UserID: uuid.New().String(), Role: "farmer",
	}))

	code, _ := call(t, app, "DELETE", "/auth/logout", "sid-2")
	assert.Equal(t, 200, code)

	n, err := rdb.Exists(context.Background(), middleware.SessionRedisPrefix+"sid-2").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	code, _ = call(t, app, "GET", "/auth/me", "sid-2")
	assert.Equal(t, 401, code)
}
