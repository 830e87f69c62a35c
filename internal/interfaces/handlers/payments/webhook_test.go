package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agrifin-backend/internal/application/ledger"
	walletsvc "agrifin-backend/internal/application/wallet"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/testdb"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret_123"

func setupWebhookTest(t *testing.T) (*fiber.App, *walletsvc.Service) {
	db := testdb.Open(t)
	l := &ledger.Service{DB: db}
	require.NoError(t, l.Bootstrap(context.Background()))
	wallet := &walletsvc.Service{DB: db, Ledger: l, Currency: "kes"}
	wh := &WebhookHandler{Wallet: wallet, WebhookSecret: testSecret}
	app := fiber.New()
	app.Post("/webhook", wh.HandleWebhook)
	return app, wallet
}

func signPayload(t *testing.T, payload []byte, secret string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%s,v1=%s", ts, sig)
}

func post(t *testing.T, app *fiber.App, body []byte, sig string) int {
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("stripe-signature", sig)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func succeededEvent(t *testing.T, eventID, piID string, metadata map[string]string, currency string) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":     eventID,
		"object": "event",
		"type":   "payment_intent.succeeded",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              piID,
				"object":          "payment_intent",
				"amount":          5000,
				"amount_received": 5000,
				"currency":        currency,
				"status":          "succeeded",
				"metadata":        metadata,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestWebhook_MissingSignature(t *testing.T) {
	app, _ := setupWebhookTest(t)
	assert.Equal(t, 400, post(t, app, []byte(`{}`), ""))
}

func TestWebhook_InvalidSignature(t *testing.T) {
	app, _ := setupWebhookTest(t)
	assert.Equal(t, 400, post(t, app, []byte(`{"type":"payment_intent.succeeded"}`), "t=123,v1=invalid"))
}

func TestWebhook_ValidSignature_Returns200(t *testing.T) {
	app, _ := setupWebhookTest(t)
	body, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_test_123",
		"type": "charge.succeeded",
		"data": map[string]interface{}{"object": map[string]interface{}{}},
	})
	assert.Equal(t, 200, post(t, app, body, signPayload(t, body, testSecret)))
}

func TestWebhook_PaymentIntentSucceeded_CreditsWalletOnce(t *testing.T) {
	app, wallet := setupWebhookTest(t)
	user := domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}
	meta := map[string]string{"purpose": walletsvc.TopUpPurpose, "user_id": user.UserID.String(), "role": "buyer"}

	body := succeededEvent(t, "evt_1", "pi_test_001", meta, "kes")
	assert.Equal(t, 200, post(t, app, body, signPayload(t, body, testSecret)))

	// Stripe may deliver the same intent under a new event id.
	body = succeededEvent(t, "evt_2", "pi_test_001", meta, "kes")
	assert.Equal(t, 200, post(t, app, body, signPayload(t, body, testSecret)))

	sum, err := wallet.Summary(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), sum.Balance)

	var rec domain.WalletTopUp
	require.NoError(t, wallet.DB.Where("stripe_payment_intent_id = ?", "pi_test_001").Take(&rec).Error)
	assert.Equal(t, "evt_1", rec.StripeEventID)
	assert.Equal(t, user.UserID, rec.UserID)
}

func TestWebhook_RejectsBadMetadataWithoutRetry(t *testing.T) {
	app, wallet := setupWebhookTest(t)

	body := succeededEvent(t, "evt_3", "pi_bad_user", map[string]string{"purpose": walletsvc.TopUpPurpose, "user_id": "nope"}, "kes")
	assert.Equal(t, 200, post(t, app, body, signPayload(t, body, testSecret)))

	user := uuid.New()
	body = succeededEvent(t, "evt_4", "pi_usd", map[string]string{"purpose": walletsvc.TopUpPurpose, "user_id": user.String()}, "usd")
	assert.Equal(t, 200, post(t, app, body, signPayload(t, body, testSecret)))

	body = succeededEvent(t, "evt_5", "pi_other", map[string]string{"user_id": user.String()}, "kes")
	assert.Equal(t, 200, post(t, app, body, signPayload(t, body, testSecret)))

	var count int64
	require.NoError(t, wallet.DB.Model(&domain.WalletTopUp{}).Count(&count).Error)
	assert.Zero(t, count)
}
