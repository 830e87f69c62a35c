package wallet

import (
	"context"
	"errors"
	"testing"

	"agrifin-backend/internal/application/ledger"
	walletsvc "agrifin-backend/internal/application/wallet"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/testauth"
	"agrifin-backend/internal/pkg/testdb"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStripe struct {
	amount   int64
	currency string
	metadata map[string]string
	err      error
}

func (f *fakeStripe) Create(amountMinor int64, currency string, metadata map[string]string) (*StripePaymentIntentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.amount, f.currency, f.metadata = amountMinor, currency, metadata
	return &StripePaymentIntentResult{ID: "pi_fake", ClientSecret: "pi_fake_secret"}, nil
}

func setupWalletHandlers(t *testing.T) (*fiber.App, *fakeStripe) {
	t.Helper()
	db := testdb.Open(t)
	l := &ledger.Service{DB: db}
	require.NoError(t, l.Bootstrap(context.Background()))
	fs := &fakeStripe{}
	h := &Handlers{
		Service:       &walletsvc.Service{DB: db, Ledger: l, Currency: "kes"},
		Ledger:        l,
		StripeCreator: fs,
	}
	app := testauth.App()
	app.Get("/wallet", h.Summary)
	app.Get("/wallet/history", h.History)
	app.Post("/wallet/top-up", h.TopUp)
	app.Post("/wallet/deposit", h.Deposit)
	app.Post("/admin/pools/:code/fund", h.FundPool)
	app.Get("/admin/ledger", h.LedgerTotals)
	app.Get("/admin/accounts/:id/reconcile", h.Reconcile)
	return app, fs
}

func TestDepositAndHistory(t *testing.T) {
	app, _ := setupWalletHandlers(t)
	admin := domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin}
	buyer := domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}

	code, out := testauth.Do(t, app, "POST", "/wallet/deposit", &admin, map[string]interface{}{
		"user_id": buyer.UserID.String(), "role": "buyer", "amount": 7_000, "reference_id": "mpesa-1",
	})
	require.Equal(t, fiber.StatusCreated, code, out)

	code, out = testauth.Do(t, app, "GET", "/wallet", &buyer, nil)
	require.Equal(t, fiber.StatusOK, code, out)
	w := testauth.Data(out)
	assert.Equal(t, float64(7_000), w["balance"])
	assert.Equal(t, "kes", w["currency"])

	code, out = testauth.Do(t, app, "GET", "/wallet/history?limit=10", &buyer, nil)
	require.Equal(t, fiber.StatusOK, code, out)
	lines, _ := out["data"].([]interface{})
	require.Len(t, lines, 1)
	line := lines[0].(map[string]interface{})
	assert.Equal(t, float64(7_000), line["signed_amount"])
	assert.Equal(t, string(domain.ReasonDeposit), line["reason"])

	code, out = testauth.Do(t, app, "GET", "/admin/accounts/"+w["account_id"].(string)+"/reconcile", &admin, nil)
	require.Equal(t, fiber.StatusOK, code, out)
	meta, _ := out["metadata"].(map[string]interface{})
	assert.Equal(t, true, meta["consistent"])

	code, out = testauth.Do(t, app, "GET", "/admin/ledger", &admin, nil)
	require.Equal(t, fiber.StatusOK, code, out)
	assert.Equal(t, float64(0), testauth.Data(out)["net"])
}

func TestDepositErrors(t *testing.T) {
	app, _ := setupWalletHandlers(t)
	admin := domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin}
	farmer := domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer}

	code, _ := testauth.Do(t, app, "POST", "/wallet/deposit", &admin, map[string]interface{}{
		"user_id": "not-a-uuid", "amount": 1, "reference_id": "x",
	})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = testauth.Do(t, app, "POST", "/wallet/deposit", &farmer, map[string]interface{}{
		"user_id": farmer.UserID.String(), "amount": 1, "reference_id": "x",
	})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = testauth.Do(t, app, "GET", "/wallet/history?after=-1", &farmer, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = testauth.Do(t, app, "GET", "/wallet", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestFundPool(t *testing.T) {
	app, _ := setupWalletHandlers(t)
	admin := domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin}

	code, out := testauth.Do(t, app, "POST", "/admin/pools/"+domain.LoanPoolCode+"/fund", &admin, map[string]interface{}{
		"amount": 250_000, "reference_id": "capital-1",
	})
	require.Equal(t, fiber.StatusCreated, code, out)
	assert.Equal(t, float64(250_000), testauth.Data(out)["amount"])

	code, _ = testauth.Do(t, app, "POST", "/admin/pools/nope/fund", &admin, map[string]interface{}{
		"amount": 1, "reference_id": "x",
	})
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestTopUp_CreatesTaggedPaymentIntent(t *testing.T) {
	app, fs := setupWalletHandlers(t)
	buyer := domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}

	code, out := testauth.Do(t, app, "POST", "/wallet/top-up", &buyer, map[string]interface{}{"amount": 4_200})
	require.Equal(t, fiber.StatusOK, code, out)
	data := testauth.Data(out)
	assert.Equal(t, "pi_fake_secret", data["client_secret"])
	assert.Equal(t, int64(4_200), fs.amount)
	assert.Equal(t, "kes", fs.currency)
	assert.Equal(t, walletsvc.TopUpPurpose, fs.metadata["purpose"])
	assert.Equal(t, buyer.UserID.String(), fs.metadata["user_id"])
	assert.Equal(t, "buyer", fs.metadata["role"])

	code, _ = testauth.Do(t, app, "POST", "/wallet/top-up", &buyer, map[string]interface{}{"amount": 0})
	assert.Equal(t, fiber.StatusBadRequest, code)

	fs.err = errors.New("stripe down")
	code, _ = testauth.Do(t, app, "POST", "/wallet/top-up", &buyer, map[string]interface{}{"amount": 10})
	assert.Equal(t, fiber.StatusInternalServerError, code)

	fs.err = fiber.NewError(fiber.StatusNotImplemented, "Card top-ups are not configured")
	code, _ = testauth.Do(t, app, "POST", "/wallet/top-up", &buyer, map[string]interface{}{"amount": 10})
	assert.Equal(t, fiber.StatusNotImplemented, code)
}
