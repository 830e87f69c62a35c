package wallet

import (
	"context"
	"errors"
	"testing"

	"agrifin-backend/internal/application/ledger"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/testdb"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWallet(t *testing.T) *Service {
	t.Helper()
	db := testdb.Open(t)
	l := &ledger.Service{DB: db}
	require.NoError(t, l.Bootstrap(context.Background()))
	return &Service{DB: db, Ledger: l, Currency: "kes"}
}

var admin = domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin}

func TestDeposit_CreditsWalletFromExternal(t *testing.T) {
	svc := setupWallet(t)
	ctx := context.Background()
	user := domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer}

	entry, err := svc.Deposit(ctx, DepositInput{Actor: admin, UserID: user.UserID, Role: user.Role, Amount: 2_500, ReferenceID: "mpesa-991"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeposit, entry.Reason)

	again, err := svc.Deposit(ctx, DepositInput{Actor: admin, UserID: user.UserID, Amount: 2_500, ReferenceID: "mpesa-991"})
	require.NoError(t, err)
	assert.Equal(t, entry.SequenceNo, again.SequenceNo)

	sum, err := svc.Summary(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500), sum.Balance)
	assert.Equal(t, "kes", sum.Currency)

	_, err = svc.Deposit(ctx, DepositInput{Actor: user, UserID: user.UserID, Amount: 1, ReferenceID: "self"})
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	_, err = svc.Deposit(ctx, DepositInput{Actor: admin, UserID: user.UserID, Amount: 1})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestDeposit_UnopenedWalletNeedsOwnerRole(t *testing.T) {
	svc := setupWallet(t)
	ctx := context.Background()
	stranger := uuid.New()

	_, err := svc.Deposit(ctx, DepositInput{Actor: admin, UserID: stranger, Amount: 100, ReferenceID: "d-unknown"})
	assert.True(t, errors.Is(err, domain.ErrUnknownAccount))

	_, err = svc.Deposit(ctx, DepositInput{Actor: admin, UserID: stranger, Role: domain.RoleBuyer, Amount: 100, ReferenceID: "d-known"})
	require.NoError(t, err)
	w, err := ledger.ExistingWallet(svc.DB, stranger)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBuyer, w.Role)
	assert.Equal(t, int64(100), w.Balance)
}

func TestFundPool(t *testing.T) {
	svc := setupWallet(t)
	ctx := context.Background()

	_, err := svc.FundPool(ctx, admin, domain.LoanPoolCode, 1_000_000, "capital-q1")
	require.NoError(t, err)
	pool, err := svc.Ledger.Platform(ctx, domain.LoanPoolCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), pool.Balance)

	external, err := svc.Ledger.Platform(ctx, domain.ExternalSettlementCode)
	require.NoError(t, err)
	assert.Equal(t, int64(-1_000_000), external.Balance)

	_, err = svc.FundPool(ctx, admin, domain.ExternalSettlementCode, 1, "x")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestCompleteTopUp_CreditsOncePerPaymentIntent(t *testing.T) {
	svc := setupWallet(t)
	ctx := context.Background()
	user := domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}
	in := TopUp{
		PaymentIntentID: "pi_123", EventID: "evt_1", UserID: user.UserID, Role: user.Role,
		Amount: 5_000, Currency: "KES", Status: "succeeded", Raw: []byte(`{"id":"pi_123"}`),
	}

	rec, created, err := svc.CompleteTopUp(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, rec.LedgerEntryID)

	in.EventID = "evt_2"
	again, created, err := svc.CompleteTopUp(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)

	sum, err := svc.Summary(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), sum.Balance)

	in.PaymentIntentID, in.Currency = "pi_456", "usd"
	_, _, err = svc.CompleteTopUp(ctx, in)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestHistory_SignsEntriesForOwner(t *testing.T) {
	svc := setupWallet(t)
	ctx := context.Background()
	user := domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer}
	_, err := svc.Deposit(ctx, DepositInput{Actor: admin, UserID: user.UserID, Role: user.Role, Amount: 1_000, ReferenceID: "d1"})
	require.NoError(t, err)

	w, err := svc.Ledger.Wallet(ctx, user)
	require.NoError(t, err)
	escrow, err := svc.Ledger.Platform(ctx, domain.EscrowPoolCode)
	require.NoError(t, err)
	_, err = svc.Ledger.Transfer(ctx, ledger.TransferInput{
		From: w.AccountID, To: escrow.AccountID, Amount: 300,
		Reason: domain.ReasonEscrowHold, ReferenceID: "order-x",
	})
	require.NoError(t, err)

	lines, err := svc.History(ctx, user, 0, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(1_000), lines[0].SignedAmount)
	assert.Equal(t, int64(1_000), lines[0].BalanceAfter)
	assert.Equal(t, int64(-300), lines[1].SignedAmount)
	assert.Equal(t, int64(700), lines[1].BalanceAfter)

	rest, err := svc.History(ctx, user, lines[0].SequenceNo, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
