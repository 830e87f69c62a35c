package orders

import (
	"context"
	"errors"
	"testing"

	"agrifin-backend/internal/application/events"
	"agrifin-backend/internal/application/ledger"
	"agrifin-backend/internal/application/listings"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/testdb"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *Service
	listings *listings.Service
	ledger   *ledger.Service
	external *domain.Account
	escrow   *domain.Account
	farmer   domain.Actor
	buyer    domain.Actor
	admin    domain.Actor
	listing  *domain.Listing
}

// setup opens a listing of 20 units at 1,000 each and funds the buyer's wallet.
func setup(t *testing.T, buyerFunds int64) *fixture {
	t.Helper()
	db := testdb.Open(t)
	ctx := context.Background()
	f := &fixture{
		ledger:   &ledger.Service{DB: db},
		listings: &listings.Service{DB: db},
		farmer:   domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer},
		buyer:    domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer},
		admin:    domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin},
	}
	f.svc = &Service{DB: db, Ledger: f.ledger}
	require.NoError(t, f.ledger.Bootstrap(ctx))

	var err error
	f.external, err = f.ledger.Platform(ctx, domain.ExternalSettlementCode)
	require.NoError(t, err)
	f.escrow, err = f.ledger.Platform(ctx, domain.EscrowPoolCode)
	require.NoError(t, err)

	f.listing, err = f.listings.CreateListing(ctx, listings.CreateListingInput{
		Farmer: f.farmer, Title: "Maize", Unit: "kg", UnitPrice: 1_000, Quantity: 20,
	})
	require.NoError(t, err)

	if buyerFunds > 0 {
		wallet, err := f.ledger.Wallet(ctx, f.buyer)
		require.NoError(t, err)
		_, err = f.ledger.Transfer(ctx, ledger.TransferInput{
			From: f.external.AccountID, To: wallet.AccountID, Amount: buyerFunds,
			Reason: domain.ReasonDeposit, ReferenceID: "seed-buyer",
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) balance(t *testing.T, owner domain.Actor) int64 {
	t.Helper()
	w, err := f.ledger.Wallet(context.Background(), owner)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) escrowBalance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), f.escrow.AccountID)
	require.NoError(t, err)
	return b
}

func (f *fixture) stock(t *testing.T) *domain.Listing {
	t.Helper()
	l, err := f.listings.GetListingByID(context.Background(), f.listing.ListingID)
	require.NoError(t, err)
	return l
}

func (f *fixture) order(t *testing.T, qty int64) *domain.Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), CreateInput{
		ListingID: f.listing.ListingID, Buyer: f.buyer, Quantity: qty, DeliveryAddress: "Plot 4, Kisumu",
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) paidOrder(t *testing.T, qty int64) *domain.Order {
	t.Helper()
	o := f.order(t, qty)
	o, err := f.svc.Pay(context.Background(), o.OrderID, f.buyer)
	require.NoError(t, err)
	return o
}

func TestCreate_ReservesListingQuantity(t *testing.T) {
	f := setup(t, 0)
	o := f.order(t, 5)
	assert.Equal(t, domain.OrderPendingPayment, o.Status)
	assert.Equal(t, int64(5_000), o.TotalPrice)
	assert.Equal(t, f.farmer.UserID, o.FarmerID)

	l := f.stock(t)
	assert.Equal(t, int64(20), l.QuantityAvailable)
	assert.Equal(t, int64(5), l.QuantityReserved)

	_, err := f.svc.Create(context.Background(), CreateInput{ListingID: f.listing.ListingID, Buyer: f.buyer, Quantity: 16})
	assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))

	_, err = f.svc.Create(context.Background(), CreateInput{ListingID: f.listing.ListingID, Buyer: f.farmer, Quantity: 1})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.svc.Create(context.Background(), CreateInput{ListingID: uuid.New(), Buyer: f.buyer, Quantity: 1})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPay_InsufficientFundsKeepsOrderPending(t *testing.T) {
	f := setup(t, 10_000)
	o := f.order(t, 15)

	_, err := f.svc.Pay(context.Background(), o.OrderID, f.buyer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	stored, err := f.svc.Get(context.Background(), o.OrderID, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingPayment, stored.Status)
	assert.Nil(t, stored.EscrowReference)
	assert.Equal(t, int64(10_000), f.balance(t, f.buyer))
	assert.Equal(t, int64(0), f.escrowBalance(t))
	assert.Equal(t, int64(15), f.stock(t).QuantityReserved)
}

func TestOrder_HappyPathSettlesToFarmer(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()
	o := f.paidOrder(t, 4)

	assert.Equal(t, domain.OrderEscrowHeld, o.Status)
	require.NotNil(t, o.EscrowReference)
	assert.Equal(t, int64(6_000), f.balance(t, f.buyer))
	assert.Equal(t, int64(4_000), f.escrowBalance(t))
	l := f.stock(t)
	assert.Equal(t, int64(16), l.QuantityAvailable)
	assert.Equal(t, int64(0), l.QuantityReserved)

	_, err := f.svc.Receive(ctx, o.OrderID, f.buyer)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition), "receipt requires dispatch first")

	stranger := domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer}
	_, err = f.svc.Dispatch(ctx, o.OrderID, stranger)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	o, err = f.svc.Dispatch(ctx, o.OrderID, f.farmer)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDispatched, o.Status)

	o, err = f.svc.Receive(ctx, o.OrderID, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, o.Status)
	assert.NotNil(t, o.SettlementEntry)
	assert.Equal(t, int64(4_000), f.balance(t, f.farmer))
	assert.Equal(t, int64(0), f.escrowBalance(t))

	_, err = f.svc.Dispute(ctx, o.OrderID, f.buyer, "late")
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
	_, err = f.svc.Refund(ctx, o.OrderID, f.admin)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
}

func TestDisputeThenRefundRestoresBuyer(t *testing.T) {
	f := setup(t, 8_000)
	ctx := context.Background()
	o := f.paidOrder(t, 8)
	assert.Equal(t, int64(0), f.balance(t, f.buyer))

	o, err := f.svc.Dispute(ctx, o.OrderID, f.buyer, "wrong grade")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDisputed, o.Status)
	require.NotNil(t, o.DisputedFrom)
	assert.Equal(t, domain.OrderEscrowHeld, *o.DisputedFrom)

	_, err = f.svc.Refund(ctx, o.OrderID, f.buyer)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	o, err = f.svc.Refund(ctx, o.OrderID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, o.Status)
	assert.Equal(t, int64(8_000), f.balance(t, f.buyer))
	assert.Equal(t, int64(0), f.escrowBalance(t))
	assert.Equal(t, int64(20), f.stock(t).QuantityAvailable, "unshipped goods are restocked")

	evs, err := (&events.Service{DB: f.svc.DB}).ForEntity(ctx, domain.EntityOrder, o.OrderID)
	require.NoError(t, err)
	var types []string
	for _, e := range evs {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{"created", "paid", "disputed", "refunded"}, types)
}

func TestDisputeAfterDispatch_RefundDoesNotRestock(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()
	o := f.paidOrder(t, 3)
	_, err := f.svc.Dispatch(ctx, o.OrderID, f.farmer)
	require.NoError(t, err)

	_, err = f.svc.Dispute(ctx, o.OrderID, f.farmer, "buyer unreachable")
	require.NoError(t, err)
	o, err = f.svc.Refund(ctx, o.OrderID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, o.Status)
	assert.Equal(t, int64(17), f.stock(t).QuantityAvailable)
	assert.Equal(t, int64(10_000), f.balance(t, f.buyer))
}

func TestRelease_SettlesDisputeForFarmer(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()
	o := f.paidOrder(t, 2)

	_, err := f.svc.Release(ctx, o.OrderID, f.admin)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition), "only disputed orders are released by an admin")

	_, err = f.svc.Dispatch(ctx, o.OrderID, f.farmer)
	require.NoError(t, err)
	_, err = f.svc.Dispute(ctx, o.OrderID, f.buyer, "")
	require.NoError(t, err)
	o, err = f.svc.Release(ctx, o.OrderID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, o.Status)
	assert.Equal(t, int64(2_000), f.balance(t, f.farmer))
	assert.Equal(t, int64(0), f.escrowBalance(t))
}

func TestRelease_RefusesUndispatchedGoods(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()
	o := f.paidOrder(t, 2)

	_, err := f.svc.Dispute(ctx, o.OrderID, f.buyer, "changed my mind")
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, o.OrderID, f.admin)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))

	o, err = f.svc.Refund(ctx, o.OrderID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, o.Status)
	assert.Equal(t, int64(10_000), f.balance(t, f.buyer))
}

func TestCancel(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()

	pending := f.order(t, 5)
	other := domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}
	_, err := f.svc.Cancel(ctx, pending.OrderID, other)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	cancelled, err := f.svc.Cancel(ctx, pending.OrderID, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)
	assert.Equal(t, int64(0), f.stock(t).QuantityReserved)

	paid := f.paidOrder(t, 5)
	cancelled, err = f.svc.Cancel(ctx, paid.OrderID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)
	assert.Equal(t, int64(10_000), f.balance(t, f.buyer))
	assert.Equal(t, int64(20), f.stock(t).QuantityAvailable)

	shipped := f.paidOrder(t, 1)
	_, err = f.svc.Dispatch(ctx, shipped.OrderID, f.farmer)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, shipped.OrderID, f.buyer)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
}

func TestPay_SellingOutClosesListing(t *testing.T) {
	f := setup(t, 50_000)
	ctx := context.Background()
	sold := f.paidOrder(t, 20)
	l := f.stock(t)
	assert.Equal(t, int64(0), l.QuantityAvailable)
	assert.Equal(t, domain.ListingSoldOut, l.Status)

	_, err := f.svc.Create(ctx, CreateInput{ListingID: f.listing.ListingID, Buyer: f.buyer, Quantity: 1})
	assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))

	_, err = f.svc.Refund(ctx, sold.OrderID, f.admin)
	require.NoError(t, err)
	l = f.stock(t)
	assert.Equal(t, int64(20), l.QuantityAvailable)
	assert.Equal(t, domain.ListingOpen, l.Status, "refunded goods put a sold-out listing back on sale")
}

func TestRefund_KeepsWithdrawnListingClosed(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()
	o := f.paidOrder(t, 5)

	closed, err := f.listings.CancelListing(ctx, f.listing.ListingID, f.farmer)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingClosed, closed.Status)

	o, err = f.svc.Refund(ctx, o.OrderID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, o.Status)
	assert.Equal(t, int64(10_000), f.balance(t, f.buyer))

	l := f.stock(t)
	assert.Equal(t, domain.ListingClosed, l.Status)
	assert.Equal(t, int64(20), l.QuantityAvailable)

	_, err = f.svc.Create(ctx, CreateInput{ListingID: f.listing.ListingID, Buyer: f.buyer, Quantity: 1})
	assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))
}

func TestGetAndList_RestrictedToParties(t *testing.T) {
	f := setup(t, 10_000)
	ctx := context.Background()
	o := f.order(t, 1)

	_, err := f.svc.Get(ctx, o.OrderID, f.farmer)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, o.OrderID, domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	mine, err := f.svc.List(ctx, f.buyer, "")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	all, err := f.svc.List(ctx, f.admin, domain.OrderPendingPayment)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	none, err := f.svc.List(ctx, domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
