package listings

import (
	"context"
	"errors"
	"testing"

	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/testdb"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newListing(t *testing.T) (*Service, domain.Actor, *domain.Listing) {
	t.Helper()
	svc := &Service{DB: testdb.Open(t)}
	farmer := domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer}
	l, err := svc.CreateListing(context.Background(), CreateListingInput{
		Farmer: farmer, Title: "  Sorghum ", UnitPrice: 500, Quantity: 10,
	})
	require.NoError(t, err)
	return svc, farmer, l
}

func TestCreateListing(t *testing.T) {
	svc, farmer, l := newListing(t)
	assert.Equal(t, "Sorghum", l.Title)
	assert.Equal(t, "kg", l.Unit)
	assert.Equal(t, domain.ListingOpen, l.Status)
	assert.Equal(t, farmer.UserID, l.FarmerID)

	_, err := svc.CreateListing(context.Background(), CreateListingInput{
		Farmer: domain.Actor{UserID: uuid.New(), Role: domain.RoleBuyer}, Title: "x", UnitPrice: 1, Quantity: 1,
	})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.CreateListing(context.Background(), CreateListingInput{Farmer: farmer, Title: "x", UnitPrice: 0, Quantity: 1})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	active, err := svc.GetAllActiveListings(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestReservationLifecycle(t *testing.T) {
	svc, _, l := newListing(t)
	require.NoError(t, svc.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := Lock(tx, l.ListingID)
		require.NoError(t, err)
		require.NoError(t, Reserve(tx, locked, 6))
		err = Reserve(tx, locked, 5)
		assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))
		require.NoError(t, Fulfil(tx, locked, 6))
		return nil
	}))

	got, err := svc.GetListingByID(context.Background(), l.ListingID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.QuantityAvailable)
	assert.Equal(t, int64(0), got.QuantityReserved)
	assert.Equal(t, domain.ListingOpen, got.Status)
}

func TestEditListing_CannotDropBelowReserved(t *testing.T) {
	svc, farmer, l := newListing(t)
	require.NoError(t, svc.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := Lock(tx, l.ListingID)
		if err != nil {
			return err
		}
		return Reserve(tx, locked, 4)
	}))

	three := int64(3)
	_, err := svc.EditListing(context.Background(), EditListingInput{ListingID: l.ListingID, Farmer: farmer, NewQuantity: &three})
	assert.True(t, errors.Is(err, domain.ErrInsufficientListingQuantity))

	price := int64(650)
	edited, err := svc.EditListing(context.Background(), EditListingInput{ListingID: l.ListingID, Farmer: farmer, NewPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(650), edited.UnitPrice)

	other := domain.Actor{UserID: uuid.New(), Role: domain.RoleFarmer}
	_, err = svc.EditListing(context.Background(), EditListingInput{ListingID: l.ListingID, Farmer: other, NewPrice: &price})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.CancelListing(context.Background(), l.ListingID, farmer)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition), "reserved listings stay open")
}

func TestCancelListing(t *testing.T) {
	svc, farmer, l := newListing(t)
	closed, err := svc.CancelListing(context.Background(), l.ListingID, farmer)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingClosed, closed.Status)

	_, err = svc.CancelListing(context.Background(), l.ListingID, farmer)
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))

	qty := int64(5)
	_, err = svc.EditListing(context.Background(), EditListingInput{ListingID: l.ListingID, Farmer: farmer, NewQuantity: &qty})
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition), "closed listings cannot be restocked")

	_, err = svc.GetListingByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRestock_ReopensOnlySoldOutListings(t *testing.T) {
	svc, farmer, l := newListing(t)
	require.NoError(t, svc.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := Lock(tx, l.ListingID)
		require.NoError(t, err)
		require.NoError(t, Reserve(tx, locked, 10))
		require.NoError(t, Fulfil(tx, locked, 10))
		assert.Equal(t, domain.ListingSoldOut, locked.Status)
		require.NoError(t, Restock(tx, locked, 4))
		assert.Equal(t, domain.ListingOpen, locked.Status)
		return nil
	}))

	_, err := svc.CancelListing(context.Background(), l.ListingID, farmer)
	require.NoError(t, err)
	require.NoError(t, svc.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := Lock(tx, l.ListingID)
		require.NoError(t, err)
		return Restock(tx, locked, 3)
	}))

	got, err := svc.GetListingByID(context.Background(), l.ListingID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingClosed, got.Status)
	assert.Equal(t, int64(7), got.QuantityAvailable)
}

func TestEditListing_AddingStockReopensSoldOutListing(t *testing.T) {
	svc, farmer, l := newListing(t)
	require.NoError(t, svc.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := Lock(tx, l.ListingID)
		require.NoError(t, err)
		require.NoError(t, Reserve(tx, locked, 10))
		return Fulfil(tx, locked, 10)
	}))

	qty := int64(8)
	edited, err := svc.EditListing(context.Background(), EditListingInput{ListingID: l.ListingID, Farmer: farmer, NewQuantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, domain.ListingOpen, edited.Status)
	assert.Equal(t, int64(8), edited.QuantityAvailable)
}
