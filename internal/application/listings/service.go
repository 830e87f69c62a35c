package listings

import (
	"context"
	"errors"
	"strings"

	"agrifin-backend/internal/application/events"
	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	DB *gorm.DB
}

type CreateListingInput struct {
	Farmer    domain.Actor
	Title     string
	Unit      string
	UnitPrice int64
	Quantity  int64
}

func (s *Service) CreateListing(ctx context.Context, in CreateListingInput) (*domain.Listing, error) {
	if err := in.Farmer.Require(domain.PermCreateListing); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.Invalid("listing", "", "title is required")
	}
	if in.UnitPrice <= 0 || in.Quantity <= 0 {
		return nil, domain.Invalid("listing", "", "unit_price and quantity must be positive")
	}
	unit := in.Unit
	if unit == "" {
		unit = "kg"
	}
	listing := &domain.Listing{
		FarmerID:          in.Farmer.UserID,
		Title:             title,
		Unit:              unit,
		UnitPrice:         in.UnitPrice,
		QuantityAvailable: in.Quantity,
		Status:            domain.ListingOpen,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(listing).Error; err != nil {
			return err
		}
		return events.Record(tx, domain.EntityListing, listing.ListingID, "created", &in.Farmer, map[string]interface{}{
			"unit_price":         listing.UnitPrice,
			"quantity_available": listing.QuantityAvailable,
		})
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (s *Service) GetListingByID(ctx context.Context, listingID uuid.UUID) (*domain.Listing, error) {
	return find(s.DB.WithContext(ctx), listingID, false)
}

func (s *Service) GetAllActiveListings(ctx context.Context) ([]domain.Listing, error) {
	var listings []domain.Listing
	if err := s.DB.WithContext(ctx).Where("status = ?", domain.ListingOpen).Order("created_at DESC").Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *Service) GetFarmerListings(ctx context.Context, farmerID uuid.UUID) ([]domain.Listing, error) {
	var listings []domain.Listing
	if err := s.DB.WithContext(ctx).Where("farmer_id = ?", farmerID).Order("created_at DESC").Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

type EditListingInput struct {
	ListingID   uuid.UUID
	Farmer      domain.Actor
	NewPrice    *int64
	NewQuantity *int64
}

// EditListing changes price or quantity of an open listing. Quantity may not drop
// below what pending orders have reserved.
func (s *Service) EditListing(ctx context.Context, in EditListingInput) (*domain.Listing, error) {
	var listing *domain.Listing
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := find(tx, in.ListingID, true)
		if err != nil {
			return err
		}
		if l.FarmerID != in.Farmer.UserID && !in.Farmer.IsAdmin() {
			return domain.Fail(domain.ErrForbidden, "listing", l.ListingID.String(), "not the listing's farmer")
		}
		if l.Status == domain.ListingClosed {
			return domain.Fail(domain.ErrInvalidStateTransition, "listing", l.ListingID.String(), "listing is %s", l.Status)
		}
		updates := map[string]interface{}{}
		if in.NewPrice != nil {
			if *in.NewPrice <= 0 {
				return domain.Invalid("listing", l.ListingID.String(), "invalid price")
			}
			updates["unit_price"] = *in.NewPrice
		}
		if in.NewQuantity != nil {
			if *in.NewQuantity <= 0 {
				return domain.Invalid("listing", l.ListingID.String(), "invalid quantity")
			}
			if *in.NewQuantity < l.QuantityReserved {
				return domain.Fail(domain.ErrInsufficientListingQuantity, "listing", l.ListingID.String(),
					"%d units are reserved by pending orders", l.QuantityReserved)
			}
			updates["quantity_available"] = *in.NewQuantity
			if l.Status == domain.ListingSoldOut {
				updates["status"] = domain.ListingOpen
			}
		}
		if len(updates) == 0 {
			return domain.Invalid("listing", l.ListingID.String(), "no valid changes provided")
		}
		if err := tx.Model(l).Updates(updates).Error; err != nil {
			return err
		}
		if err := events.Record(tx, domain.EntityListing, l.ListingID, "updated", &in.Farmer, updates); err != nil {
			return err
		}
		listing, err = find(tx, l.ListingID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// CancelListing closes an open listing with no pending reservations.
func (s *Service) CancelListing(ctx context.Context, listingID uuid.UUID, farmer domain.Actor) (*domain.Listing, error) {
	var listing *domain.Listing
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := find(tx, listingID, true)
		if err != nil {
			return err
		}
		if l.FarmerID != farmer.UserID && !farmer.IsAdmin() {
			return domain.Fail(domain.ErrForbidden, "listing", l.ListingID.String(), "not the listing's farmer")
		}
		if l.Status == domain.ListingClosed {
			return domain.Fail(domain.ErrInvalidStateTransition, "listing", l.ListingID.String(), "listing is already closed")
		}
		if l.QuantityReserved > 0 {
			return domain.Fail(domain.ErrInvalidStateTransition, "listing", l.ListingID.String(),
				"%d units are reserved by pending orders", l.QuantityReserved)
		}
		l.Status = domain.ListingClosed
		if err := tx.Model(l).Update("status", domain.ListingClosed).Error; err != nil {
			return err
		}
		listing = l
		return events.Record(tx, domain.EntityListing, l.ListingID, "cancelled", &farmer, nil)
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// Lock loads a listing for update inside an order transaction.
func Lock(tx *gorm.DB, listingID uuid.UUID) (*domain.Listing, error) {
	return find(tx, listingID, true)
}

// Reserve claims qty unreserved units for a pending order.
func Reserve(tx *gorm.DB, l *domain.Listing, qty int64) error {
	if l.Status != domain.ListingOpen {
		return domain.Fail(domain.ErrInsufficientListingQuantity, "listing", l.ListingID.String(), "listing is %s", l.Status)
	}
	if qty > l.Unreserved() {
		return domain.Fail(domain.ErrInsufficientListingQuantity, "listing", l.ListingID.String(),
			"requested %d, %d unreserved", qty, l.Unreserved())
	}
	l.QuantityReserved += qty
	return tx.Model(l).Update("quantity_reserved", l.QuantityReserved).Error
}

// Unreserve returns a pending order's reservation.
func Unreserve(tx *gorm.DB, l *domain.Listing, qty int64) error {
	l.QuantityReserved -= qty
	if l.QuantityReserved < 0 {
		l.QuantityReserved = 0
	}
	return tx.Model(l).Update("quantity_reserved", l.QuantityReserved).Error
}

// Fulfil converts a reservation into sold quantity. A listing with nothing left sells out.
func Fulfil(tx *gorm.DB, l *domain.Listing, qty int64) error {
	l.QuantityReserved -= qty
	l.QuantityAvailable -= qty
	if l.QuantityReserved < 0 || l.QuantityAvailable < 0 {
		return domain.Fail(domain.ErrInsufficientListingQuantity, "listing", l.ListingID.String(), "reservation exceeds stock")
	}
	if l.QuantityAvailable == 0 {
		l.Status = domain.ListingSoldOut
	}
	return tx.Model(l).Updates(map[string]interface{}{
		"quantity_reserved":  l.QuantityReserved,
		"quantity_available": l.QuantityAvailable,
		"status":             l.Status,
	}).Error
}

// Restock returns refunded goods that never shipped to the listing. Only a sold-out
// listing goes back on sale; one its farmer closed keeps its status.
func Restock(tx *gorm.DB, l *domain.Listing, qty int64) error {
	l.QuantityAvailable += qty
	if l.Status == domain.ListingSoldOut && l.QuantityAvailable > 0 {
		l.Status = domain.ListingOpen
	}
	return tx.Model(l).Updates(map[string]interface{}{
		"quantity_available": l.QuantityAvailable,
		"status":             l.Status,
	}).Error
}

func find(db *gorm.DB, listingID uuid.UUID, lock bool) (*domain.Listing, error) {
	if listingID == uuid.Nil {
		return nil, domain.Invalid("listing", "", "listing_id is required")
	}
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var listing domain.Listing
	err := q.Where("listing_id = ?", listingID).Take(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Fail(domain.ErrNotFound, "listing", listingID.String(), "")
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}
