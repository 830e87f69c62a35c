package orders

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"agrifin-backend/internal/application/events"
	"agrifin-backend/internal/application/ledger"
	"agrifin-backend/internal/application/listings"
	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service runs the escrow state machine. Money only moves through the ledger, in the
// same transaction as the status change it belongs to.
type Service struct {
	DB     *gorm.DB
	Ledger *ledger.Service
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

type CreateInput struct {
	ListingID       uuid.UUID
	Buyer           domain.Actor
	Quantity        int64
	DeliveryAddress string
}

// Create reserves quantity on the listing and opens an order awaiting payment.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Order, error) {
	if err := in.Buyer.Require(domain.PermPlaceOrder); err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, domain.Invalid("order", "", "quantity must be positive")
	}
	order := &domain.Order{
		ListingID:       in.ListingID,
		BuyerID:         in.Buyer.UserID,
		Quantity:        in.Quantity,
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		Status:          domain.OrderPendingPayment,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing, err := listings.Lock(tx, in.ListingID)
		if err != nil {
			return err
		}
		if listing.FarmerID == in.Buyer.UserID {
			return domain.Invalid("order", "", "cannot buy from your own listing")
		}
		if in.Quantity > math.MaxInt64/listing.UnitPrice {
			return domain.Invalid("order", "", "order total overflows")
		}
		if err := listings.Reserve(tx, listing, in.Quantity); err != nil {
			return err
		}
		if _, err := ledger.Wallet(tx, in.Buyer); err != nil {
			return err
		}
		order.FarmerID = listing.FarmerID
		order.UnitPrice = listing.UnitPrice
		order.TotalPrice = in.Quantity * listing.UnitPrice
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return events.Record(tx, domain.EntityOrder, order.OrderID, "created", &in.Buyer, map[string]interface{}{
			"listing_id":  listing.ListingID,
			"quantity":    order.Quantity,
			"total_price": order.TotalPrice,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(order, "created")
	return order, nil
}

// Pay moves the order total from the buyer's wallet into escrow. If the transfer fails
// the order stays pending_payment.
func (s *Service) Pay(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	return s.mutate(ctx, orderID, "paid", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.BuyerID != actor.UserID {
			return forbidden(o, "only the buyer may pay")
		}
		if err := advance(o, domain.OrderEscrowHeld); err != nil {
			return err
		}
		buyer, err := ledger.ExistingWallet(tx, o.BuyerID)
		if err != nil {
			return err
		}
		entry, err := s.moveEscrow(tx, o, buyer.AccountID, domain.ReasonEscrowHold, true)
		if err != nil {
			return err
		}
		listing, err := listings.Lock(tx, o.ListingID)
		if err != nil {
			return err
		}
		if err := listings.Fulfil(tx, listing, o.Quantity); err != nil {
			return err
		}
		now := s.now()
		o.EscrowReference = &entry.SequenceNo
		o.PaidAt = &now
		return nil
	})
}

// Dispatch records that the farmer shipped the goods.
func (s *Service) Dispatch(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	if err := actor.Require(domain.PermFulfilOrder); err != nil {
		return nil, err
	}
	return s.mutate(ctx, orderID, "dispatched", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.FarmerID != actor.UserID {
			return forbidden(o, "only the farmer may dispatch")
		}
		if err := advance(o, domain.OrderDispatched); err != nil {
			return err
		}
		now := s.now()
		o.DispatchedAt = &now
		return nil
	})
}

// Receive confirms delivery and releases escrow to the farmer.
func (s *Service) Receive(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	return s.mutate(ctx, orderID, "received", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.BuyerID != actor.UserID {
			return forbidden(o, "only the buyer may confirm receipt")
		}
		if o.Status != domain.OrderDispatched {
			return transitionError(o, domain.OrderCompleted)
		}
		return s.settle(tx, o, domain.OrderCompleted)
	})
}

// Dispute freezes escrow until an admin refunds or releases it.
func (s *Service) Dispute(ctx context.Context, orderID uuid.UUID, actor domain.Actor, reason string) (*domain.Order, error) {
	return s.mutate(ctx, orderID, "disputed", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.BuyerID != actor.UserID && o.FarmerID != actor.UserID {
			return forbidden(o, "only a party to the order may dispute it")
		}
		from := o.Status
		if err := advance(o, domain.OrderDisputed); err != nil {
			return err
		}
		o.DisputedFrom = &from
		o.DisputeReason = strings.TrimSpace(reason)
		return nil
	})
}

// Refund returns escrow to the buyer. Goods that never shipped go back on the listing.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	if err := actor.Require(domain.PermResolveDispute); err != nil {
		return nil, err
	}
	return s.mutate(ctx, orderID, "refunded", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.Status != domain.OrderDisputed && o.Status != domain.OrderEscrowHeld {
			return transitionError(o, domain.OrderRefunded)
		}
		return s.settle(tx, o, domain.OrderRefunded)
	})
}

// Release settles a disputed order in the farmer's favour. Only goods that were
// dispatched can be paid for; a dispute raised before dispatch ends in a refund.
func (s *Service) Release(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	if err := actor.Require(domain.PermResolveDispute); err != nil {
		return nil, err
	}
	return s.mutate(ctx, orderID, "released", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.Status != domain.OrderDisputed {
			return transitionError(o, domain.OrderCompleted)
		}
		if !o.GoodsShipped() {
			return domain.Fail(domain.ErrInvalidStateTransition, "order", o.OrderID.String(),
				"goods were never dispatched, refund instead")
		}
		return s.settle(tx, o, domain.OrderCompleted)
	})
}

// Cancel withdraws an order before shipment. A paid order is refunded in full.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	return s.mutate(ctx, orderID, "cancelled", &actor, func(tx *gorm.DB, o *domain.Order) error {
		if o.BuyerID != actor.UserID && !actor.IsAdmin() {
			return forbidden(o, "only the buyer may cancel")
		}
		switch o.Status {
		case domain.OrderPendingPayment:
			listing, err := listings.Lock(tx, o.ListingID)
			if err != nil {
				return err
			}
			if err := listings.Unreserve(tx, listing, o.Quantity); err != nil {
				return err
			}
			o.Status = domain.OrderCancelled
			return nil
		case domain.OrderEscrowHeld:
			return s.settle(tx, o, domain.OrderCancelled)
		default:
			return transitionError(o, domain.OrderCancelled)
		}
	})
}

// settle empties escrow: to the farmer when the order completes, back to the buyer otherwise.
func (s *Service) settle(tx *gorm.DB, o *domain.Order, to domain.OrderStatus) error {
	var (
		party  domain.Actor
		reason domain.EntryReason
	)
	if to == domain.OrderCompleted {
		party, reason = domain.Actor{UserID: o.FarmerID, Role: domain.RoleFarmer}, domain.ReasonEscrowRelease
	} else {
		party, reason = domain.Actor{UserID: o.BuyerID, Role: domain.RoleBuyer}, domain.ReasonEscrowRefund
	}
	wallet, err := ledger.Wallet(tx, party)
	if err != nil {
		return err
	}
	entry, err := s.moveEscrow(tx, o, wallet.AccountID, reason, false)
	if err != nil {
		return err
	}
	if to != domain.OrderCompleted && !o.GoodsShipped() {
		listing, err := listings.Lock(tx, o.ListingID)
		if err != nil {
			return err
		}
		if err := listings.Restock(tx, listing, o.Quantity); err != nil {
			return err
		}
	}
	now := s.now()
	o.Status = to
	o.SettlementEntry = &entry.SequenceNo
	o.SettledAt = &now
	return nil
}

// moveEscrow transfers the order total between a wallet and the escrow pool.
func (s *Service) moveEscrow(tx *gorm.DB, o *domain.Order, wallet uuid.UUID, reason domain.EntryReason, intoEscrow bool) (*domain.LedgerEntry, error) {
	pool, err := ledger.Platform(tx, domain.EscrowPoolCode)
	if err != nil {
		return nil, err
	}
	in := ledger.TransferInput{
		From:        pool.AccountID,
		To:          wallet,
		Amount:      o.TotalPrice,
		Reason:      reason,
		ReferenceID: o.OrderID.String(),
	}
	if intoEscrow {
		in.From, in.To = wallet, pool.AccountID
	}
	entry, _, err := s.Ledger.TransferTx(tx, in)
	return entry, err
}

// Get returns an order visible to the actor.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	o, err := load(s.DB.WithContext(ctx), orderID, false)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != actor.UserID && o.FarmerID != actor.UserID && !actor.IsAdmin() {
		return nil, forbidden(o, "not a party to the order")
	}
	return o, nil
}

// List returns the actor's orders as buyer or farmer, or every order for admins.
func (s *Service) List(ctx context.Context, actor domain.Actor, status domain.OrderStatus) ([]domain.Order, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if !actor.IsAdmin() {
		q = q.Where("buyer_id = ? OR farmer_id = ?", actor.UserID, actor.UserID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Order
	err := q.Find(&out).Error
	return out, err
}

func (s *Service) mutate(ctx context.Context, orderID uuid.UUID, eventType string, actor *domain.Actor, fn func(tx *gorm.DB, o *domain.Order) error) (*domain.Order, error) {
	var out *domain.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := load(tx, orderID, true)
		if err != nil {
			return err
		}
		from := o.Status
		prev := o.Version
		if err := fn(tx, o); err != nil {
			return err
		}
		if from.Terminal() {
			return transitionError(o, o.Status)
		}
		o.Version = prev + 1
		o.UpdatedAt = s.now()
		result := tx.Model(&domain.Order{}).
			Where("order_id = ? AND version = ?", o.OrderID, prev).
			Updates(map[string]interface{}{
				"status":           o.Status,
				"escrow_reference": o.EscrowReference,
				"settlement_entry": o.SettlementEntry,
				"disputed_from":    o.DisputedFrom,
				"dispute_reason":   o.DisputeReason,
				"paid_at":          o.PaidAt,
				"dispatched_at":    o.DispatchedAt,
				"settled_at":       o.SettledAt,
				"version":          o.Version,
				"updated_at":       o.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.Fail(domain.ErrConcurrentModification, "order", o.OrderID.String(), "version %d is stale", prev)
		}
		data := map[string]interface{}{"from": from, "to": o.Status}
		if o.SettlementEntry != nil && o.Status.Terminal() {
			data["ledger_entry"] = *o.SettlementEntry
		} else if o.EscrowReference != nil && from == domain.OrderPendingPayment {
			data["ledger_entry"] = *o.EscrowReference
		}
		if o.DisputeReason != "" && o.Status == domain.OrderDisputed {
			data["reason"] = o.DisputeReason
		}
		if err := events.Record(tx, domain.EntityOrder, o.OrderID, eventType, actor, data); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, eventType)
	return out, nil
}

func (s *Service) logTransition(o *domain.Order, eventType string) {
	log.Info().
		Str("order_id", o.OrderID.String()).
		Str("event", eventType).
		Str("status", string(o.Status)).
		Int64("total_price", o.TotalPrice).
		Msg("order transition")
}

func load(db *gorm.DB, orderID uuid.UUID, lock bool) (*domain.Order, error) {
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var o domain.Order
	err := q.Where("order_id = ?", orderID).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Fail(domain.ErrNotFound, "order", orderID.String(), "")
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func advance(o *domain.Order, to domain.OrderStatus) error {
	if !domain.CanTransition(o.Status, to) {
		return transitionError(o, to)
	}
	o.Status = to
	return nil
}

func transitionError(o *domain.Order, to domain.OrderStatus) error {
	return domain.Fail(domain.ErrInvalidStateTransition, "order", o.OrderID.String(),
		"cannot move from %s to %s", o.Status, to)
}

func forbidden(o *domain.Order, detail string) error {
	return domain.Fail(domain.ErrForbidden, "order", o.OrderID.String(), detail)
}
