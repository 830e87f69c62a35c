package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderEscrowHeld     OrderStatus = "escrow_held"
	OrderDispatched     OrderStatus = "dispatched"
	OrderDisputed       OrderStatus = "disputed"
	OrderCompleted      OrderStatus = "completed"
	OrderRefunded       OrderStatus = "refunded"
	OrderCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderRefunded || s == OrderCancelled
}

// orderTransitions is the complete escrow state machine.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingPayment: {OrderEscrowHeld, OrderCancelled},
	OrderEscrowHeld:     {OrderDispatched, OrderDisputed, OrderRefunded, OrderCancelled},
	OrderDispatched:     {OrderCompleted, OrderDisputed},
	OrderDisputed:       {OrderRefunded, OrderCompleted},
}

// CanTransition reports whether the escrow state machine allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is owned by the escrow engine. While it is escrow_held or dispatched (or disputed)
// TotalPrice sits in the escrow pool, funded by the entry EscrowReference points to.
type Order struct {
	OrderID         uuid.UUID    `gorm:"column:order_id;type:uuid;primaryKey" json:"id"`
	ListingID       uuid.UUID    `gorm:"column:listing_id;type:uuid;not null;index" json:"listing_id"`
	BuyerID         uuid.UUID    `gorm:"column:buyer_id;type:uuid;not null;index" json:"buyer_id"`
	FarmerID        uuid.UUID    `gorm:"column:farmer_id;type:uuid;not null;index" json:"farmer_id"`
	Quantity        int64        `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice       int64        `gorm:"column:unit_price;not null" json:"unit_price"`
	TotalPrice      int64        `gorm:"column:total_price;not null" json:"total_price"`
	Status          OrderStatus  `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	EscrowReference *int64       `gorm:"column:escrow_reference" json:"escrow_reference,omitempty"`
	SettlementEntry *int64       `gorm:"column:settlement_entry" json:"settlement_entry,omitempty"`
	DeliveryAddress string       `gorm:"column:delivery_address" json:"delivery_address"`
	DisputedFrom    *OrderStatus `gorm:"column:disputed_from;type:varchar(20)" json:"disputed_from,omitempty"`
	DisputeReason   string       `gorm:"column:dispute_reason" json:"dispute_reason,omitempty"`
	PaidAt          *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	DispatchedAt    *time.Time   `gorm:"column:dispatched_at" json:"dispatched_at,omitempty"`
	SettledAt       *time.Time   `gorm:"column:settled_at" json:"settled_at,omitempty"`
	Version         int64        `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt       time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.OrderID == uuid.Nil {
		o.OrderID = uuid.New()
	}
	return nil
}

// HoldsEscrow reports whether the order's total is currently held by the escrow pool.
func (o *Order) HoldsEscrow() bool {
	switch o.Status {
	case OrderEscrowHeld, OrderDispatched, OrderDisputed:
		return true
	}
	return false
}

// GoodsShipped reports whether the goods left the farmer before settlement.
func (o *Order) GoodsShipped() bool {
	if o.DispatchedAt != nil {
		return true
	}
	return o.DisputedFrom != nil && *o.DisputedFrom == OrderDispatched
}
