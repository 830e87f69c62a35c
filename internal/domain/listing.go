package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// A listing sells out when paid orders take its last unit; refunds of unshipped
// goods reopen it. A closed listing was withdrawn by its farmer and stays closed.
const (
	ListingOpen    = "open"
	ListingSoldOut = "sold_out"
	ListingClosed  = "closed"
)

// Listing is a farmer's produce offer. QuantityReserved counts units promised to
// orders awaiting payment; they stay in QuantityAvailable until the order is paid.
type Listing struct {
	ListingID         uuid.UUID `gorm:"column:listing_id;type:uuid;primaryKey" json:"listing_id"`
	FarmerID          uuid.UUID `gorm:"column:farmer_id;type:uuid;not null;index" json:"farmer_id"`
	Title             string    `gorm:"column:title;not null" json:"title"`
	Unit              string    `gorm:"column:unit;type:varchar(20);not null" json:"unit"`
	UnitPrice         int64     `gorm:"column:unit_price;not null" json:"unit_price"`
	QuantityAvailable int64     `gorm:"column:quantity_available;not null" json:"quantity_available"`
	QuantityReserved  int64     `gorm:"column:quantity_reserved;not null;default:0" json:"quantity_reserved"`
	Status            string    `gorm:"column:status;type:varchar(20);default:'open'" json:"status"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Listing) TableName() string {
	return "listings"
}

// BeforeCreate sets listing_id if not already set (DBs without default uuid).
func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ListingID == uuid.Nil {
		l.ListingID = uuid.New()
	}
	return nil
}

// Unreserved is the quantity a new order may still claim.
func (l *Listing) Unreserved() int64 {
	return l.QuantityAvailable - l.QuantityReserved
}
