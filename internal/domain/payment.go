package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WalletTopUp records a card payment that credited a wallet.
type WalletTopUp struct {
	ID                    uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StripePaymentIntentID string         `gorm:"column:stripe_payment_intent_id;uniqueIndex;not null" json:"stripe_payment_intent_id"`
	StripeEventID         string         `gorm:"column:stripe_event_id;not null" json:"stripe_event_id"`
	UserID                uuid.UUID      `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	AmountMinor           int64          `gorm:"column:amount_minor;not null" json:"amount_minor"`
	Currency              string         `gorm:"column:currency;not null" json:"currency"`
	Status                string         `gorm:"column:status;not null" json:"status"`
	LedgerEntryID         int64          `gorm:"column:ledger_entry_id;not null" json:"ledger_entry_id"`
	RawPaymentIntent      datatypes.JSON `gorm:"column:raw_payment_intent" json:"raw_payment_intent"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

func (WalletTopUp) TableName() string {
	return "wallet_top_ups"
}

func (p *WalletTopUp) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
