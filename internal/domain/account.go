package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountKind string

const (
	AccountWallet   AccountKind = "wallet"
	AccountPool     AccountKind = "pool"
	AccountExternal AccountKind = "external"
)

// Well-known codes of platform-owned accounts.
const (
	LoanPoolCode           = "loan_pool"
	EscrowPoolCode         = "escrow_pool"
	ExternalSettlementCode = "external_settlement"
)

// WalletCode is the account code of a user's wallet.
func WalletCode(userID uuid.UUID) string {
	return "wallet:" + userID.String()
}

// Account is a cached balance projection of the ledger. Only the ledger writes Balance.
type Account struct {
	AccountID uuid.UUID   `gorm:"column:account_id;type:uuid;primaryKey" json:"account_id"`
	Code      string      `gorm:"column:code;type:varchar(80);uniqueIndex;not null" json:"code"`
	OwnerID   *uuid.UUID  `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	Kind      AccountKind `gorm:"column:kind;type:varchar(20);not null" json:"kind"`
	Role      Role        `gorm:"column:role;type:varchar(20);index" json:"role"`
	Balance   int64       `gorm:"column:balance;not null;default:0" json:"balance"`
	Version   int64       `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.AccountID == uuid.Nil {
		a.AccountID = uuid.New()
	}
	return nil
}

// MayOverdraw reports whether the account is allowed below zero.
// Only the external settlement counterparty is.
func (a *Account) MayOverdraw() bool {
	return a.Kind == AccountExternal
}
