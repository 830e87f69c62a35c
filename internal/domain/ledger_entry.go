package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryReason is the business reason recorded on a ledger entry.
type EntryReason string

const (
	ReasonLoanDisbursement EntryReason = "loan_disbursement"
	ReasonLoanRepayment    EntryReason = "loan_repayment"
	ReasonEscrowHold       EntryReason = "escrow_hold"
	ReasonEscrowRelease    EntryReason = "escrow_release"
	ReasonEscrowRefund     EntryReason = "escrow_refund"
	ReasonDeposit          EntryReason = "deposit"
	ReasonWalletTopUp      EntryReason = "wallet_top_up"
	ReasonPoolFunding      EntryReason = "pool_funding"
)

// LedgerEntry is one immutable transfer between two accounts.
// (Reason, ReferenceID) is the idempotency key of the transfer.
type LedgerEntry struct {
	SequenceNo       int64       `gorm:"column:sequence_no;primaryKey;autoIncrement" json:"sequence_no"`
	FromAccount      uuid.UUID   `gorm:"column:from_account;type:uuid;not null;index" json:"from_account"`
	ToAccount        uuid.UUID   `gorm:"column:to_account;type:uuid;not null;index" json:"to_account"`
	Amount           int64       `gorm:"column:amount;not null" json:"amount"`
	Reason           EntryReason `gorm:"column:reason;type:varchar(40);not null;uniqueIndex:idx_ledger_reason_reference" json:"reason"`
	ReferenceID      string      `gorm:"column:reference_id;type:varchar(120);not null;uniqueIndex:idx_ledger_reason_reference" json:"reference_id"`
	FromBalanceAfter int64       `gorm:"column:from_balance_after;not null" json:"from_balance_after"`
	ToBalanceAfter   int64       `gorm:"column:to_balance_after;not null" json:"to_balance_after"`
	Checksum         string      `gorm:"column:checksum;type:varchar(64);not null" json:"checksum"`
	CreatedAt        time.Time   `gorm:"column:created_at;not null" json:"timestamp"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// SignedFor returns the entry's effect on account: positive when credited, negative when debited.
func (e *LedgerEntry) SignedFor(account uuid.UUID) int64 {
	switch account {
	case e.ToAccount:
		return e.Amount
	case e.FromAccount:
		return -e.Amount
	}
	return 0
}
