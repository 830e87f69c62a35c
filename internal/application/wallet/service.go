package wallet

import (
	"context"
	"errors"
	"strings"

	"agrifin-backend/internal/application/ledger"
	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service moves money into the system: admin deposits, pool funding and card top-ups.
// Every movement is a ledger transfer from the external settlement account.
type Service struct {
	DB       *gorm.DB
	Ledger   *ledger.Service
	Currency string
}

// Summary is a user's wallet as shown to them.
type Summary struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
}

func (s *Service) Summary(ctx context.Context, owner domain.Actor) (*Summary, error) {
	w, err := s.Ledger.Wallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &Summary{AccountID: w.AccountID, Balance: w.Balance, Currency: s.Currency}, nil
}

// HistoryLine is a ledger entry from the wallet owner's point of view.
type HistoryLine struct {
	domain.LedgerEntry
	SignedAmount int64 `json:"signed_amount"`
	BalanceAfter int64 `json:"balance_after"`
}

// History returns up to limit wallet entries after the given sequence number.
func (s *Service) History(ctx context.Context, owner domain.Actor, after int64, limit int) ([]HistoryLine, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	w, err := s.Ledger.Wallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	page, err := s.Ledger.Page(ctx, w.AccountID, after, limit)
	if err != nil {
		return nil, err
	}
	lines := make([]HistoryLine, 0, len(page))
	for _, e := range page {
		line := HistoryLine{LedgerEntry: e, SignedAmount: e.SignedFor(w.AccountID)}
		if e.ToAccount == w.AccountID {
			line.BalanceAfter = e.ToBalanceAfter
		} else {
			line.BalanceAfter = e.FromBalanceAfter
		}
		lines = append(lines, line)
	}
	return lines, nil
}

type DepositInput struct {
	Actor  domain.Actor
	UserID uuid.UUID
	// Role opens the wallet when the user has none yet.
	Role        domain.Role
	Amount      int64
	ReferenceID string
}

// Deposit credits a wallet with money received outside the platform (cash, mobile money).
func (s *Service) Deposit(ctx context.Context, in DepositInput) (*domain.LedgerEntry, error) {
	if err := in.Actor.Require(domain.PermManageLedger); err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(in.ReferenceID)
	if ref == "" {
		return nil, domain.Invalid("deposit", "", "reference_id is required")
	}
	var entry *domain.LedgerEntry
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		external, err := ledger.Platform(tx, domain.ExternalSettlementCode)
		if err != nil {
			return err
		}
		w, err := creditedWallet(tx, in.UserID, in.Role)
		if err != nil {
			return err
		}
		entry, _, err = s.Ledger.TransferTx(tx, ledger.TransferInput{
			From: external.AccountID, To: w.AccountID, Amount: in.Amount,
			Reason: domain.ReasonDeposit, ReferenceID: ref,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", in.UserID.String()).Int64("amount", in.Amount).Str("reference_id", ref).Msg("wallet deposit")
	return entry, nil
}

// FundPool moves capital into a platform pool.
func (s *Service) FundPool(ctx context.Context, actor domain.Actor, code string, amount int64, referenceID string) (*domain.LedgerEntry, error) {
	if err := actor.Require(domain.PermManageLedger); err != nil {
		return nil, err
	}
	if code != domain.LoanPoolCode && code != domain.EscrowPoolCode {
		return nil, domain.Invalid("pool", code, "unknown pool")
	}
	ref := strings.TrimSpace(referenceID)
	if ref == "" {
		return nil, domain.Invalid("pool", code, "reference_id is required")
	}
	var entry *domain.LedgerEntry
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		external, err := ledger.Platform(tx, domain.ExternalSettlementCode)
		if err != nil {
			return err
		}
		pool, err := ledger.Platform(tx, code)
		if err != nil {
			return err
		}
		entry, _, err = s.Ledger.TransferTx(tx, ledger.TransferInput{
			From: external.AccountID, To: pool.AccountID, Amount: amount,
			Reason: domain.ReasonPoolFunding, ReferenceID: ref,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("pool", code).Int64("amount", amount).Str("reference_id", ref).Msg("pool funded")
	return entry, nil
}

// TopUpPurpose tags payment intents that credit a wallet.
const TopUpPurpose = "wallet_top_up"

// TopUp is a succeeded card payment reported by the payment processor.
type TopUp struct {
	PaymentIntentID string
	EventID         string
	UserID          uuid.UUID
	Role            domain.Role
	Amount          int64
	Currency        string
	Status          string
	Raw             []byte
}

// CompleteTopUp credits the wallet for a succeeded payment exactly once per payment intent.
// The second return value is false when the payment had already been credited.
func (s *Service) CompleteTopUp(ctx context.Context, in TopUp) (*domain.WalletTopUp, bool, error) {
	if in.PaymentIntentID == "" || in.UserID == uuid.Nil {
		return nil, false, domain.Invalid("top_up", in.PaymentIntentID, "payment intent and user are required")
	}
	if s.Currency != "" && !strings.EqualFold(in.Currency, s.Currency) {
		return nil, false, domain.Invalid("top_up", in.PaymentIntentID, "currency %q is not %s", in.Currency, s.Currency)
	}
	var (
		record  domain.WalletTopUp
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("stripe_payment_intent_id = ?", in.PaymentIntentID).Take(&record).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		external, err := ledger.Platform(tx, domain.ExternalSettlementCode)
		if err != nil {
			return err
		}
		w, err := creditedWallet(tx, in.UserID, in.Role)
		if err != nil {
			return err
		}
		entry, _, err := s.Ledger.TransferTx(tx, ledger.TransferInput{
			From: external.AccountID, To: w.AccountID, Amount: in.Amount,
			Reason: domain.ReasonWalletTopUp, ReferenceID: in.PaymentIntentID,
		})
		if err != nil {
			return err
		}
		record = domain.WalletTopUp{
			StripePaymentIntentID: in.PaymentIntentID,
			StripeEventID:         in.EventID,
			UserID:                in.UserID,
			AmountMinor:           in.Amount,
			Currency:              strings.ToLower(in.Currency),
			Status:                in.Status,
			LedgerEntryID:         entry.SequenceNo,
			RawPaymentIntent:      datatypes.JSON(in.Raw),
		}
		created = true
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Info().Str("payment_intent", in.PaymentIntentID).Str("user_id", in.UserID.String()).Int64("amount", in.Amount).Msg("wallet topped up")
	}
	return &record, created, nil
}

// creditedWallet finds the wallet money is paid into. Without a role it must already exist.
func creditedWallet(tx *gorm.DB, userID uuid.UUID, role domain.Role) (*domain.Account, error) {
	if role == "" {
		return ledger.ExistingWallet(tx, userID)
	}
	return ledger.Wallet(tx, domain.Actor{UserID: userID, Role: role})
}
