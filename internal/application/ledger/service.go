package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"time"

	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPageSize = 200

// Service is the only component that mutates account balances.
type Service struct {
	DB       *gorm.DB
	PageSize int
	Now      func() time.Time
}

// TransferInput describes one movement of value. (Reason, ReferenceID) makes it idempotent.
type TransferInput struct {
	From        uuid.UUID
	To          uuid.UUID
	Amount      int64
	Reason      domain.EntryReason
	ReferenceID string
}

func (in TransferInput) validate() error {
	if in.Amount <= 0 {
		return domain.Invalid("transfer", in.ReferenceID, "amount must be positive")
	}
	if in.From == uuid.Nil || in.To == uuid.Nil {
		return domain.Invalid("transfer", in.ReferenceID, "both accounts are required")
	}
	if in.From == in.To {
		return domain.Invalid("transfer", in.ReferenceID, "cannot transfer to the same account")
	}
	if in.Reason == "" || in.ReferenceID == "" {
		return domain.Invalid("transfer", in.ReferenceID, "reason and reference_id are required")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Transfer moves Amount from one account to another in its own transaction.
// Replaying a completed (Reason, ReferenceID) returns the original entry unchanged.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, _, err := s.TransferTx(tx, in)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// TransferTx performs the transfer inside the caller's transaction so engines can
// commit a state change and its money movement together. applied is false when the
// transfer was already recorded earlier and nothing moved this time.
func (s *Service) TransferTx(tx *gorm.DB, in TransferInput) (entry *domain.LedgerEntry, applied bool, err error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	// Lock accounts in consistent order to prevent deadlocks.
	firstID, secondID := in.From, in.To
	if firstID.String() > secondID.String() {
		firstID, secondID = secondID, firstID
	}
	first, err := lockAccount(tx, firstID)
	if err != nil {
		return nil, false, err
	}
	second, err := lockAccount(tx, secondID)
	if err != nil {
		return nil, false, err
	}
	from, to := first, second
	if firstID != in.From {
		from, to = second, first
	}

	// Checked under the account locks: a concurrent retry of the same key waits above.
	prior, err := FindByReference(tx, in.Reason, in.ReferenceID)
	if err != nil {
		return nil, false, err
	}
	if prior != nil {
		if prior.FromAccount != in.From || prior.ToAccount != in.To || prior.Amount != in.Amount {
			return nil, false, domain.Invalid("transfer", in.ReferenceID, "reference already used for a different transfer")
		}
		return prior, false, nil
	}

	if !from.MayOverdraw() && from.Balance < in.Amount {
		return nil, false, domain.Fail(domain.ErrInsufficientFunds, "account", from.AccountID.String(),
			"balance %d is below %d", from.Balance, in.Amount)
	}

	now := s.now().Truncate(time.Microsecond)
	entry = &domain.LedgerEntry{
		FromAccount:      in.From,
		ToAccount:        in.To,
		Amount:           in.Amount,
		Reason:           in.Reason,
		ReferenceID:      in.ReferenceID,
		FromBalanceAfter: from.Balance - in.Amount,
		ToBalanceAfter:   to.Balance + in.Amount,
		CreatedAt:        now,
	}
	entry.Checksum = Checksum(entry)
	if err := tx.Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, domain.Fail(domain.ErrConcurrentModification, "transfer", in.ReferenceID, "reference recorded concurrently")
		}
		return nil, false, err
	}

	if err := updateBalance(tx, from, entry.FromBalanceAfter, now); err != nil {
		return nil, false, err
	}
	if err := updateBalance(tx, to, entry.ToBalanceAfter, now); err != nil {
		return nil, false, err
	}

	log.Debug().
		Int64("sequence_no", entry.SequenceNo).
		Str("reason", string(in.Reason)).
		Str("reference_id", in.ReferenceID).
		Int64("amount", in.Amount).
		Msg("ledger transfer")
	return entry, true, nil
}

func lockAccount(tx *gorm.DB, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", id).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Fail(domain.ErrUnknownAccount, "account", id.String(), "")
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func updateBalance(tx *gorm.DB, account *domain.Account, balance int64, now time.Time) error {
	result := tx.Model(&domain.Account{}).
		Where("account_id = ? AND version = ?", account.AccountID, account.Version).
		Updates(map[string]interface{}{
			"balance":    balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.Fail(domain.ErrConcurrentModification, "account", account.AccountID.String(), "optimistic lock failed")
	}
	return nil
}

// FindByReference returns the entry recorded under (reason, referenceID), or nil.
func FindByReference(tx *gorm.DB, reason domain.EntryReason, referenceID string) (*domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := tx.Where("reason = ? AND reference_id = ?", reason, referenceID).Limit(1).Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// Checksum is the BLAKE2b-256 digest of an entry's immutable fields.
func Checksum(e *domain.LedgerEntry) string {
	payload := fmt.Sprintf("%s|%s|%d|%s|%s|%d",
		e.FromAccount, e.ToAccount, e.Amount, e.Reason, e.ReferenceID, e.CreatedAt.UnixMicro())
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyEntry reports whether an entry still matches the checksum it was written with.
func VerifyEntry(e *domain.LedgerEntry) bool {
	return e.Checksum == Checksum(e)
}

// Balance returns the cached balance of an account.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var account domain.Account
	err := s.DB.WithContext(ctx).Select("balance").Where("account_id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, domain.Fail(domain.ErrUnknownAccount, "account", accountID.String(), "")
	}
	return account.Balance, err
}

// History yields every entry touching the account in sequence order. The sequence is
// read lazily page by page and can be ranged over again from the start.
func (s *Service) History(ctx context.Context, accountID uuid.UUID) iter.Seq2[domain.LedgerEntry, error] {
	size := s.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return func(yield func(domain.LedgerEntry, error) bool) {
		var after int64
		for {
			page, err := s.Page(ctx, accountID, after, size)
			if err != nil {
				yield(domain.LedgerEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.SequenceNo
			}
			if len(page) < size {
				return
			}
		}
	}
}

// Page returns up to limit entries touching the account with sequence_no greater than after.
func (s *Service) Page(ctx context.Context, accountID uuid.UUID, after int64, limit int) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("(from_account = ? OR to_account = ?) AND sequence_no > ?", accountID, accountID, after).
		Order("sequence_no ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Reconciliation compares an account's cached balance with the ledger.
type Reconciliation struct {
	AccountID uuid.UUID `json:"account_id"`
	Cached    int64     `json:"cached"`
	Computed  int64     `json:"computed"`
	Entries   int       `json:"entries"`
	Tampered  int       `json:"tampered"`
}

// Consistent is true when the projection matches the ledger and no entry was altered.
func (r Reconciliation) Consistent() bool {
	return r.Cached == r.Computed && r.Tampered == 0
}

// Reconcile replays the account's history and checks every entry's checksum.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	cached, err := s.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	r := &Reconciliation{AccountID: accountID, Cached: cached}
	for e, err := range s.History(ctx, accountID) {
		if err != nil {
			return nil, err
		}
		r.Entries++
		r.Computed += e.SignedFor(accountID)
		if !VerifyEntry(&e) {
			r.Tampered++
		}
	}
	if !r.Consistent() {
		log.Warn().
			Str("account_id", accountID.String()).
			Int64("cached", r.Cached).
			Int64("computed", r.Computed).
			Int("tampered", r.Tampered).
			Msg("ledger reconciliation mismatch")
	}
	return r, nil
}

// Totals summarises the whole ledger. Net is the sum of every cached balance and
// is zero while money is conserved.
type Totals struct {
	Net      int64            `json:"net"`
	Accounts int64            `json:"accounts"`
	Entries  int64            `json:"entries"`
	Platform map[string]int64 `json:"platform"`
}

func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	db := s.DB.WithContext(ctx)
	var agg struct {
		Net   int64
		Count int64
	}
	if err := db.Model(&domain.Account{}).Select("COALESCE(SUM(balance), 0) AS net, COUNT(*) AS count").Scan(&agg).Error; err != nil {
		return nil, err
	}
	t := &Totals{Net: agg.Net, Accounts: agg.Count, Platform: make(map[string]int64, len(platformAccounts))}
	if err := db.Model(&domain.LedgerEntry{}).Count(&t.Entries).Error; err != nil {
		return nil, err
	}
	var platform []domain.Account
	if err := db.Where("owner_id IS NULL").Find(&platform).Error; err != nil {
		return nil, err
	}
	for _, a := range platform {
		t.Platform[a.Code] = a.Balance
	}
	return t, nil
}
