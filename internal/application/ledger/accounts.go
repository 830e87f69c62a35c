package ledger

import (
	"context"
	"errors"

	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var platformAccounts = []struct {
	code string
	kind domain.AccountKind
}{
	{domain.LoanPoolCode, domain.AccountPool},
	{domain.EscrowPoolCode, domain.AccountPool},
	{domain.ExternalSettlementCode, domain.AccountExternal},
}

// Bootstrap creates the platform-owned accounts if they do not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range platformAccounts {
			if _, err := ensureAccount(tx, p.code, p.kind, domain.RolePlatform, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Platform returns a platform account by code.
func Platform(tx *gorm.DB, code string) (*domain.Account, error) {
	var account domain.Account
	err := tx.Where("code = ?", code).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Fail(domain.ErrUnknownAccount, "account", code, "platform account not bootstrapped")
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Wallet returns the owner's wallet, opening it with a zero balance on first use.
// The wallet keeps the role its owner held when it was opened.
func Wallet(tx *gorm.DB, owner domain.Actor) (*domain.Account, error) {
	if owner.UserID == uuid.Nil {
		return nil, domain.Invalid("wallet", "", "user id is required")
	}
	role, err := domain.ParseRole(string(owner.Role))
	if err != nil {
		return nil, domain.Invalid("wallet", owner.UserID.String(), "wallet owner role %q is not a user role", owner.Role)
	}
	return ensureAccount(tx, domain.WalletCode(owner.UserID), domain.AccountWallet, role, &owner.UserID)
}

// ExistingWallet returns a wallet that was already opened, for callers that do not
// know the owner's role.
func ExistingWallet(tx *gorm.DB, userID uuid.UUID) (*domain.Account, error) {
	var accounts []domain.Account
	if err := tx.Where("code = ?", domain.WalletCode(userID)).Limit(1).Find(&accounts).Error; err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, domain.Fail(domain.ErrUnknownAccount, "wallet", userID.String(), "no wallet opened")
	}
	return &accounts[0], nil
}

// Wallet is the context-scoped variant of the package-level Wallet.
func (s *Service) Wallet(ctx context.Context, owner domain.Actor) (*domain.Account, error) {
	return Wallet(s.DB.WithContext(ctx), owner)
}

// Platform is the context-scoped variant of the package-level Platform.
func (s *Service) Platform(ctx context.Context, code string) (*domain.Account, error) {
	return Platform(s.DB.WithContext(ctx), code)
}

func ensureAccount(tx *gorm.DB, code string, kind domain.AccountKind, role domain.Role, owner *uuid.UUID) (*domain.Account, error) {
	candidate := domain.Account{Code: code, Kind: kind, Role: role, OwnerID: owner}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return nil, err
	}
	var account domain.Account
	if err := tx.Where("code = ?", code).Take(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}
