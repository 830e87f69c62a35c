package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the single role an authenticated user acts under.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"

	// RolePlatform owns the pool and settlement accounts. No session acts under it.
	RolePlatform Role = "platform"
)

// ParseRole accepts the session representation of a role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleFarmer, RoleBuyer, RoleAdmin:
		return r, nil
	default:
		return "", Invalid("role", s, "unknown role")
	}
}

// Permission names an action gated by role.
type Permission string

const (
	PermApplyLoan      Permission = "apply_loan"
	PermRepayLoan      Permission = "repay_loan"
	PermDecideLoan     Permission = "decide_loan"
	PermDisburseLoan   Permission = "disburse_loan"
	PermMarkOverdue    Permission = "mark_overdue"
	PermCreateListing  Permission = "create_listing"
	PermPlaceOrder     Permission = "place_order"
	PermFulfilOrder    Permission = "fulfil_order"
	PermResolveDispute Permission = "resolve_dispute"
	PermManageLedger   Permission = "manage_ledger"
	PermIngestScores   Permission = "ingest_scores"
)

var allPermissions = []Permission{
	PermApplyLoan, PermRepayLoan, PermDecideLoan, PermDisburseLoan, PermMarkOverdue,
	PermCreateListing, PermPlaceOrder, PermFulfilOrder, PermResolveDispute,
	PermManageLedger, PermIngestScores,
}

// Permissions lists what r may do.
func (r Role) Permissions() []Permission {
	out := make([]Permission, 0, len(allPermissions))
	for _, p := range allPermissions {
		if r.Can(p) {
			out = append(out, p)
		}
	}
	return out
}

// Can reports whether r grants p. Every role is listed so adding one forces a decision here.
func (r Role) Can(p Permission) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleFarmer:
		switch p {
		case PermApplyLoan, PermRepayLoan, PermCreateListing, PermFulfilOrder, PermPlaceOrder:
			return true
		}
		return false
	case RoleBuyer:
		return p == PermPlaceOrder
	case RolePlatform:
		return false
	default:
		return false
	}
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) String() string { return fmt.Sprintf("%s(%s)", a.Role, a.UserID) }

// Require fails with ErrForbidden unless the actor's role grants p.
func (a Actor) Require(p Permission) error {
	if !a.Role.Can(p) {
		return Fail(ErrForbidden, "user", a.UserID.String(), "role %s may not %s", a.Role, p)
	}
	return nil
}
