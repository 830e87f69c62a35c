package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure leaving an engine wraps exactly one of these.
var (
	ErrValidation                  = errors.New("validation error")
	ErrInvalidStateTransition      = errors.New("invalid state transition")
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrIneligibleBorrower          = errors.New("ineligible borrower")
	ErrConcurrentModification      = errors.New("concurrent modification")
	ErrNotFound                    = errors.New("not found")
	ErrForbidden                   = errors.New("forbidden")
	ErrNoMilestonesRemaining       = errors.New("no milestones remaining")
	ErrInsufficientListingQuantity = errors.New("insufficient listing quantity")
	ErrNoAssessmentAvailable       = errors.New("no assessment available")

	// ErrUnknownAccount is a NotFound raised by the ledger.
	ErrUnknownAccount = fmt.Errorf("unknown account: %w", ErrNotFound)
)

// Error carries the kind of a failure together with the entity that triggered it.
type Error struct {
	Kind   error
	Entity string
	ID     string
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg += ": " + e.Entity
		if e.ID != "" {
			msg += " " + e.ID
		}
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Fail builds an *Error of the given kind.
func Fail(kind error, entity, id string, format string, args ...interface{}) error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Entity: entity, ID: id, Detail: detail}
}

// Invalid is shorthand for a ValidationError.
func Invalid(entity, id, format string, args ...interface{}) error {
	return Fail(ErrValidation, entity, id, format, args...)
}

// Detail returns the human readable detail of err if it is an *Error, or err.Error() otherwise.
func Detail(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Detail != "" {
			return de.Detail
		}
		return de.Kind.Error()
	}
	return err.Error()
}
