package services

import (
	"fmt"

	"github.com/pkg/errors"
)

// Domain errors surfaced to callers. Handlers map these to status codes.
var (
	// ErrOutOfStock rejects a cart mutation or checkout that would
	// exceed the available quantity.
	ErrOutOfStock = errors.New("requested quantity exceeds available stock")

	// ErrInvoiceLocked rejects an owner mutation on a non-Draft invoice.
	ErrInvoiceLocked = errors.New("invoice is no longer editable by its owner")

	// ErrAllocationExhausted is returned after the invoice number
	// allocator exceeds its retry ceiling. It is fatal for the request
	// and never downgraded to a non-unique number.
	ErrAllocationExhausted = errors.New("invoice number allocation exhausted retries")

	// ErrCartEmpty rejects checkout of an empty cart.
	ErrCartEmpty = errors.New("cart is empty")

	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("record not found")

	// ErrForbidden reports an actor acting on a record it does not own.
	ErrForbidden = errors.New("operation not permitted for this actor")

	// ErrNotEditable rejects edits to a scheduled notification that has
	// left the Pending state.
	ErrNotEditable = errors.New("scheduled notification is no longer editable")

	// ErrDuplicateInvoiceNumber is returned by the checkout store when a
	// concurrent transaction committed the same invoice number first.
	// The allocator absorbs it; it never escapes the retry loop.
	ErrDuplicateInvoiceNumber = errors.New("invoice number already exists")
)

// ValidationError reports bad input with field-level detail
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a field-level validation error
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
