/*
errors.go - Error taxonomy for the sale financial engine

PURPOSE:
  Every rejection carries a Kind (what class of failure) and a Code (which
  rule). Callers branch on the kind with errors.Is against the sentinels
  below; the request layer maps kinds to status codes.

KINDS:
  VALIDATION       malformed or out-of-range input, rejected before any mutation
  STATE_CONFLICT   a precondition on sale or installment state is not met
  NOT_FOUND        unknown sale, unit, installment or payment
  POOL_EXCEEDED    commission overpayment, carries the remaining allowance
  PARTIAL_FAILURE  primary operation committed, a secondary step failed

USAGE:
  if errors.Is(err, sales.ErrStateConflict) { ... }

  var pe *sales.PoolExceededError
  if errors.As(err, &pe) {
      fmt.Println("remaining:", pe.Remaining)
  }

SEE ALSO:
  - api/handlers.go: maps kinds to HTTP status codes
*/
package sales

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KINDS - Use with errors.Is()
// =============================================================================

type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindStateConflict  Kind = "STATE_CONFLICT"
	KindNotFound       Kind = "NOT_FOUND"
	KindPoolExceeded   Kind = "POOL_EXCEEDED"
	KindPartialFailure Kind = "PARTIAL_FAILURE"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrStateConflict  = errors.New("state conflict")
	ErrNotFound       = errors.New("not found")
	ErrPoolExceeded   = errors.New("commission pool exceeded")
	ErrPartialFailure = errors.New("partial failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindStateConflict:
		return ErrStateConflict
	case KindNotFound:
		return ErrNotFound
	case KindPoolExceeded:
		return ErrPoolExceeded
	case KindPartialFailure:
		return ErrPartialFailure
	}
	return nil
}

// =============================================================================
// CODES
// =============================================================================

type Code string

const (
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeInvalidPayment       Code = "INVALID_PAYMENT"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeReprogrammingBlocked Code = "REPROGRAMMING_BLOCKED"
	CodeNoCommission         Code = "NO_COMMISSION"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeExceedsPool          Code = "EXCEEDS_POOL"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeUnitUnavailable      Code = "UNIT_UNAVAILABLE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeReceiptsPartial      Code = "RECEIPTS_PARTIAL"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// Error is a classified rejection. Reason names the violated rule.
type Error struct {
	Kind   Kind
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind.sentinel() }

func newError(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Reason: fmt.Sprintf(format, args...)}
}

func validationError(code Code, format string, args ...any) error {
	return newError(KindValidation, code, format, args...)
}

func conflictError(code Code, format string, args ...any) error {
	return newError(KindStateConflict, code, format, args...)
}

func notFoundError(what string, id any) error {
	return newError(KindNotFound, CodeNotFound, "%s %v not found", what, id)
}

// PoolExceededError is returned when a commission payment would overdraw the pool.
type PoolExceededError struct {
	SaleID    SaleID
	Pool      decimal.Decimal
	Paid      decimal.Decimal
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *PoolExceededError) Error() string {
	return fmt.Sprintf("%s: payment of %s exceeds commission pool of %s, remaining allowance %s",
		CodeExceedsPool, e.Requested.StringFixed(2), e.Pool.StringFixed(2), e.Remaining.StringFixed(2))
}

func (e *PoolExceededError) Unwrap() error { return ErrPoolExceeded }

// ReceiptFailure describes one receipt that could not be attached.
type ReceiptFailure struct {
	Filename string
	Err      error
}

// PartialReceiptsError reports that a payment was recorded but some of its
// receipts were not attached. The payment itself is committed.
type PartialReceiptsError struct {
	PaymentID CommissionPaymentID
	Attached  int
	Total     int
	Failures  []ReceiptFailure
}

func (e *PartialReceiptsError) Error() string {
	return fmt.Sprintf("%s: %d of %d receipts attached to payment %s",
		CodeReceiptsPartial, e.Attached, e.Total, e.PaymentID)
}

func (e *PartialReceiptsError) Unwrap() error { return ErrPartialFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrPoolExceeded):
		return KindPoolExceeded
	case errors.Is(err, ErrPartialFailure):
		return KindPartialFailure
	}
	return ""
}

// CodeOf returns the code of a classified error, or "" for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var pe *PoolExceededError
	if errors.As(err, &pe) {
		return CodeExceedsPool
	}
	var re *PartialReceiptsError
	if errors.As(err, &re) {
		return CodeReceiptsPartial
	}
	return ""
}

// IsClientError returns true if the error was caused by the caller's input
// or by the current state of the sale.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrPoolExceeded)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
