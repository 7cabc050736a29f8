/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  Every failure names the invariant it protects so callers can correct
  input rather than retry blindly. Sentinels support errors.Is(); the
  structured types carry the details and unwrap to their sentinel.

ERROR KINDS:
  ValidationError      bad shape, amount, self-reference, currency, protected delete
  NotFoundError        missing account or posting
  FolderPostingError   a leg targets a folder account
  CycleError           reparenting would make an account its own ancestor
  ImbalanceError       journal debits != credits
  ConcurrencyConflict  stale balance read (retried internally, then surfaced)

SEE ALSO:
  - api/errors.go: HTTP status mapping per kind
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrFolderPosting       = errors.New("folder accounts cannot receive postings")
	ErrCycle               = errors.New("account hierarchy cycle")
	ErrImbalance           = errors.New("entry is unbalanced")
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Validation codes.
const (
	CodeRequired         = "required"
	CodeInvalid          = "invalid"
	CodeNonPositive      = "non_positive_amount"
	CodeSelfReference    = "self_reference"
	CodeCurrencyMismatch = "currency_mismatch"
	CodeInactive         = "inactive_account"
	CodeParentNotFolder  = "parent_not_folder"
	CodeDuplicate        = "duplicate"
	CodeSystemAccount    = "system_account"
	CodeHasPostings      = "has_postings"
	CodeHasChildren      = "has_children"
	CodeAlreadyReversed  = "already_reversed"
)

type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, code, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Kind string // "account", "posting"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateAccount builds the ValidationError stores return on id reuse.
func DuplicateAccount(id AccountID) error {
	return invalid("id", CodeDuplicate, "account %q already exists", id)
}

// AccountNotFound builds the NotFoundError stores return for accounts.
func AccountNotFound(id AccountID) error {
	return &NotFoundError{Kind: "account", ID: string(id)}
}

// PostingNotFound builds the NotFoundError stores return for postings.
func PostingNotFound(id PostingID) error {
	return &NotFoundError{Kind: "posting", ID: string(id)}
}

type FolderPostingError struct {
	AccountID AccountID
	Name      string
}

func (e *FolderPostingError) Error() string {
	return fmt.Sprintf("account %q (%s) is a folder and cannot receive postings", e.AccountID, e.Name)
}

func (e *FolderPostingError) Unwrap() error { return ErrFolderPosting }

type CycleError struct {
	AccountID AccountID
	ParentID  AccountID
}

func (e *CycleError) Error() string {
	if e.AccountID == e.ParentID {
		return fmt.Sprintf("account %q cannot be its own parent", e.AccountID)
	}
	return fmt.Sprintf("account %q cannot be moved under %q: %q is its descendant", e.AccountID, e.ParentID, e.ParentID)
}

func (e *CycleError) Unwrap() error { return ErrCycle }

type ImbalanceError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Difference is debits minus credits.
func (e *ImbalanceError) Difference() decimal.Decimal { return e.Debit.Sub(e.Credit) }

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("entry is unbalanced by %s (debits %s, credits %s)",
		money(e.Difference().Abs()), money(e.Debit), money(e.Credit))
}

// money formats with at least two decimals without hiding finer precision.
func money(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

func (e *ImbalanceError) Unwrap() error { return ErrImbalance }

type ConcurrencyConflictError struct {
	AccountID AccountID
	Attempts  int
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("account %q was modified concurrently (gave up after %d attempts)", e.AccountID, e.Attempts)
	}
	return fmt.Sprintf("account %q was modified concurrently", e.AccountID)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrFolderPosting) ||
		errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrImbalance)
}

// IsNotFound returns true if the error indicates a missing account or posting.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
