/*
Package ledger provides the double-entry ledger core.

PURPOSE:
  This package owns the money-bearing logic of the back office: the
  Chart-of-Accounts hierarchy, posting of balanced entries, and replay of
  account histories. Everything else (tables, modals, imports, print
  layouts) consumes it through create and query operations.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A node in the Chart of Accounts, folder or leaf
  - Posting: An immutable, committed money movement (transaction, journal, reversal)
  - Line: One leg of a posting (debit or credit against one account)
  - LedgerRow: One line of an account's running-balance view

DESIGN PRINCIPLES:
  1. Immutability: Postings are never modified, only reversed
  2. Precision: Uses decimal.Decimal for every amount and balance
  3. Type Safety: Distinct ID types for accounts and postings
  4. One rule: Impact() is the single balance rule for posting and replay

USAGE:
  s := store.NewTxMemory()
  registry := ledger.NewRegistry(s)
  engine := ledger.NewEngine(s, registry)
  calc := ledger.NewCalculator(s)

SEE ALSO:
  - impact.go: Normal balance side and balance impact
  - registry.go: Chart-of-Accounts operations
  - engine.go: Posting operations
  - balance.go: Ledger view and reconciliation
*/
package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type PostingID string

// =============================================================================
// ACCOUNT - Chart-of-Accounts node
// =============================================================================

type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Equity    AccountType = "equity"
	Income    AccountType = "income"
	Expense   AccountType = "expense"
)

// AccountTypes lists every valid type in statement order.
var AccountTypes = []AccountType{Asset, Liability, Equity, Income, Expense}

func (t AccountType) Valid() bool {
	return slices.Contains(AccountTypes, t)
}

// accountTypeNames joins AccountTypes for error messages.
func accountTypeNames() string {
	names := make([]string, len(AccountTypes))
	for i, t := range AccountTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// Account is a Chart-of-Accounts node.
//
// Balance is the materialized value in the account's own currency. It is
// only written by the Engine; Version increments on every stored write and
// is the compare-and-swap token for balance updates.
type Account struct {
	ID        AccountID
	Code      string
	Name      string
	Type      AccountType
	IsFolder  bool
	ParentID  *AccountID
	Currency  string
	Balance   decimal.Decimal
	IsSystem  bool
	IsActive  bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRoot reports whether the account has no parent.
func (a Account) IsRoot() bool { return a.ParentID == nil }

// AccountSpec describes an account to create.
type AccountSpec struct {
	ID       AccountID // optional; generated when empty
	Code     string
	Name     string
	Type     AccountType
	IsFolder bool
	ParentID *AccountID
	Currency string
	IsSystem bool
	IsActive *bool // defaults to true
}

// AccountPatch describes a metadata update. Nil fields are left unchanged.
// Type and IsSystem are fixed at creation and cannot be patched.
type AccountPatch struct {
	Code        *string
	Name        *string
	ParentID    *AccountID
	ClearParent bool
	IsFolder    *bool
	IsActive    *bool
	Currency    *string
}

// TreeNode is one account and its ordered children.
type TreeNode struct {
	Account  Account
	Children []*TreeNode
}

// =============================================================================
// POSTING - Committed money movement
// =============================================================================

type Side string

const (
	Debit  Side = "debit"
	Credit Side = "credit"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Debit {
		return Credit
	}
	return Debit
}

type PostingKind string

const (
	KindTransaction PostingKind = "transaction" // two legs: from (credit) and to (debit)
	KindJournal     PostingKind = "journal"     // N balanced lines
	KindReversal    PostingKind = "reversal"    // offsets an earlier posting
)

type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
)

// Line is one leg of a posting. Exactly one of Debit or Credit is positive.
type Line struct {
	AccountID AccountID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Side returns which side of the entry the line sits on.
func (l Line) Side() Side {
	if l.Debit.IsPositive() {
		return Debit
	}
	return Credit
}

// Amount returns the positive amount of the line.
func (l Line) Amount() decimal.Decimal {
	if l.Debit.IsPositive() {
		return l.Debit
	}
	return l.Credit
}

// Swapped returns the line with debit and credit exchanged.
func (l Line) Swapped() Line {
	return Line{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit}
}

// Posting is an immutable, committed record of money movement.
//
// A Transaction is the two-line case: the FromAccountID leg is a credit of
// Amount and the ToAccountID leg a debit of Amount. Lines are always
// populated, so replay never needs to distinguish the shapes.
type Posting struct {
	ID            PostingID
	Sequence      int64 // insertion order, assigned by the store
	Kind          PostingKind
	Status        Status
	Date          time.Time
	Description   string
	Currency      string
	FromAccountID AccountID       // transactions (and their reversals) only
	ToAccountID   AccountID       // transactions (and their reversals) only
	Amount        decimal.Decimal // transactions (and their reversals) only
	Lines         []Line
	ReversesID    PostingID // set on reversals
	CreatedAt     time.Time
}

// Totals returns the summed debits and credits of the posting.
func (p Posting) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range p.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Touches reports whether any line references the account.
func (p Posting) Touches(id AccountID) bool {
	for _, l := range p.Lines {
		if l.AccountID == id {
			return true
		}
	}
	return false
}

// AccountIDs returns the distinct accounts referenced, in line order.
func (p Posting) AccountIDs() []AccountID {
	seen := make(map[AccountID]bool, len(p.Lines))
	var ids []AccountID
	for _, l := range p.Lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	return ids
}

// =============================================================================
// POSTING INPUTS
// =============================================================================

type TransactionInput struct {
	FromAccountID AccountID
	ToAccountID   AccountID
	Amount        decimal.Decimal
	Currency      string
	Date          time.Time
	Description   string
}

type JournalInput struct {
	Lines       []Line
	Currency    string // optional; inferred from the accounts when empty
	Date        time.Time
	Description string
}

type ReverseInput struct {
	Date        *time.Time // defaults to the original posting date
	Description string
}

// =============================================================================
// QUERY RESULTS
// =============================================================================

// LedgerRow is one leg in an account's history with the running balance
// after it was applied.
type LedgerRow struct {
	PostingID      PostingID
	Sequence       int64
	Kind           PostingKind
	Date           time.Time
	Description    string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	Impact         decimal.Decimal
	RunningBalance decimal.Decimal
}

// Reconciliation compares replayed history to the stored balance.
type Reconciliation struct {
	AccountID AccountID
	OK        bool
	Computed  decimal.Decimal
	Stored    decimal.Decimal
}

// EquationCheck is the accounting equation for one currency:
// debit-normal balances minus credit-normal balances.
type EquationCheck struct {
	Currency     string
	DebitNormal  decimal.Decimal
	CreditNormal decimal.Decimal
	Difference   decimal.Decimal
	OK           bool
}
