/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS AND DATES:
  Amounts travel as decimal strings ("5000.00") in both directions, never
  as JSON numbers. Posting dates are "YYYY-MM-DD"; timestamps are RFC3339.

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, positive amounts). Ledger rules such as balance,
  folder immunity and currency agreement are enforced by the ledger
  package and surface as typed errors.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Custom amount validators
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	IsFolder  bool            `json:"is_folder"`
	ParentID  *string         `json:"parent_id"`
	Currency  string          `json:"currency,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	IsSystem  bool            `json:"is_system"`
	IsActive  bool            `json:"is_active"`
	Version   int64           `json:"version"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// TreeNodeDTO is one node of the account forest.
type TreeNodeDTO struct {
	AccountDTO
	Children []TreeNodeDTO `json:"children"`
}

// CreateAccountRequest is the body for POST /api/accounts.
type CreateAccountRequest struct {
	ID       string  `json:"id,omitempty"`
	Code     string  `json:"code" validate:"max=32"`
	Name     string  `json:"name" validate:"required,max=200"`
	Type     string  `json:"type" validate:"required,oneof=asset liability equity income expense"`
	IsFolder bool    `json:"is_folder"`
	ParentID *string `json:"parent_id,omitempty"`
	Currency string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	IsSystem bool    `json:"is_system"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// UpdateAccountRequest is the body for PUT /api/accounts/{id}. Absent
// fields are left unchanged; clear_parent moves the account to the root.
type UpdateAccountRequest struct {
	Code        *string `json:"code,omitempty" validate:"omitempty,max=32"`
	Name        *string `json:"name,omitempty" validate:"omitempty,max=200"`
	ParentID    *string `json:"parent_id,omitempty"`
	ClearParent bool    `json:"clear_parent"`
	IsFolder    *bool   `json:"is_folder,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	Currency    *string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// =============================================================================
// POSTINGS
// =============================================================================

// CreateTransactionRequest is the body for POST /api/transactions.
type CreateTransactionRequest struct {
	FromAccountID string `json:"from_account_id" validate:"required"`
	ToAccountID   string `json:"to_account_id" validate:"required"`
	Amount        string `json:"amount" validate:"required,positive_amount"`
	Currency      string `json:"currency" validate:"required,len=3"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	Description   string `json:"description" validate:"max=500"`
}

// JournalLineRequest is one line of a journal entry. Exactly one of
// debit or credit must be positive; the ledger enforces that.
type JournalLineRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Debit     string `json:"debit,omitempty" validate:"nonnegative_amount"`
	Credit    string `json:"credit,omitempty" validate:"nonnegative_amount"`
}

// CreateJournalEntryRequest is the body for POST /api/journal-entries.
type CreateJournalEntryRequest struct {
	Lines       []JournalLineRequest `json:"lines" validate:"required,min=2,dive"`
	Currency    string               `json:"currency,omitempty" validate:"omitempty,len=3"`
	Date        string               `json:"date" validate:"required,datetime=2006-01-02"`
	Description string               `json:"description" validate:"max=500"`
}

// ReverseRequest is the optional body for POST /api/postings/{id}/reverse.
type ReverseRequest struct {
	Date        string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// LineDTO is one leg of a posting.
type LineDTO struct {
	AccountID string          `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// PostingDTO represents a committed posting.
type PostingDTO struct {
	ID            string           `json:"id"`
	Sequence      int64            `json:"sequence"`
	Kind          string           `json:"kind"`
	Status        string           `json:"status"`
	Date          string           `json:"date"`
	Description   string           `json:"description"`
	Currency      string           `json:"currency"`
	FromAccountID string           `json:"from_account_id,omitempty"`
	ToAccountID   string           `json:"to_account_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Lines         []LineDTO        `json:"lines"`
	ReversesID    string           `json:"reverses_id,omitempty"`
	CreatedAt     string           `json:"created_at"`
}

// =============================================================================
// LEDGER VIEW & RECONCILIATION
// =============================================================================

// LedgerRowDTO is one row of an account ledger.
type LedgerRowDTO struct {
	PostingID      string          `json:"posting_id"`
	Sequence       int64           `json:"sequence"`
	Kind           string          `json:"kind"`
	Date           string          `json:"date"`
	Description    string          `json:"description"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Impact         decimal.Decimal `json:"impact"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// LedgerResponse wraps an account's ledger rows, newest first.
type LedgerResponse struct {
	Account AccountDTO     `json:"account"`
	AsOf    string         `json:"as_of,omitempty"`
	Rows    []LedgerRowDTO `json:"rows"`
}

// ReconciliationDTO compares replayed and stored balances.
type ReconciliationDTO struct {
	AccountID string          `json:"account_id"`
	OK        bool            `json:"ok"`
	Computed  decimal.Decimal `json:"computed"`
	Stored    decimal.Decimal `json:"stored"`
}

// EquationDTO is the accounting equation for one currency.
type EquationDTO struct {
	Currency     string          `json:"currency"`
	DebitNormal  decimal.Decimal `json:"debit_normal"`
	CreditNormal decimal.Decimal `json:"credit_normal"`
	Difference   decimal.Decimal `json:"difference"`
	OK           bool            `json:"ok"`
}

// AuditReportDTO is the latest audit sweep.
type AuditReportDTO struct {
	RanAt      string              `json:"ran_at"`
	DurationMS int64               `json:"duration_ms"`
	Accounts   int                 `json:"accounts"`
	Mismatches []ReconciliationDTO `json:"mismatches"`
	Equations  []EquationDTO       `json:"equations"`
	OK         bool                `json:"ok"`
	Error      string              `json:"error,omitempty"`
}

// =============================================================================
// CHART
// =============================================================================

// ChartLoadResponse reports a chart load.
type ChartLoadResponse struct {
	Created []AccountDTO `json:"created"`
	Skipped []string     `json:"skipped"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

// FieldErrorDTO is one failed validation rule.
type FieldErrorDTO struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	dto := AccountDTO{
		ID:        string(a.ID),
		Code:      a.Code,
		Name:      a.Name,
		Type:      string(a.Type),
		IsFolder:  a.IsFolder,
		Currency:  a.Currency,
		Balance:   a.Balance,
		IsSystem:  a.IsSystem,
		IsActive:  a.IsActive,
		Version:   a.Version,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
	if a.ParentID != nil {
		parent := string(*a.ParentID)
		dto.ParentID = &parent
	}
	return dto
}

func toAccountDTOs(accounts []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	return dtos
}

func toTreeDTO(nodes []*ledger.TreeNode) []TreeNodeDTO {
	dtos := make([]TreeNodeDTO, len(nodes))
	for i, n := range nodes {
		dtos[i] = TreeNodeDTO{AccountDTO: toAccountDTO(n.Account), Children: toTreeDTO(n.Children)}
	}
	return dtos
}

func toPostingDTO(p ledger.Posting) PostingDTO {
	dto := PostingDTO{
		ID:            string(p.ID),
		Sequence:      p.Sequence,
		Kind:          string(p.Kind),
		Status:        string(p.Status),
		Date:          p.Date.Format(dateLayout),
		Description:   p.Description,
		Currency:      p.Currency,
		FromAccountID: string(p.FromAccountID),
		ToAccountID:   string(p.ToAccountID),
		ReversesID:    string(p.ReversesID),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		Lines:         make([]LineDTO, len(p.Lines)),
	}
	if p.FromAccountID != "" {
		amount := p.Amount
		dto.Amount = &amount
	}
	for i, l := range p.Lines {
		dto.Lines[i] = LineDTO{AccountID: string(l.AccountID), Debit: l.Debit, Credit: l.Credit}
	}
	return dto
}

func toLedgerRowDTOs(rows []ledger.LedgerRow) []LedgerRowDTO {
	dtos := make([]LedgerRowDTO, len(rows))
	for i, r := range rows {
		dtos[i] = LedgerRowDTO{
			PostingID:      string(r.PostingID),
			Sequence:       r.Sequence,
			Kind:           string(r.Kind),
			Date:           r.Date.Format(dateLayout),
			Description:    r.Description,
			Debit:          r.Debit,
			Credit:         r.Credit,
			Impact:         r.Impact,
			RunningBalance: r.RunningBalance,
		}
	}
	return dtos
}

func toReconciliationDTO(r ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		AccountID: string(r.AccountID),
		OK:        r.OK,
		Computed:  r.Computed,
		Stored:    r.Stored,
	}
}

func toEquationDTOs(checks []ledger.EquationCheck) []EquationDTO {
	dtos := make([]EquationDTO, len(checks))
	for i, c := range checks {
		dtos[i] = EquationDTO{
			Currency:     c.Currency,
			DebitNormal:  c.DebitNormal,
			CreditNormal: c.CreditNormal,
			Difference:   c.Difference,
			OK:           c.OK,
		}
	}
	return dtos
}

func toAuditReportDTO(r AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		RanAt:      r.RanAt.Format(time.RFC3339),
		DurationMS: r.Duration.Milliseconds(),
		Accounts:   r.Accounts,
		Mismatches: make([]ReconciliationDTO, len(r.Mismatches)),
		Equations:  toEquationDTOs(r.Equations),
		OK:         r.OK(),
	}
	for i, m := range r.Mismatches {
		dto.Mismatches[i] = toReconciliationDTO(m)
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	return dto
}
