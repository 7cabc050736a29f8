/*
handlers.go - HTTP API handlers for the ledger

PURPOSE:
  Exposes the account registry, posting engine and balance calculator via
  REST. Handles HTTP request/response and JSON serialization, and delegates
  every rule to the ledger package.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                  List all accounts
    POST   /api/accounts                  Create account
    GET    /api/accounts/tree             Chart-of-Accounts forest
    GET    /api/accounts/{id}             Get account
    PUT    /api/accounts/{id}             Update metadata / reparent
    DELETE /api/accounts/{id}             Delete (no cascade)
    GET    /api/accounts/{id}/ancestors   Breadcrumb, root first
    GET    /api/accounts/{id}/ledger      Running-balance history (?as_of=YYYY-MM-DD)
    GET    /api/accounts/{id}/reconcile   Replay vs stored balance

  Postings:
    POST   /api/transactions              Two-leg transfer
    POST   /api/journal-entries           N-line balanced entry
    GET    /api/postings/{id}             Get posting
    POST   /api/postings/{id}/reverse     Post the offsetting entry

  Operations:
    GET    /api/audit                     Latest audit report
    POST   /api/audit/run                 Run an audit sweep now
    POST   /api/chart/load                Load a chart (YAML body, or the default)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Registry: Chart of Accounts
  - Engine: Postings
  - Calculator: Ledger view and reconciliation
  - Auditor: Periodic sweep and its latest report

REQUEST FLOW:
  1. Decode JSON body
  2. Validate shape (validator tags)
  3. Call the ledger
  4. Serialize response
  5. Map ledger errors to status codes (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error kind to HTTP status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/chart"
	"github.com/warp/ledger-engine/ledger"
)

// maxBodyBytes bounds request bodies, chart uploads included.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry   *ledger.Registry
	Engine     *ledger.Engine
	Calculator *ledger.Calculator
	Auditor    *Auditor

	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a handler. auditor may be nil, in which case the audit
// endpoints run sweeps without keeping a schedule.
func NewHandler(registry *ledger.Registry, engine *ledger.Engine, calc *ledger.Calculator, auditor *Auditor, log zerolog.Logger) (*Handler, error) {
	vld, err := newValidator()
	if err != nil {
		return nil, err
	}
	if auditor == nil {
		auditor = NewAuditor(calc, log)
		auditor.Enabled = false
	}
	return &Handler{
		Registry:   registry,
		Engine:     engine,
		Calculator: calc,
		Auditor:    auditor,
		validate:   vld,
		log:        log.With().Str("component", "api").Logger(),
	}, nil
}

// decode reads a JSON body into dst and runs tag validation. It writes the
// error response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeJSON(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be omitted. An
// empty body, chunked or not, leaves dst at its zero value.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeJSON(w, r, dst, true)
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts ordered by code.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Registry.List(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accounts))
}

// GetAccountTree returns the Chart-of-Accounts forest.
func (h *Handler) GetAccountTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Registry.Tree(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to build account tree", err)
		return
	}
	writeJSON(w, http.StatusOK, toTreeDTO(tree))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acc, err := h.Registry.Get(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// CreateAccount creates a folder or leaf account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	spec := ledger.AccountSpec{
		ID:       ledger.AccountID(strings.TrimSpace(req.ID)),
		Code:     req.Code,
		Name:     req.Name,
		Type:     ledger.AccountType(req.Type),
		IsFolder: req.IsFolder,
		Currency: req.Currency,
		IsSystem: req.IsSystem,
		IsActive: req.IsActive,
	}
	if req.ParentID != nil && *req.ParentID != "" {
		parent := ledger.AccountID(*req.ParentID)
		spec.ParentID = &parent
	}

	acc, err := h.Registry.Create(r.Context(), spec)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

// UpdateAccount patches account metadata or moves it in the tree.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req UpdateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	patch := ledger.AccountPatch{
		Code:        req.Code,
		Name:        req.Name,
		ClearParent: req.ClearParent,
		IsFolder:    req.IsFolder,
		IsActive:    req.IsActive,
		Currency:    req.Currency,
	}
	if req.ParentID != nil && !req.ClearParent {
		parent := ledger.AccountID(*req.ParentID)
		patch.ParentID = &parent
	}

	acc, err := h.Registry.Update(r.Context(), id, patch)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// DeleteAccount removes an account that has no postings and no children.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		h.writeLedgerError(w, r, "Failed to delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAncestors returns the account's parent chain, root first.
func (h *Handler) GetAncestors(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	chain, err := h.Registry.Ancestors(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get ancestors", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(chain))
}

// =============================================================================
// LEDGER VIEW HANDLERS
// =============================================================================

// GetLedger returns the account's rows newest first with running balances.
// GET /api/accounts/{id}/ledger?as_of=2025-06-30
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var asOf *time.Time
	if s := r.URL.Query().Get("as_of"); s != "" {
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = &d
	}

	acc, err := h.Registry.Get(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get account", err)
		return
	}
	rows, err := h.Calculator.LedgerFor(ctx, id, asOf)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to load ledger", err)
		return
	}

	resp := LedgerResponse{Account: toAccountDTO(acc), Rows: toLedgerRowDTOs(rows)}
	if asOf != nil {
		resp.AsOf = asOf.Format(dateLayout)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReconcileAccount replays the account's history and compares it with
// the stored balance.
func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	rec, err := h.Calculator.Reconcile(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reconcile account", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// POSTING HANDLERS
// =============================================================================

// CreateTransaction posts a two-leg transfer.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid amount", err)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	p, err := h.Engine.PostTransaction(r.Context(), ledger.TransactionInput{
		FromAccountID: ledger.AccountID(req.FromAccountID),
		ToAccountID:   ledger.AccountID(req.ToAccountID),
		Amount:        amount,
		Currency:      req.Currency,
		Date:          date,
		Description:   req.Description,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to post transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostingDTO(p))
}

// CreateJournalEntry posts a balanced multi-line entry.
func (h *Handler) CreateJournalEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateJournalEntryRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	lines := make([]ledger.Line, len(req.Lines))
	for i, l := range req.Lines {
		debit, err := amountOrZero(l.Debit)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid debit amount", err)
			return
		}
		credit, err := amountOrZero(l.Credit)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid credit amount", err)
			return
		}
		lines[i] = ledger.Line{AccountID: ledger.AccountID(l.AccountID), Debit: debit, Credit: credit}
	}

	p, err := h.Engine.PostJournalEntry(r.Context(), ledger.JournalInput{
		Lines:       lines,
		Currency:    req.Currency,
		Date:        date,
		Description: req.Description,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to post journal entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostingDTO(p))
}

// GetPosting returns a committed posting.
func (h *Handler) GetPosting(w http.ResponseWriter, r *http.Request) {
	id := ledger.PostingID(chi.URLParam(r, "id"))
	p, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get posting", err)
		return
	}
	writeJSON(w, http.StatusOK, toPostingDTO(p))
}

// ReversePosting posts the offsetting entry. The body is optional.
func (h *Handler) ReversePosting(w http.ResponseWriter, r *http.Request) {
	id := ledger.PostingID(chi.URLParam(r, "id"))

	var req ReverseRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	in := ledger.ReverseInput{Description: req.Description}
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		in.Date = &d
	}

	p, err := h.Engine.Reverse(r.Context(), id, in)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reverse posting", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostingDTO(p))
}

// =============================================================================
// OPERATIONS HANDLERS
// =============================================================================

// GetAudit returns the latest audit report, running one if none exists yet.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	report, ok := h.Auditor.Last()
	if !ok {
		report = h.Auditor.RunNow(r.Context())
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// RunAudit runs an audit sweep now.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report := h.Auditor.RunNow(r.Context())
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// LoadChart loads a YAML chart from the body, or the embedded default
// chart when the body is empty. Existing account ids are skipped.
func (h *Handler) LoadChart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Failed to read request body", err)
		return
	}

	var def *chart.Definition
	if len(strings.TrimSpace(string(body))) == 0 {
		def, err = chart.Default()
	} else {
		def, err = chart.Parse(body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid chart definition", err)
		return
	}

	result, err := chart.Load(r.Context(), h.Registry, def)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to load chart", err)
		return
	}

	skipped := make([]string, len(result.Skipped))
	for i, id := range result.Skipped {
		skipped[i] = string(id)
	}
	h.log.Info().
		Int("created", len(result.Created)).
		Int("skipped", len(result.Skipped)).
		Msg("chart loaded")
	writeJSON(w, http.StatusOK, ChartLoadResponse{Created: toAccountDTOs(result.Created), Skipped: skipped})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func amountOrZero(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("amount must be a decimal string")
	}
	return d, nil
}
