/*
engine.go - Posting engine

PURPOSE:
  Posts money movements and keeps Account.Balance current. A Transaction
  is the two-leg special case of a JournalEntry; both reduce to balanced
  lines before anything touches the store.

CRITICAL INVARIANTS:
  1. BALANCED: sum(debit) == sum(credit) for every posting
  2. ALL-OR-NOTHING: every line's balance update and the posting write land
     in one store transaction, or none do
  3. ONE RULE: balances move by Impact(), the same function replay uses
  4. APPEND-ONLY: postings are never edited; Reverse posts an offsetting entry

POSTING FLOW:
  1. Validate shape outside any lock (amounts, self-reference, balance)
  2. Lock every touched account (sorted keys, see lock.go)
  3. In one store transaction: re-read accounts, check leaf/active/currency,
     apply Impact per line, compare-and-swap each balance, append the posting
  4. On ConcurrencyConflict: re-run step 3 with a fresh read after a
     jittered backoff, up to MaxAttempts in total

TRANSACTION SHAPE:
  "Money leaves From, lands in To":
    From leg -> credit of Amount
    To leg   -> debit of Amount

EXAMPLE:
  Cash in Bank (asset) -> Fuel (expense), 5000:
    Fuel:         debit,  normal side debit  -> +5000
    Cash in Bank: credit, normal side debit  -> -5000

SEE ALSO:
  - impact.go: The balance rule
  - registry.go: postable() leg eligibility
  - balance.go: Replay with the same rule
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Millisecond
)

// Engine is the LedgerEngine.
type Engine struct {
	store    TxStore
	registry *Registry
	locker   Locker
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	// MaxAttempts bounds internal retries on ConcurrencyConflict.
	MaxAttempts int
	// RetryDelay is the first backoff interval between retries.
	RetryDelay time.Duration
}

func NewEngine(store TxStore, registry *Registry) *Engine {
	return &Engine{
		store:       store,
		registry:    registry,
		locker:      NewLocalLocker(),
		log:         zerolog.Nop(),
		now:         time.Now,
		newID:       uuid.NewString,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

// WithLocker replaces the in-process locker (e.g. with a Redis locker).
func (e *Engine) WithLocker(l Locker) *Engine {
	if l != nil {
		e.locker = l
	}
	return e
}

func (e *Engine) WithLogger(l zerolog.Logger) *Engine {
	e.log = l.With().Str("component", "ledger_engine").Logger()
	return e
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// =============================================================================
// OPERATIONS
// =============================================================================

// PostTransaction moves amount from one account to another.
func (e *Engine) PostTransaction(ctx context.Context, in TransactionInput) (Posting, error) {
	if in.FromAccountID == "" {
		return Posting{}, invalid("from_account_id", CodeRequired, "from account is required")
	}
	if in.ToAccountID == "" {
		return Posting{}, invalid("to_account_id", CodeRequired, "to account is required")
	}
	if in.FromAccountID == in.ToAccountID {
		return Posting{}, invalid("to_account_id", CodeSelfReference, "from and to accounts must differ (both %q)", in.FromAccountID)
	}
	if !in.Amount.IsPositive() {
		return Posting{}, invalid("amount", CodeNonPositive, "amount must be greater than zero, got %s", in.Amount)
	}
	currency, err := normalizeCurrency(in.Currency, false)
	if err != nil {
		return Posting{}, err
	}
	if in.Date.IsZero() {
		return Posting{}, invalid("date", CodeRequired, "date is required")
	}

	draft := Posting{
		Kind:          KindTransaction,
		Date:          in.Date,
		Description:   strings.TrimSpace(in.Description),
		Currency:      currency,
		FromAccountID: in.FromAccountID,
		ToAccountID:   in.ToAccountID,
		Amount:        in.Amount,
		Lines: []Line{
			{AccountID: in.FromAccountID, Debit: decimal.Zero, Credit: in.Amount},
			{AccountID: in.ToAccountID, Debit: in.Amount, Credit: decimal.Zero},
		},
	}
	return e.commit(ctx, draft, nil, nil)
}

// PostJournalEntry posts N balanced lines.
func (e *Engine) PostJournalEntry(ctx context.Context, in JournalInput) (Posting, error) {
	if len(in.Lines) < 2 {
		return Posting{}, invalid("lines", CodeRequired, "a journal entry needs at least two lines, got %d", len(in.Lines))
	}
	if in.Date.IsZero() {
		return Posting{}, invalid("date", CodeRequired, "date is required")
	}

	debit, credit := decimal.Zero, decimal.Zero
	lines := make([]Line, len(in.Lines))
	for i, l := range in.Lines {
		if l.AccountID == "" {
			return Posting{}, invalid("lines", CodeRequired, "line %d: account is required", i+1)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return Posting{}, invalid("lines", CodeNonPositive, "line %d: debit and credit must not be negative", i+1)
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return Posting{}, invalid("lines", CodeInvalid, "line %d: exactly one of debit or credit must be positive", i+1)
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
		lines[i] = l
	}
	if !debit.Equal(credit) {
		return Posting{}, &ImbalanceError{Debit: debit, Credit: credit}
	}

	var currency string
	if strings.TrimSpace(in.Currency) != "" {
		c, err := normalizeCurrency(in.Currency, false)
		if err != nil {
			return Posting{}, err
		}
		currency = c
	}

	draft := Posting{
		Kind:        KindJournal,
		Date:        in.Date,
		Description: strings.TrimSpace(in.Description),
		Currency:    currency,
		Lines:       lines,
	}
	return e.commit(ctx, draft, nil, nil)
}

// Reverse posts an entry that offsets id by swapping every line's debit
// and credit. The original posting is left untouched.
func (e *Engine) Reverse(ctx context.Context, id PostingID, in ReverseInput) (Posting, error) {
	original, err := e.store.GetPosting(ctx, id)
	if err != nil {
		return Posting{}, err
	}
	if original.Kind == KindReversal {
		return Posting{}, invalid("posting_id", CodeInvalid, "posting %q is itself a reversal; post a new entry instead", id)
	}

	date := original.Date
	if in.Date != nil && !in.Date.IsZero() {
		date = *in.Date
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = "Reversal of " + string(original.ID)
	}

	lines := make([]Line, len(original.Lines))
	for i, l := range original.Lines {
		lines[i] = l.Swapped()
	}
	draft := Posting{
		Kind:          KindReversal,
		Date:          date,
		Description:   description,
		Currency:      original.Currency,
		FromAccountID: original.ToAccountID,
		ToAccountID:   original.FromAccountID,
		Amount:        original.Amount,
		Lines:         lines,
		ReversesID:    original.ID,
	}

	notReversed := func(s Store) error {
		existing, found, err := s.FindReversal(ctx, id)
		if err != nil {
			return err
		}
		if found {
			return invalid("posting_id", CodeAlreadyReversed, "posting %q was already reversed by %q", id, existing)
		}
		return nil
	}
	return e.commit(ctx, draft, []string{"posting:" + string(id)}, notReversed)
}

func (e *Engine) Get(ctx context.Context, id PostingID) (Posting, error) {
	return e.store.GetPosting(ctx, id)
}

// =============================================================================
// COMMIT
// =============================================================================

func (e *Engine) commit(ctx context.Context, draft Posting, extraKeys []string, precheck func(Store) error) (Posting, error) {
	draft.ID = PostingID(e.newID())
	draft.Status = StatusPosted

	keys := append(AccountLockKeys(draft.AccountIDs()), extraKeys...)
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var committed Posting
	err := e.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		attempt := 0
		op := func() error {
			attempt++
			p, err := e.apply(ctx, draft, precheck)
			if err != nil {
				if errors.Is(err, ErrConcurrencyConflict) {
					return err
				}
				return backoff.Permanent(err)
			}
			committed = p
			return nil
		}
		notify := func(err error, next time.Duration) {
			e.log.Warn().Err(err).
				Str("posting_id", string(draft.ID)).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("balance changed underneath posting, retrying with fresh read")
		}

		err := backoff.RetryNotify(op, e.retryPolicy(ctx, attempts), notify)
		var cc *ConcurrencyConflictError
		if errors.As(err, &cc) {
			return &ConcurrencyConflictError{AccountID: cc.AccountID, Attempts: attempt}
		}
		return err
	})
	if err != nil {
		return Posting{}, err
	}

	e.log.Debug().
		Str("posting_id", string(committed.ID)).
		Str("kind", string(committed.Kind)).
		Int64("sequence", committed.Sequence).
		Str("currency", committed.Currency).
		Int("lines", len(committed.Lines)).
		Msg("posting committed")
	return committed, nil
}

// apply performs one read-compute-write attempt inside a store transaction.
func (e *Engine) apply(ctx context.Context, draft Posting, precheck func(Store) error) (Posting, error) {
	var committed Posting
	err := e.store.WithTx(ctx, func(s Store) error {
		if precheck != nil {
			if err := precheck(s); err != nil {
				return err
			}
		}

		currency := draft.Currency
		ids := draft.AccountIDs()
		accounts := make(map[AccountID]Account, len(ids))
		for _, id := range ids {
			acc, err := e.registry.postable(ctx, s, id, currency)
			if err != nil {
				return err
			}
			if currency == "" {
				currency = acc.Currency
			}
			accounts[id] = acc
		}

		deltas := make(map[AccountID]decimal.Decimal, len(ids))
		for _, l := range draft.Lines {
			acc := accounts[l.AccountID]
			deltas[l.AccountID] = deltas[l.AccountID].Add(LineImpact(acc.Type, l))
		}

		now := e.now().UTC()
		for _, id := range ids {
			acc := accounts[id]
			acc.Balance = acc.Balance.Add(deltas[id])
			acc.UpdatedAt = now
			if _, err := s.UpdateAccount(ctx, acc); err != nil {
				return err
			}
		}

		p := draft
		p.Currency = currency
		p.CreatedAt = now
		stored, err := s.AppendPosting(ctx, p)
		if err != nil {
			return err
		}
		committed = stored
		return nil
	})
	return committed, err
}

// retryPolicy allows attempts-1 retries after the first try, starting at
// RetryDelay with jitter, and stops early when ctx is done.
func (e *Engine) retryPolicy(ctx context.Context, attempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.RetryDelay
	b.MaxInterval = e.RetryDelay * time.Duration(attempts)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
