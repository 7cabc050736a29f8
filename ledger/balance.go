/*
balance.go - Ledger view and reconciliation

PURPOSE:
  Read-only query layer. Replays an account's postings oldest-first with
  Impact() to produce running balances, and compares the replay with the
  materialized Account.Balance. It never mutates anything: a mismatch is
  reported, not corrected.

ORDERING:
  Replay order is (Date ascending, Sequence ascending). Date alone is not
  unique; Sequence is assigned at posting time so replay is deterministic.
  LedgerFor returns rows newest-first for display.

SNAPSHOTS:
  An account and its postings are always read in one store transaction.
  The engine writes balance and posting in one transaction too, so a
  reconciliation never sees one without the other.

SEE ALSO:
  - impact.go: The shared balance rule
  - api/auditor.go: Periodic ReconcileAll + CheckEquation sweep
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultReconcileConcurrency bounds ReconcileAll fan-out.
const DefaultReconcileConcurrency = 8

// Calculator is the BalanceCalculator.
type Calculator struct {
	store       TxStore
	Concurrency int
}

func NewCalculator(store TxStore) *Calculator {
	return &Calculator{store: store, Concurrency: DefaultReconcileConcurrency}
}

// LedgerFor returns one row per leg on the account, newest first. When
// asOf is set, postings dated after it are excluded.
func (c *Calculator) LedgerFor(ctx context.Context, id AccountID, asOf *time.Time) ([]LedgerRow, error) {
	acc, postings, err := c.history(ctx, id)
	if err != nil {
		return nil, err
	}

	rows := replay(acc, postings, asOf)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Reconcile replays the account's history from zero and compares the
// result with the stored balance.
func (c *Calculator) Reconcile(ctx context.Context, id AccountID) (Reconciliation, error) {
	acc, postings, err := c.history(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	return reconcile(acc, postings), nil
}

// ReconcileAll reconciles every account, ordered by account id. Each
// account is re-read together with its postings, so a posting committed
// during the sweep is either fully seen or not at all.
func (c *Calculator) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Reconciliation, len(accounts))
	g, ctx := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, listed := range accounts {
		g.Go(func() error {
			acc, postings, err := c.history(ctx, listed.ID)
			if err != nil {
				return err
			}
			results[i] = reconcile(acc, postings)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].AccountID < results[j].AccountID })
	return results, nil
}

// history reads the account and its postings in one store transaction.
func (c *Calculator) history(ctx context.Context, id AccountID) (Account, []Posting, error) {
	var (
		acc      Account
		postings []Posting
	)
	err := c.store.WithTx(ctx, func(s Store) error {
		var err error
		if acc, err = s.GetAccount(ctx, id); err != nil {
			return err
		}
		postings, err = s.PostingsForAccount(ctx, id)
		return err
	})
	return acc, postings, err
}

// CheckEquation verifies, per currency, that debit-normal balances
// (assets, expenses) equal credit-normal balances (liabilities, equity, income).
func (c *Calculator) CheckEquation(ctx context.Context) ([]EquationCheck, error) {
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	byCurrency := make(map[string]*EquationCheck)
	for _, a := range accounts {
		if a.IsFolder {
			continue
		}
		chk, ok := byCurrency[a.Currency]
		if !ok {
			chk = &EquationCheck{Currency: a.Currency, DebitNormal: decimal.Zero, CreditNormal: decimal.Zero}
			byCurrency[a.Currency] = chk
		}
		if NormalSide(a.Type) == Debit {
			chk.DebitNormal = chk.DebitNormal.Add(a.Balance)
		} else {
			chk.CreditNormal = chk.CreditNormal.Add(a.Balance)
		}
	}

	checks := make([]EquationCheck, 0, len(byCurrency))
	for _, chk := range byCurrency {
		chk.Difference = chk.DebitNormal.Sub(chk.CreditNormal)
		chk.OK = chk.Difference.IsZero()
		checks = append(checks, *chk)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Currency < checks[j].Currency })
	return checks, nil
}

// =============================================================================
// REPLAY
// =============================================================================

// replay computes rows oldest-first, one per line on the account.
func replay(acc Account, postings []Posting, asOf *time.Time) []LedgerRow {
	ordered := make([]Posting, len(postings))
	copy(ordered, postings)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	running := decimal.Zero
	var rows []LedgerRow
	for _, p := range ordered {
		if asOf != nil && p.Date.After(*asOf) {
			break
		}
		for _, l := range p.Lines {
			if l.AccountID != acc.ID {
				continue
			}
			impact := LineImpact(acc.Type, l)
			running = running.Add(impact)
			rows = append(rows, LedgerRow{
				PostingID:      p.ID,
				Sequence:       p.Sequence,
				Kind:           p.Kind,
				Date:           p.Date,
				Description:    p.Description,
				Debit:          l.Debit,
				Credit:         l.Credit,
				Impact:         impact,
				RunningBalance: running,
			})
		}
	}
	return rows
}

func reconcile(acc Account, postings []Posting) Reconciliation {
	computed := decimal.Zero
	for _, row := range replay(acc, postings, nil) {
		computed = computed.Add(row.Impact)
	}
	return Reconciliation{
		AccountID: acc.ID,
		OK:        computed.Equal(acc.Balance),
		Computed:  computed,
		Stored:    acc.Balance,
	}
}
