/*
auditor.go - Periodic ledger audit

PURPOSE:
  Re-derives every account balance from its postings and checks the
  accounting equation per currency, on a ticker and on demand. Findings
  are logged and kept as the latest report. The auditor never corrects a
  balance; a mismatch means a bug or an out-of-band write to investigate.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Only one sweep runs at a time; RunNow during a sweep waits for it

CONFIGURATION:
  - Interval: How often to sweep (LEDGER_AUDIT_INTERVAL, default 1 hour)
  - Enabled: Whether the ticker runs (disabled when Interval is 0)

USAGE:
  auditor := NewAuditor(calculator, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: GET /api/audit, POST /api/audit/run
  - ledger/balance.go: ReconcileAll and CheckEquation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/ledger"
)

// AuditReport is the result of one sweep.
type AuditReport struct {
	RanAt      time.Time
	Duration   time.Duration
	Accounts   int
	Mismatches []ledger.Reconciliation
	Equations  []ledger.EquationCheck
	Err        error
}

// OK reports whether the sweep completed with no findings.
func (r AuditReport) OK() bool {
	if r.Err != nil || len(r.Mismatches) > 0 {
		return false
	}
	for _, eq := range r.Equations {
		if !eq.OK {
			return false
		}
	}
	return true
}

// Auditor runs ReconcileAll and CheckEquation periodically.
type Auditor struct {
	Calculator *ledger.Calculator
	Interval   time.Duration
	Enabled    bool

	log    zerolog.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu  sync.Mutex
	lastMu sync.RWMutex
	last   *AuditReport
}

// NewAuditor creates an auditor with a one hour interval.
func NewAuditor(calc *ledger.Calculator, log zerolog.Logger) *Auditor {
	return &Auditor{
		Calculator: calc,
		Interval:   time.Hour,
		Enabled:    true,
		log:        log.With().Str("component", "auditor").Logger(),
		now:        time.Now,
	}
}

// Start begins the periodic sweep.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled || a.Interval <= 0 {
		a.log.Info().Msg("audit sweep disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run()

	a.log.Info().Dur("interval", a.Interval).Msg("audit sweep started")
}

// Stop stops the periodic sweep and waits for a running sweep to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.ticker = nil
		a.log.Info().Msg("audit sweep stopped")
	}
}

func (a *Auditor) run() {
	defer a.wg.Done()

	a.RunNow(context.Background())

	for {
		select {
		case <-a.ticker.C:
			a.RunNow(context.Background())
		case <-a.stop:
			return
		}
	}
}

// RunNow performs a sweep immediately and stores it as the latest report.
func (a *Auditor) RunNow(ctx context.Context) AuditReport {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	start := a.now()
	report := AuditReport{RanAt: start.UTC()}

	recs, err := a.Calculator.ReconcileAll(ctx)
	if err != nil {
		report.Err = err
	} else {
		report.Accounts = len(recs)
		for _, r := range recs {
			if r.OK {
				continue
			}
			report.Mismatches = append(report.Mismatches, r)
			a.log.Error().
				Str("account_id", string(r.AccountID)).
				Str("stored", r.Stored.String()).
				Str("computed", r.Computed.String()).
				Msg("stored balance does not match posting history")
		}
	}

	if report.Err == nil {
		eqs, err := a.Calculator.CheckEquation(ctx)
		if err != nil {
			report.Err = err
		}
		report.Equations = eqs
		for _, eq := range eqs {
			if eq.OK {
				continue
			}
			a.log.Error().
				Str("currency", eq.Currency).
				Str("debit_normal", eq.DebitNormal.String()).
				Str("credit_normal", eq.CreditNormal.String()).
				Str("difference", eq.Difference.String()).
				Msg("accounting equation does not hold")
		}
	}

	report.Duration = a.now().Sub(start)
	if report.Err != nil {
		a.log.Error().Err(report.Err).Msg("audit sweep failed")
	} else {
		a.log.Info().
			Int("accounts", report.Accounts).
			Int("mismatches", len(report.Mismatches)).
			Dur("duration", report.Duration).
			Msg("audit sweep completed")
	}

	a.lastMu.Lock()
	a.last = &report
	a.lastMu.Unlock()
	return report
}

// Last returns the most recent report, if any sweep has run.
func (a *Auditor) Last() (AuditReport, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	if a.last == nil {
		return AuditReport{}, false
	}
	return *a.last, true
}
