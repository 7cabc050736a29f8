package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func newDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "ledger.db")
}

// postFuel books a bank-to-fuel payment directly through the store.
func postFuel(t *testing.T, dbPath string, amount int64) ledger.PostingID {
	t.Helper()
	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	registry := ledger.NewRegistry(s)
	p, err := ledger.NewEngine(s, registry).PostTransaction(context.Background(), ledger.TransactionInput{
		FromAccountID: "coa-1120",
		ToAccountID:   "coa-5110",
		Amount:        decimal.NewFromInt(amount),
		Currency:      "PHP",
		Date:          time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		Description:   "Diesel",
	})
	require.NoError(t, err)
	return p.ID
}

func TestSeed_IsIdempotent(t *testing.T) {
	db := newDB(t)

	out, err := run(t, "seed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "0 already present")

	out, err = run(t, "seed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "0 accounts created")
}

func TestSeed_FromFile(t *testing.T) {
	db := newDB(t)
	file := filepath.Join(t.TempDir(), "chart.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
currency: PHP
accounts:
  - id: cash
    code: "1010"
    name: Petty Cash
    type: asset
`), 0o600))

	out, err := run(t, "seed", "--db", db, "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "1 accounts created")

	out, err = run(t, "tree", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Petty Cash")
	assert.Contains(t, out, "0.00 PHP")
}

func TestTreeLedgerReconcileAudit(t *testing.T) {
	// GIVEN: The default chart and one 5000 fuel payment
	db := newDB(t)
	_, err := run(t, "seed", "--db", db)
	require.NoError(t, err)
	postFuel(t, db, 5000)

	// WHEN/THEN: Each command reflects the posting
	out, err := run(t, "tree", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Expenses/")
	assert.Contains(t, out, "-5000.00 PHP")
	assert.Contains(t, out, "5000.00 PHP")

	out, err = run(t, "ledger", "coa-1120", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Cash in Bank")
	assert.Contains(t, out, "2025-05-02")
	assert.Contains(t, out, "-5000.00")

	out, err = run(t, "ledger", "coa-1120", "--db", db, "--as-of", "2025-05-01")
	require.NoError(t, err)
	assert.Contains(t, out, "(no postings)")

	_, err = run(t, "ledger", "coa-1120", "--db", db, "--as-of", "May 1")
	assert.Error(t, err)

	out, err = run(t, "reconcile", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "0 mismatches")

	out, err = run(t, "reconcile", "coa-5110", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "coa-5110")

	out, err = run(t, "audit", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "PHP")
	assert.NotContains(t, out, "FAIL")
}

func TestReverse_OffsetsPostingOnce(t *testing.T) {
	// GIVEN: A 5000 fuel payment
	db := newDB(t)
	_, err := run(t, "seed", "--db", db)
	require.NoError(t, err)
	id := postFuel(t, db, 5000)

	out, err := run(t, "ledger", "coa-1120", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, string(id))

	// WHEN: Reversing it from the CLI
	out, err = run(t, "reverse", string(id), "--db", db,
		"--date", "2025-05-03", "--description", "Duplicate receipt")
	require.NoError(t, err)
	assert.Contains(t, out, "posted on 2025-05-03 for "+string(id))

	// THEN: Both legs are back to zero and history shows both entries
	out, err = run(t, "ledger", "coa-5110", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Duplicate receipt")
	assert.Contains(t, out, "reversal")

	out, err = run(t, "reconcile", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "0 mismatches")

	out, err = run(t, "tree", "--db", db)
	require.NoError(t, err)
	assert.NotContains(t, out, "5000.00")

	// AND: A second reversal is refused
	_, err = run(t, "reverse", string(id), "--db", db)
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ledger.CodeAlreadyReversed, ve.Code)
}

func TestReverse_BadInput(t *testing.T) {
	db := newDB(t)
	_, err := run(t, "seed", "--db", db)
	require.NoError(t, err)
	id := postFuel(t, db, 100)

	_, err = run(t, "reverse", string(id), "--db", db, "--date", "May 3")
	assert.Error(t, err)

	_, err = run(t, "reverse", "no-such-posting", "--db", db)
	assert.True(t, ledger.IsNotFound(err))

	_, err = run(t, "reverse", "--db", db)
	assert.Error(t, err)
}

func TestLedger_UnknownAccount(t *testing.T) {
	db := newDB(t)
	_, err := run(t, "ledger", "missing", "--db", db)
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))
}
