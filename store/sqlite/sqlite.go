/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the Chart of Accounts and the append-only posting history.
  Amounts and balances are stored as decimal TEXT so no value ever passes
  through binary floating point.

KEY TABLES:
  accounts:       Chart-of-Accounts nodes with materialized balance + version
  postings:       Immutable posting headers; seq is the insertion sequence
  posting_lines:  One row per leg (debit or credit against one account)

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on postings or posting_lines
  - Corrections via reversal postings only (postings.reverses_id is UNIQUE,
    so a posting can be reversed at most once)

COMPARE-AND-SWAP:
  UpdateAccount runs
    UPDATE accounts SET ..., version = version + 1 WHERE id = ? AND version = ?
  Zero rows affected on an existing account is a ConcurrencyConflictError.
  This still protects balances when several processes share the database file.

CONCURRENCY:
  Uses sync.RWMutex inside the process; WithTx holds the write lock and
  routes every read and write through the same *sql.Tx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  registry := ledger.NewRegistry(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		is_folder BOOLEAN NOT NULL DEFAULT FALSE,
		parent_id TEXT REFERENCES accounts(id),
		currency TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		is_system BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_parent
		ON accounts(parent_id);

	-- Postings (append-only)
	CREATE TABLE IF NOT EXISTS postings (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		from_account_id TEXT,
		to_account_id TEXT,
		amount TEXT,
		reverses_id TEXT UNIQUE REFERENCES postings(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_postings_date_seq
		ON postings(date, seq);

	CREATE TABLE IF NOT EXISTS posting_lines (
		posting_seq INTEGER NOT NULL REFERENCES postings(seq),
		line_no INTEGER NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		PRIMARY KEY (posting_seq, line_no)
	);

	-- Hot path: replay of one account's history
	CREATE INDEX IF NOT EXISTS idx_posting_lines_account
		ON posting_lines(account_id, posting_seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, code, name, type, is_folder, parent_id, currency, balance,
	is_system, is_active, version, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db)
}

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAccount(ctx, s.db, a)
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAccount(ctx, s.db, a)
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q querier, id ledger.AccountID) (ledger.Account, error) {
	row := q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.AccountNotFound(id)
	}
	return acc, err
}

func listAccounts(ctx context.Context, q querier) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func insertAccount(ctx context.Context, q querier, a ledger.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		a.ID, a.Code, a.Name, a.Type, a.IsFolder, nullAccountID(a.ParentID), a.Currency,
		decimalOrZero(a.Balance).String(), a.IsSystem, a.IsActive,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.DuplicateAccount(a.ID)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func updateAccount(ctx context.Context, q querier, a ledger.Account) (ledger.Account, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET
			code = ?, name = ?, is_folder = ?, parent_id = ?, currency = ?, balance = ?,
			is_active = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		a.Code, a.Name, a.IsFolder, nullAccountID(a.ParentID), a.Currency,
		decimalOrZero(a.Balance).String(), a.IsActive, formatTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Account{}, err
	}
	if n == 0 {
		if _, err := getAccount(ctx, q, a.ID); err != nil {
			return ledger.Account{}, err
		}
		return ledger.Account{}, &ledger.ConcurrencyConflictError{AccountID: a.ID}
	}
	return getAccount(ctx, q, a.ID)
}

func deleteAccount(ctx context.Context, q querier, id ledger.AccountID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.AccountNotFound(id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		acc       ledger.Account
		parentID  sql.NullString
		balance   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&acc.ID, &acc.Code, &acc.Name, &acc.Type, &acc.IsFolder, &parentID,
		&acc.Currency, &balance, &acc.IsSystem, &acc.IsActive, &acc.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, err
		}
		return acc, fmt.Errorf("failed to scan account: %w", err)
	}
	if parentID.Valid {
		p := ledger.AccountID(parentID.String)
		acc.ParentID = &p
	}
	if acc.Balance, err = decimal.NewFromString(balance); err != nil {
		return acc, fmt.Errorf("account %s: corrupt balance %q: %w", acc.ID, balance, err)
	}
	if acc.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return acc, fmt.Errorf("account %s: %w", acc.ID, err)
	}
	if acc.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return acc, fmt.Errorf("account %s: %w", acc.ID, err)
	}
	return acc, nil
}

// =============================================================================
// POSTINGS (append-only)
// =============================================================================

const postingColumns = `seq, id, kind, status, date, description, currency,
	from_account_id, to_account_id, amount, reverses_id, created_at`

func (s *Store) AppendPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Posting{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stored, err := appendPosting(ctx, sqlTx, p)
	if err != nil {
		return ledger.Posting{}, err
	}
	return stored, sqlTx.Commit()
}

func (s *Store) GetPosting(ctx context.Context, id ledger.PostingID) (ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPosting(ctx, s.db, id)
}

func (s *Store) PostingsForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return postingsForAccount(ctx, s.db, id)
}

func (s *Store) ListPostings(ctx context.Context) ([]ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPostings(ctx, s.db, "SELECT "+postingColumns+" FROM postings ORDER BY date ASC, seq ASC")
}

func (s *Store) HasPostings(ctx context.Context, id ledger.AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasPostings(ctx, s.db, id)
}

func (s *Store) FindReversal(ctx context.Context, id ledger.PostingID) (ledger.PostingID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findReversal(ctx, s.db, id)
}

// appendPosting writes header and lines. Callers provide the transaction.
func appendPosting(ctx context.Context, q querier, p ledger.Posting) (ledger.Posting, error) {
	var amount sql.NullString
	if p.Kind != ledger.KindJournal {
		amount = sql.NullString{String: decimalOrZero(p.Amount).String(), Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO postings (id, kind, status, date, description, currency,
			from_account_id, to_account_id, amount, reverses_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Kind, p.Status, formatTime(p.Date), p.Description, p.Currency,
		nullString(string(p.FromAccountID)), nullString(string(p.ToAccountID)), amount,
		nullString(string(p.ReversesID)), formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "reverses_id") {
			return ledger.Posting{}, &ledger.ValidationError{
				Field: "posting_id", Code: ledger.CodeAlreadyReversed,
				Message: fmt.Sprintf("posting %q was already reversed", p.ReversesID),
			}
		}
		return ledger.Posting{}, fmt.Errorf("failed to append posting: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return ledger.Posting{}, err
	}

	for i, l := range p.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO posting_lines (posting_seq, line_no, account_id, debit, credit)
			VALUES (?, ?, ?, ?, ?)`,
			seq, i, l.AccountID, decimalOrZero(l.Debit).String(), decimalOrZero(l.Credit).String(),
		)
		if err != nil {
			return ledger.Posting{}, fmt.Errorf("failed to append posting line %d: %w", i, err)
		}
	}

	p.Sequence = seq
	return p, nil
}

func getPosting(ctx context.Context, q querier, id ledger.PostingID) (ledger.Posting, error) {
	postings, err := queryPostings(ctx, q, "SELECT "+postingColumns+" FROM postings WHERE id = ?", id)
	if err != nil {
		return ledger.Posting{}, err
	}
	if len(postings) == 0 {
		return ledger.Posting{}, ledger.PostingNotFound(id)
	}
	return postings[0], nil
}

func postingsForAccount(ctx context.Context, q querier, id ledger.AccountID) ([]ledger.Posting, error) {
	return queryPostings(ctx, q, `
		SELECT `+postingColumns+` FROM postings
		WHERE seq IN (SELECT posting_seq FROM posting_lines WHERE account_id = ?)
		ORDER BY date ASC, seq ASC`, id)
}

func hasPostings(ctx context.Context, q querier, id ledger.AccountID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM posting_lines WHERE account_id = ?", id,
	).Scan(&count)
	return count > 0, err
}

func findReversal(ctx context.Context, q querier, id ledger.PostingID) (ledger.PostingID, bool, error) {
	var rev string
	err := q.QueryRowContext(ctx, "SELECT id FROM postings WHERE reverses_id = ?", id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ledger.PostingID(rev), true, nil
}

func queryPostings(ctx context.Context, q querier, query string, args ...any) ([]ledger.Posting, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}

	var postings []ledger.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Lines are loaded after the header cursor is closed: with a single
	// connection a second open cursor would block.
	for i := range postings {
		lines, err := loadLines(ctx, q, postings[i].Sequence)
		if err != nil {
			return nil, err
		}
		postings[i].Lines = lines
	}
	return postings, nil
}

func scanPosting(rows *sql.Rows) (ledger.Posting, error) {
	var (
		p          ledger.Posting
		date       string
		fromID     sql.NullString
		toID       sql.NullString
		amount     sql.NullString
		reversesID sql.NullString
		createdAt  string
	)
	err := rows.Scan(&p.Sequence, &p.ID, &p.Kind, &p.Status, &date, &p.Description, &p.Currency,
		&fromID, &toID, &amount, &reversesID, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan posting: %w", err)
	}
	if p.Date, err = parseTime("date", date); err != nil {
		return p, fmt.Errorf("posting %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return p, fmt.Errorf("posting %s: %w", p.ID, err)
	}
	p.FromAccountID = ledger.AccountID(fromID.String)
	p.ToAccountID = ledger.AccountID(toID.String)
	p.ReversesID = ledger.PostingID(reversesID.String)
	if amount.Valid {
		if p.Amount, err = decimal.NewFromString(amount.String); err != nil {
			return p, fmt.Errorf("posting %s: corrupt amount %q: %w", p.ID, amount.String, err)
		}
	}
	return p, nil
}

func loadLines(ctx context.Context, q querier, seq int64) ([]ledger.Line, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT account_id, debit, credit FROM posting_lines
		WHERE posting_seq = ? ORDER BY line_no ASC`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to query posting lines: %w", err)
	}
	defer rows.Close()

	var lines []ledger.Line
	for rows.Next() {
		var (
			l             ledger.Line
			debit, credit string
		)
		if err := rows.Scan(&l.AccountID, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan posting line: %w", err)
		}
		if l.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if l.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx)
}

func (ts *txStore) InsertAccount(ctx context.Context, a ledger.Account) error {
	return insertAccount(ctx, ts.tx, a)
}

func (ts *txStore) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	return updateAccount(ctx, ts.tx, a)
}

func (ts *txStore) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return deleteAccount(ctx, ts.tx, id)
}

func (ts *txStore) AppendPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	return appendPosting(ctx, ts.tx, p)
}

func (ts *txStore) GetPosting(ctx context.Context, id ledger.PostingID) (ledger.Posting, error) {
	return getPosting(ctx, ts.tx, id)
}

func (ts *txStore) PostingsForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Posting, error) {
	return postingsForAccount(ctx, ts.tx, id)
}

func (ts *txStore) ListPostings(ctx context.Context) ([]ledger.Posting, error) {
	return queryPostings(ctx, ts.tx, "SELECT "+postingColumns+" FROM postings ORDER BY date ASC, seq ASC")
}

func (ts *txStore) HasPostings(ctx context.Context, id ledger.AccountID) (bool, error) {
	return hasPostings(ctx, ts.tx, id)
}

func (ts *txStore) FindReversal(ctx context.Context, id ledger.PostingID) (ledger.PostingID, bool, error) {
	return findReversal(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

// Dates are stored as RFC3339Nano in UTC so lexical order is chronological.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// parseTime reads a stored timestamp; column names the field in the error.
func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt %s %q: %w", column, s, err)
	}
	return t, nil
}

func decimalOrZero(d decimal.Decimal) decimal.Decimal {
	return d.Add(decimal.Zero)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullAccountID(id *ledger.AccountID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
