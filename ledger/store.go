/*
store.go - Persistence interface for accounts and postings

PURPOSE:
  Defines the boundary between the ledger core and the database. The store
  is constructed once per process and passed explicitly to the Registry,
  Engine and Calculator; nothing in this package holds ambient state.

KEY INTERFACES:
  Store:   Account get/put/delete and append-only posting persistence
  TxStore: Store plus WithTx for all-or-nothing multi-write units

APPEND-ONLY CONTRACT:
  Postings are written once with AppendPosting and never updated or
  deleted. Corrections are reversal postings.

COMPARE-AND-SWAP:
  UpdateAccount writes only if the stored Version equals the Version of the
  account passed in, then increments it. A stale version returns a
  ConcurrencyConflictError. This is what guards the
  "read balance, compute, write" sequence against lost updates.

ORDERING:
  AppendPosting assigns Sequence, a strictly increasing insertion counter.
  PostingsForAccount returns postings by (Date, Sequence) ascending, which
  makes replay deterministic even when many postings share a date.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing and development
  - store/sqlite/sqlite.go: SQLite for production

SEE ALSO:
  - engine.go: Uses WithTx + UpdateAccount + AppendPosting
  - lock.go: Per-account serialization in front of the store
*/
package ledger

import "context"

// Store handles persistence of accounts and postings.
type Store interface {
	// GetAccount returns the account or a NotFoundError.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// ListAccounts returns every account in unspecified order.
	ListAccounts(ctx context.Context) ([]Account, error)

	// InsertAccount stores a new account with Version 1.
	// Fails with a ValidationError (CodeDuplicate) if the id exists.
	InsertAccount(ctx context.Context, a Account) error

	// UpdateAccount replaces the stored account if its Version matches a.Version.
	// Returns the stored account with the incremented Version.
	UpdateAccount(ctx context.Context, a Account) (Account, error)

	// DeleteAccount removes the account or returns a NotFoundError.
	DeleteAccount(ctx context.Context, id AccountID) error

	// AppendPosting persists a posting and returns it with Sequence assigned.
	// This is the ONLY write operation for postings.
	AppendPosting(ctx context.Context, p Posting) (Posting, error)

	// GetPosting returns the posting or a NotFoundError.
	GetPosting(ctx context.Context, id PostingID) (Posting, error)

	// PostingsForAccount returns postings with a line on the account, by (Date, Sequence).
	PostingsForAccount(ctx context.Context, id AccountID) ([]Posting, error)

	// ListPostings returns every posting by (Date, Sequence).
	ListPostings(ctx context.Context) ([]Posting, error)

	// HasPostings reports whether any posting references the account.
	HasPostings(ctx context.Context, id AccountID) (bool, error)

	// FindReversal returns the id of the posting that reverses id, if any.
	FindReversal(ctx context.Context, id PostingID) (PostingID, bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
