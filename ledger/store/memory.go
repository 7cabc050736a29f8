// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[ledger.AccountID]ledger.Account
	postings  []ledger.Posting // kept in (Date, Sequence) order
	byID      map[ledger.PostingID]int
	reversals map[ledger.PostingID]ledger.PostingID
	seq       int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[ledger.AccountID]ledger.Account),
		byID:      make(map[ledger.PostingID]int),
		reversals: make(map[ledger.PostingID]ledger.PostingID),
	}
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(), nil
}

func (m *Memory) InsertAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAccountLocked(a)
}

func (m *Memory) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccountLocked(a)
}

func (m *Memory) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAccountLocked(id)
}

func (m *Memory) AppendPosting(_ context.Context, p ledger.Posting) (ledger.Posting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPostingLocked(p), nil
}

func (m *Memory) GetPosting(_ context.Context, id ledger.PostingID) (ledger.Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPostingLocked(id)
}

func (m *Memory) PostingsForAccount(_ context.Context, id ledger.AccountID) ([]ledger.Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postingsForAccountLocked(id), nil
}

func (m *Memory) ListPostings(_ context.Context) ([]ledger.Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clonePostings(m.postings), nil
}

func (m *Memory) HasPostings(_ context.Context, id ledger.AccountID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPostingsLocked(id), nil
}

func (m *Memory) FindReversal(_ context.Context, id ledger.PostingID) (ledger.PostingID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rev, ok := m.reversals[id]
	return rev, ok, nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds mu
// =============================================================================

func (m *Memory) getAccountLocked(id ledger.AccountID) (ledger.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.AccountNotFound(id)
	}
	return cloneAccount(a), nil
}

func (m *Memory) listAccountsLocked() []ledger.Account {
	result := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, cloneAccount(a))
	}
	return result
}

func (m *Memory) insertAccountLocked(a ledger.Account) error {
	if _, exists := m.accounts[a.ID]; exists {
		return ledger.DuplicateAccount(a.ID)
	}
	a.Version = 1
	m.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (m *Memory) updateAccountLocked(a ledger.Account) (ledger.Account, error) {
	current, ok := m.accounts[a.ID]
	if !ok {
		return ledger.Account{}, ledger.AccountNotFound(a.ID)
	}
	if current.Version != a.Version {
		return ledger.Account{}, &ledger.ConcurrencyConflictError{AccountID: a.ID}
	}
	a.Version++
	m.accounts[a.ID] = cloneAccount(a)
	return cloneAccount(a), nil
}

func (m *Memory) deleteAccountLocked(id ledger.AccountID) error {
	if _, ok := m.accounts[id]; !ok {
		return ledger.AccountNotFound(id)
	}
	delete(m.accounts, id)
	return nil
}

func (m *Memory) appendPostingLocked(p ledger.Posting) ledger.Posting {
	m.seq++
	p.Sequence = m.seq
	p = clonePosting(p)

	// Binary search for insertion point; equal dates keep insertion order.
	i := sort.Search(len(m.postings), func(i int) bool {
		return m.postings[i].Date.After(p.Date)
	})
	m.postings = append(m.postings, ledger.Posting{})
	copy(m.postings[i+1:], m.postings[i:])
	m.postings[i] = p
	m.reindex()

	if p.ReversesID != "" {
		m.reversals[p.ReversesID] = p.ID
	}
	return clonePosting(p)
}

func (m *Memory) reindex() {
	for i, p := range m.postings {
		m.byID[p.ID] = i
	}
}

func (m *Memory) getPostingLocked(id ledger.PostingID) (ledger.Posting, error) {
	i, ok := m.byID[id]
	if !ok {
		return ledger.Posting{}, ledger.PostingNotFound(id)
	}
	return clonePosting(m.postings[i]), nil
}

func (m *Memory) postingsForAccountLocked(id ledger.AccountID) []ledger.Posting {
	var result []ledger.Posting
	for _, p := range m.postings {
		if p.Touches(id) {
			result = append(result, clonePosting(p))
		}
	}
	return result
}

func (m *Memory) hasPostingsLocked(id ledger.AccountID) bool {
	for _, p := range m.postings {
		if p.Touches(id) {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts  map[ledger.AccountID]ledger.Account
	postings  []ledger.Posting
	reversals map[ledger.PostingID]ledger.PostingID
	seq       int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	accounts := make(map[ledger.AccountID]ledger.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	reversals := make(map[ledger.PostingID]ledger.PostingID, len(tm.reversals))
	for k, v := range tm.reversals {
		reversals[k] = v
	}
	return memorySnapshot{
		accounts:  accounts,
		postings:  append([]ledger.Posting{}, tm.postings...),
		reversals: reversals,
		seq:       tm.seq,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.postings = s.postings
	tm.reversals = s.reversals
	tm.seq = s.seq
	tm.byID = make(map[ledger.PostingID]int, len(s.postings))
	tm.reindex()
}

// txMemoryView operates on the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txMemoryView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return tv.parent.listAccountsLocked(), nil
}

func (tv *txMemoryView) InsertAccount(_ context.Context, a ledger.Account) error {
	return tv.parent.insertAccountLocked(a)
}

func (tv *txMemoryView) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	return tv.parent.updateAccountLocked(a)
}

func (tv *txMemoryView) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	return tv.parent.deleteAccountLocked(id)
}

func (tv *txMemoryView) AppendPosting(_ context.Context, p ledger.Posting) (ledger.Posting, error) {
	return tv.parent.appendPostingLocked(p), nil
}

func (tv *txMemoryView) GetPosting(_ context.Context, id ledger.PostingID) (ledger.Posting, error) {
	return tv.parent.getPostingLocked(id)
}

func (tv *txMemoryView) PostingsForAccount(_ context.Context, id ledger.AccountID) ([]ledger.Posting, error) {
	return tv.parent.postingsForAccountLocked(id), nil
}

func (tv *txMemoryView) ListPostings(_ context.Context) ([]ledger.Posting, error) {
	return clonePostings(tv.parent.postings), nil
}

func (tv *txMemoryView) HasPostings(_ context.Context, id ledger.AccountID) (bool, error) {
	return tv.parent.hasPostingsLocked(id), nil
}

func (tv *txMemoryView) FindReversal(_ context.Context, id ledger.PostingID) (ledger.PostingID, bool, error) {
	rev, ok := tv.parent.reversals[id]
	return rev, ok, nil
}

// =============================================================================
// COPY HELPERS - Callers never share slices or pointers with the store
// =============================================================================

func cloneAccount(a ledger.Account) ledger.Account {
	if a.ParentID != nil {
		parent := *a.ParentID
		a.ParentID = &parent
	}
	return a
}

func clonePosting(p ledger.Posting) ledger.Posting {
	p.Lines = append([]ledger.Line(nil), p.Lines...)
	return p
}

func clonePostings(ps []ledger.Posting) []ledger.Posting {
	result := make([]ledger.Posting, len(ps))
	for i, p := range ps {
		result[i] = clonePosting(p)
	}
	return result
}
