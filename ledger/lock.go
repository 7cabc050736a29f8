package ledger

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes work on a set of keys. Implementations must acquire the
// keys in the order given; callers pass them sorted (see AccountLockKeys).
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error
}

// AccountLockKeys returns the sorted, de-duplicated lock keys for accounts.
func AccountLockKeys(ids []AccountID) []string {
	seen := make(map[AccountID]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, "account:"+string(id))
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// LOCAL LOCKER - Keyed in-process mutexes
// =============================================================================

// LocalLocker is the default Locker for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error {
	acquired := make([]string, 0, len(keys))
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.release(acquired[i])
		}
	}()

	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			return err
		}
		acquired = append(acquired, k)
	}
	return fn(ctx)
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, kl)
		return ctx.Err()
	}
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	kl := l.locks[key]
	l.mu.Unlock()
	<-kl.ch
	l.unref(key, kl)
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
