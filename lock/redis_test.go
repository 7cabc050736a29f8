package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// setupTestRedis starts a miniredis server and a client pointed at it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, DefaultOptions())

	executed := false
	err := locker.WithLock(context.Background(), []string{"account:a", "account:b"}, func(context.Context) error {
		executed = true
		assert.True(t, mr.Exists("ledger:lock:account:a"))
		assert.True(t, mr.Exists("ledger:lock:account:b"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, executed)
	assert.False(t, mr.Exists("ledger:lock:account:a"))
	assert.False(t, mr.Exists("ledger:lock:account:b"))
}

func TestRedisLocker_ErrorPropagatesAndReleases(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, DefaultOptions())

	err := locker.WithLock(context.Background(), []string{"account:a"}, func(context.Context) error {
		return assert.AnError
	})

	assert.Equal(t, assert.AnError, err)
	assert.False(t, mr.Exists("ledger:lock:account:a"))
}

func TestRedisLocker_HeldKeyExhaustsTries(t *testing.T) {
	// GIVEN: Another process holds the second key
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set("ledger:lock:account:b", "someone-else"))
	locker := NewRedisLocker(client, Options{Tries: 3, RetryDelay: time.Millisecond})

	// WHEN: Locking both keys
	called := false
	err := locker.WithLock(context.Background(), []string{"account:a", "account:b"}, func(context.Context) error {
		called = true
		return nil
	})

	// THEN: Nothing runs and the key taken so far is released
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)
	assert.False(t, mr.Exists("ledger:lock:account:a"))
	got, _ := mr.Get("ledger:lock:account:b")
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_EmptyKey(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedisLocker(client, DefaultOptions())

	err := locker.WithLock(context.Background(), []string{""}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestRedisLocker_ContextCancelledWhileWaiting(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set("ledger:lock:account:a", "someone-else"))
	locker := NewRedisLocker(client, Options{Tries: 1000, RetryDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, []string{"account:a"}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_ExpiredLockIsNotReleasedFromNewHolder(t *testing.T) {
	// GIVEN: Our lock expires while fn runs and someone else takes the key
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, Options{TTL: time.Second})

	err := locker.WithLock(context.Background(), []string{"account:a"}, func(context.Context) error {
		mr.FastForward(2 * time.Second)
		require.False(t, mr.Exists("ledger:lock:account:a"))
		return mr.Set("ledger:lock:account:a", "new-holder")
	})
	require.NoError(t, err)

	// THEN: Our release leaves the new holder's key alone
	got, err := mr.Get("ledger:lock:account:a")
	require.NoError(t, err)
	assert.Equal(t, "new-holder", got)
}

func TestRedisLocker_SerializesSameKey(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedisLocker(client, Options{Tries: 500, RetryDelay: time.Millisecond})

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), []string{"account:a"}, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestRedisLocker_DrivesEngine(t *testing.T) {
	// GIVEN: An engine whose per-account locks live in Redis
	_, client := setupTestRedis(t)
	ctx := context.Background()
	s := store.NewTxMemory()
	registry := ledger.NewRegistry(s)
	engine := ledger.NewEngine(s, registry).
		WithLocker(NewRedisLocker(client, Options{Tries: 500, RetryDelay: time.Millisecond}))

	_, err := registry.Create(ctx, ledger.AccountSpec{ID: "bank", Name: "Cash in Bank", Type: ledger.Asset, Currency: "PHP"})
	require.NoError(t, err)
	_, err = registry.Create(ctx, ledger.AccountSpec{ID: "fuel", Name: "Fuel", Type: ledger.Expense, Currency: "PHP"})
	require.NoError(t, err)

	// WHEN: Posting concurrently
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.PostTransaction(ctx, ledger.TransactionInput{
				FromAccountID: "bank", ToAccountID: "fuel", Amount: decimal.NewFromInt(100), Currency: "PHP",
				Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: Every posting landed and the balances reconcile
	fuel, err := registry.Get(ctx, "fuel")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(fuel.Balance))

	recs, err := ledger.NewCalculator(s).ReconcileAll(ctx)
	require.NoError(t, err)
	for _, r := range recs {
		assert.True(t, r.OK, r.AccountID)
	}
}
