// Package lock provides a Redis-backed ledger.Locker so that several server
// processes sharing one database serialize postings per account.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a key stays held past the retry budget.
	ErrLockNotAcquired = errors.New("lock: could not acquire key")
	// ErrEmptyKey is returned for a blank lock key.
	ErrEmptyKey = errors.New("lock: key cannot be empty")
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options control lock expiry and acquisition retries.
type Options struct {
	Prefix     string
	TTL        time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Prefix:     "ledger:lock:",
		TTL:        10 * time.Second,
		Tries:      50,
		RetryDelay: 20 * time.Millisecond,
	}
}

// RedisLocker implements ledger.Locker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	opts   Options
}

func NewRedisLocker(client redis.UniversalClient, opts Options) *RedisLocker {
	def := DefaultOptions()
	if opts.Prefix == "" {
		opts.Prefix = def.Prefix
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.Tries < 1 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &RedisLocker{client: client, opts: opts}
}

// WithLock acquires every key in order, runs fn, then releases in reverse.
func (l *RedisLocker) WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error {
	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	defer func() {
		// Release with a fresh context so a cancelled request still unlocks.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(rctx, l.client, []string{held[i]}, token).Err()
		}
	}()

	for _, k := range keys {
		if k == "" {
			return ErrEmptyKey
		}
		key := l.opts.Prefix + k
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		held = append(held, key)
	}
	return fn(ctx)
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for try := 0; try < l.opts.Tries; try++ {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(l.opts.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w %s after %d tries", ErrLockNotAcquired, key, l.opts.Tries)
}
