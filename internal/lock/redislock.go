// Package lock serializes read-modify-write cycles on a shopper's documents.
package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL     = 10 * time.Second
	defaultBackoff = 25 * time.Millisecond
	maxBackoff     = 500 * time.Millisecond
)

// KeyPrefix namespaces every owner lock key.
const KeyPrefix = "cartino:lock:"

// Key builds the lock key for an owner.
func Key(owner string) string { return KeyPrefix + owner }

// ErrLockLost is the cancellation cause seen by fn when the lease could not
// be renewed, for example after Redis failed over.
var ErrLockLost = errors.New("lock: lease lost")

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker is a lease lock over Redis SET NX PX. The lease is renewed at a
// third of its TTL for as long as fn runs.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock runs fn while holding key and releases the lease afterwards,
// whatever fn returns. Waiting stops when ctx is done.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()

	leaseCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		l.renew(leaseCtx, cancel, key, token, ttl)
	}()
	err := fn(leaseCtx)
	cancel(nil)
	<-stopped
	return err
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	wait := l.RetryBackoff
	if wait <= 0 {
		wait = defaultBackoff
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// jitter keeps waiters from retrying in lockstep
		sleep := wait/2 + rand.N(wait/2+1)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, maxBackoff)
	}
}

func (l Locker) renew(ctx context.Context, lost context.CancelCauseFunc, key, token string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int()
			if ctx.Err() != nil {
				return
			}
			if err != nil || n == 0 {
				lost(ErrLockLost)
				return
			}
		}
	}
}
