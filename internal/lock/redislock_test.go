package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/lock"
)

type withLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

func newRedisLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func requireSerialized(t *testing.T, locker withLocker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
	)
	firstIn := make(chan struct{})
	releaseFirst := make(chan struct{})
	done := make(chan error, 2)

	go func() {
		done <- locker.WithLock(ctx, lock.Key("user:1"), time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstIn)
			<-releaseFirst
			return nil
		})
	}()
	<-firstIn

	go func() {
		done <- locker.WithLock(ctx, lock.Key("user:1"), time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"first"}, order)
	mu.Unlock()

	close(releaseFirst)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRedisLockSerializesSameKey(t *testing.T) {
	locker, _ := newRedisLocker(t)
	requireSerialized(t, locker)
}

func TestLocalLockSerializesSameKey(t *testing.T) {
	requireSerialized(t, &lock.Local{})
}

func TestRedisLockReleasedOnError(t *testing.T) {
	locker, mr := newRedisLocker(t)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), lock.Key("session:abc"), time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(lock.Key("session:abc")))
}

func TestRedisLockRenewsLease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	key := lock.Key("user:renew")
	err := locker.WithLock(context.Background(), key, 60*time.Millisecond, func(context.Context) error {
		mr.SetTTL(key, 5*time.Millisecond)
		require.Eventually(t, func() bool { return mr.TTL(key) > 5*time.Millisecond }, time.Second, 5*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))
}

func TestRedisLockCancelsWhenLeaseLost(t *testing.T) {
	locker, mr := newRedisLocker(t)
	key := lock.Key("user:lost")
	err := locker.WithLock(context.Background(), key, 60*time.Millisecond, func(ctx context.Context) error {
		mr.Del(key)
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(time.Second):
			return errors.New("lease loss not detected")
		}
	})
	require.ErrorIs(t, err, lock.ErrLockLost)
}

func TestLockWaitHonoursContext(t *testing.T) {
	for name, locker := range map[string]withLocker{
		"redis": func() withLocker { l, _ := newRedisLocker(t); return l }(),
		"local": &lock.Local{},
	} {
		t.Run(name, func(t *testing.T) {
			held := make(chan struct{})
			release := make(chan struct{})
			go func() {
				_ = locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held
			defer close(release)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			err := locker.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil })
			require.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}
