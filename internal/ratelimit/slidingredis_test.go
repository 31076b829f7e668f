package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLimiterSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := Limiter{Client: client, Prefix: "cartino:rl:", Now: func() time.Time { return now }}
	ctx := context.Background()
	window := 2 * time.Second

	for i := 0; i < 2; i++ {
		allowed, remaining, reset, err := limiter.Allow(ctx, "session:s1", window, 2)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, 1-i, remaining)
		require.Equal(t, now.Add(window), reset.UTC())
	}

	now = now.Add(time.Second)
	allowed, remaining, reset, err := limiter.Allow(ctx, "session:s1", window, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, remaining)
	require.Equal(t, now.Add(time.Second), reset.UTC(), "resets when the oldest event leaves the window")

	allowed, _, _, err = limiter.Allow(ctx, "session:s2", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)

	// rejected events are not logged, so the window slides open on time
	now = now.Add(time.Second)
	allowed, remaining, _, err = limiter.Allow(ctx, "session:s1", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)
}

func TestLimiterKeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	limiter := Limiter{Client: client, Prefix: "rl:"}
	_, _, _, err := limiter.Allow(context.Background(), "ip:1.2.3.4", time.Minute, 10)
	require.NoError(t, err)
	require.True(t, mr.Exists("rl:ip:1.2.3.4"))
	mr.FastForward(time.Minute)
	require.False(t, mr.Exists("rl:ip:1.2.3.4"))
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	allowed, remaining, _, err := Limiter{}.Allow(context.Background(), "k", time.Second, 5)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 5, remaining)
}
