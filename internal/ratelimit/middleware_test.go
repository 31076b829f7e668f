package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/common"
)

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:"},
		Key:     func(*http.Request) string { return "static" },
		Window:  time.Second,
		Max:     1,
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()
	called := false
	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:"},
		Key:     func(*http.Request) string { return "err" },
		Window:  time.Second,
		Max:     1,
		OnError: func(error) { called = true },
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestMemoryLimiterThroughMiddleware(t *testing.T) {
	handler := Handler{
		Limiter: NewMemory("test"),
		Window:  time.Minute,
		Max:     2,
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(common.WithSessionID(req.Context(), session))
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusNoContent, send("a"))
	require.Equal(t, http.StatusNoContent, send("a"))
	require.Equal(t, http.StatusTooManyRequests, send("a"))
	require.Equal(t, http.StatusNoContent, send("b"))
}

func TestRetryAfterRoundsUp(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	handler := Handler{
		Limiter: stubAllower{reset: now.Add(1500 * time.Millisecond)},
		Max:     5,
		Now:     func() time.Time { return now },
	}
	rr := httptest.NewRecorder()
	handler.Middleware(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "2", rr.Header().Get("Retry-After"))
	require.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
}

type stubAllower struct{ reset time.Time }

func (s stubAllower) Allow(context.Context, string, time.Duration, int) (bool, int, time.Time, error) {
	return false, 0, s.reset, nil
}

func TestByOwnerPrefersUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	require.Equal(t, "ip:192.0.2.1", ByOwner(req))

	ctx := common.WithSessionID(req.Context(), "s1")
	require.Equal(t, "session:s1", ByOwner(req.WithContext(ctx)))

	ctx = common.WithUserID(ctx, "u1")
	require.Equal(t, "user:u1", ByOwner(req.WithContext(ctx)))
}

func TestRedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	fw, err := NewRedis(client, "cartino:rl")
	require.NoError(t, err)
	allowed, remaining, _, err := fw.Allow(context.Background(), "k", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 0, remaining)

	allowed, _, _, err = fw.Allow(context.Background(), "k", time.Minute, 1)
	require.NoError(t, err)
	require.False(t, allowed)
}
