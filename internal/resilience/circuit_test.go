package resilience_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/resilience"
)

type clock struct{ now time.Time }

func newClock() *clock { return &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	clk := newClock()
	b := resilience.NewBreaker(resilience.BreakerConfig{MinRequests: 4, FailureRatio: 0.5, OpenFor: time.Minute, Now: clk.Now})
	ctx := context.Background()

	for _, ok := range []bool{true, true, false} {
		require.True(t, b.Allow(ctx))
		b.Report(ctx, ok)
	}
	require.Equal(t, resilience.Closed, b.State(), "below minimum requests")

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	require.False(t, b.Allow(ctx))

	clk.Advance(time.Minute)
	require.True(t, b.Allow(ctx), "probe after cool-off")
	require.Equal(t, resilience.HalfOpen, b.State())
	require.False(t, b.Allow(ctx), "only one probe at a time")

	b.Report(ctx, true)
	require.Equal(t, resilience.Closed, b.State())
	require.True(t, b.Allow(ctx))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clk := newClock()
	b := resilience.NewBreaker(resilience.BreakerConfig{MinRequests: 1, OpenFor: time.Second, Now: clk.Now})
	ctx := context.Background()

	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	clk.Advance(time.Second)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	require.False(t, b.Allow(ctx))
}

func TestBreakerWindowForgetsOldFailures(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{MinRequests: 2, FailureRatio: 0.6, Window: 4})
	ctx := context.Background()

	b.Report(ctx, false)
	b.Report(ctx, true)
	b.Report(ctx, true)
	b.Report(ctx, true)
	// the first failure has left the window
	b.Report(ctx, false)
	b.Report(ctx, false)
	require.Equal(t, resilience.Closed, b.State())
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
}

func TestBreakerMetrics(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	clk := newClock()
	b := resilience.NewBreaker(resilience.BreakerConfig{Target: "events-webhook", MinRequests: 1, OpenFor: time.Second, Now: clk.Now})
	ctx := context.Background()
	gauge := resilience.BreakerState.WithLabelValues("events-webhook")
	require.Equal(t, 0.0, testutil.ToFloat64(gauge))

	b.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(gauge))

	clk.Advance(time.Second)
	require.True(t, b.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(gauge))

	b.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(gauge))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("events-webhook")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("events-webhook", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("events-webhook", "half_open", "closed")))
}

func TestRetryDelay(t *testing.T) {
	r := resilience.Retry{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, r.Delay(1))
	require.Equal(t, 200*time.Millisecond, r.Delay(2))
	require.Equal(t, 300*time.Millisecond, r.Delay(3))

	r = resilience.Retry{Base: 100 * time.Millisecond, Jitter: 0.2}
	d := r.Delay(2)
	require.GreaterOrEqual(t, d, 160*time.Millisecond)
	require.LessOrEqual(t, d, 240*time.Millisecond)
}

func TestClientRetriesAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	cl := resilience.Client{HTTP: srv.Client(), Retry: resilience.Retry{Attempts: 3, Base: time.Millisecond}}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.EqualValues(t, 3, calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cl := resilience.Client{HTTP: srv.Client(), Retry: resilience.Retry{Attempts: 3, Base: time.Millisecond}, Timeout: time.Second}
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestClientOpenBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := resilience.NewBreaker(resilience.BreakerConfig{MinRequests: 1, OpenFor: time.Minute})
	cl := resilience.Client{HTTP: srv.Client(), Breaker: b, Retry: resilience.Retry{Attempts: 3, Base: time.Millisecond}}
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)

	_, err = cl.Do(context.Background(), req)
	require.True(t, errors.Is(err, resilience.ErrOpenCircuit))
	require.EqualValues(t, 1, calls.Load())

	_, err = cl.Do(context.Background(), req)
	require.True(t, errors.Is(err, resilience.ErrOpenCircuit))
	require.EqualValues(t, 1, calls.Load())
}
