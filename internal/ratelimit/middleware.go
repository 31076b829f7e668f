// Package ratelimit throttles cart mutations per shopper.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cartino/internal/common"
)

// Allower decides whether another event for key fits within max per window.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Handler admits at most Max requests per Window for each Key.
//
// A limiter error fails open. It goes to OnError when set, otherwise to the
// request logger.
type Handler struct {
	Limiter Allower
	Key     func(*http.Request) string
	Window  time.Duration
	Max     int
	OnError func(error)
	Now     func() time.Time
}

// ByOwner keys requests by authenticated user, then guest session, then client IP.
func ByOwner(r *http.Request) string {
	ctx := r.Context()
	if id, ok := common.UserID(ctx); ok && id != "" {
		return "user:" + id
	}
	if sid, ok := common.SessionID(ctx); ok {
		return "session:" + sid
	}
	return "ip:" + common.ClientIP(r)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil {
		return next
	}
	key := h.Key
	if key == nil {
		key = ByOwner
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}
	limit := strconv.Itoa(max(h.Max, 0))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key(r), h.Window, h.Max)
		if err != nil {
			h.report(r, err)
			next.ServeHTTP(w, r)
			return
		}

		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", limit)
		hdr.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		hdr.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		wait := math.Ceil(resetAt.Sub(now()).Seconds())
		hdr.Set("Retry-After", strconv.Itoa(int(max(wait, 0))))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
	})
}

func (h Handler) report(r *http.Request, err error) {
	if h.OnError != nil {
		h.OnError(err)
		return
	}
	zerolog.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter unavailable")
}
