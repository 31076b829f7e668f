package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var baseline = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	// carts are per shopper
	{"Cache-Control", "no-store"},
}

// Headers hardens every API response. HSTS is only sent over TLS, either
// terminated here or reported by the proxy through X-Forwarded-Proto.
type Headers struct {
	Enable     bool
	EnableHSTS bool
	// HSTSMaxAge defaults to one year.
	HSTSMaxAge time.Duration
}

func (h Headers) hsts() string {
	age := h.HSTSMaxAge
	if age <= 0 {
		age = 365 * 24 * time.Hour
	}
	return "max-age=" + strconv.FormatInt(int64(age/time.Second), 10) + "; includeSubDomains"
}

// Middleware sets the headers before the handler writes.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		for _, kv := range baseline {
			headers.Set(kv[0], kv[1])
		}
		if h.EnableHSTS && secure(r) {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func secure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
