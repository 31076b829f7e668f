// Package session issues and resolves guest session identifiers. Guest carts
// are keyed by the id carried in the session cookie.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/cartino/internal/common"
)

const (
	idPrefix      = "cartino_"
	defaultCookie = "cartino.sessionId"
	defaultMaxAge = 7 * 24 * time.Hour
	maxIDLength   = 128
)

// HeaderName lets non-browser clients present a session id without cookies.
const HeaderName = "X-Cartino-Session"

// NewID returns "cartino_" followed by six random bytes, base64url encoded.
func NewID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return idPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Manager attaches a guest session to every request.
type Manager struct {
	CookieName string
	MaxAge     time.Duration
	Domain     string
	Secure     bool
	SameSite   http.SameSite
}

// Name returns the session cookie name.
func (m Manager) Name() string {
	if m.CookieName == "" {
		return defaultCookie
	}
	return m.CookieName
}

func (m Manager) maxAge() time.Duration {
	if m.MaxAge <= 0 {
		return defaultMaxAge
	}
	return m.MaxAge
}

func (m Manager) setCookie(w http.ResponseWriter, id string) {
	sameSite := m.SameSite
	if sameSite == http.SameSiteDefaultMode {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.Name(),
		Value:    id,
		Path:     "/",
		Domain:   m.Domain,
		MaxAge:   int(m.maxAge().Seconds()),
		Expires:  time.Now().Add(m.maxAge()),
		Secure:   m.Secure,
		HttpOnly: true,
		SameSite: sameSite,
	})
}

// Current returns the session id presented by the request, if any.
func (m Manager) Current(r *http.Request) string {
	if c, err := r.Cookie(m.Name()); err == nil {
		if id := strings.TrimSpace(c.Value); validID(id) {
			return id
		}
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderName)); validID(id) {
		return id
	}
	return ""
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLength
}

// Middleware ensures a session id exists, issuing a cookie when the request
// carries none, and stores it on the request context.
func (m Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := m.Current(r)
		if id == "" {
			fresh, err := NewID()
			if err != nil {
				common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session unavailable", nil)
				return
			}
			id = fresh
			m.setCookie(w, id)
		}
		next.ServeHTTP(w, r.WithContext(common.WithSessionID(r.Context(), id)))
	})
}

// Detach rotates the guest session, typically on logout, so carts left under
// the previous id are no longer reachable from this browser.
func (m Manager) Detach(w http.ResponseWriter, r *http.Request) {
	id, err := NewID()
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session unavailable", nil)
		return
	}
	m.setCookie(w, id)
	common.Data(w, http.StatusOK, map[string]string{"sessionId": id})
}
