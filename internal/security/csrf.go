package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/cartino/internal/common"
)

const defaultCSRFHeader = "X-CSRF-Token"

// CSRF guards cookie-authenticated mutations with a double-submit token: the
// value of the CSRF cookie must be echoed in the CSRF header.
//
// Only requests that present the guest session cookie are checked. Bearer
// requests and requests without the session cookie carry no ambient
// credential. Safe requests from a session without a token are issued one.
type CSRF struct {
	Header        string
	Cookie        string
	SessionCookie string
	Secure        bool
}

func (c CSRF) names() (header, cookie string) {
	header = strings.TrimSpace(c.Header)
	if header == "" {
		header = defaultCSRFHeader
	}
	cookie = strings.TrimSpace(c.Cookie)
	if cookie == "" {
		cookie = header
	}
	return header, cookie
}

// Middleware implements the http.Handler middleware interface.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	header, cookieName := c.names()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.ambient(r) {
			next.ServeHTTP(w, r)
			return
		}
		stored, _ := r.Cookie(cookieName)

		if safeMethod(r.Method) {
			if stored == nil || strings.TrimSpace(stored.Value) == "" {
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    uuid.NewString(),
					Path:     "/",
					Secure:   c.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r)
			return
		}

		if msg := verify(stored, r.Header.Get(header)); msg != "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_REJECTED", msg, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ambient reports whether the browser attached a credential on its own.
func (c CSRF) ambient(r *http.Request) bool {
	if scheme, _, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok && strings.EqualFold(scheme, "bearer") {
		return false
	}
	if c.SessionCookie == "" {
		return true
	}
	_, err := r.Cookie(c.SessionCookie)
	return err == nil
}

func verify(stored *http.Cookie, sent string) string {
	sent = strings.TrimSpace(sent)
	switch {
	case sent == "":
		return "missing csrf token"
	case stored == nil || strings.TrimSpace(stored.Value) == "":
		return "missing csrf cookie"
	case subtle.ConstantTimeCompare([]byte(sent), []byte(stored.Value)) != 1:
		return "invalid csrf token"
	}
	return ""
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
