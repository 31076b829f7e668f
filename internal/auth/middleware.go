package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/cartino/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware resolves the calling user from a bearer token, or from the
// AccessCookie when one is configured.
type Middleware struct {
	Verifier     *Verifier
	AccessCookie string
}

// Authenticate attaches the user id for valid tokens. Anything else carries
// on as a guest; the guest session decides ownership then.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, err := m.resolve(r); err == nil {
			r = r.WithContext(common.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth answers 401 unless a user is attached or the token verifies.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := common.UserID(r.Context()); ok && id != "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := m.resolve(r)
		if err != nil {
			if _, ok := common.AsAppError(err); !ok {
				err = common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, err)
			}
			common.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), userID)))
	})
}

func (m Middleware) resolve(r *http.Request) (string, error) {
	if m.Verifier == nil {
		return "", errors.New("auth: verifier not configured")
	}
	token := bearer(r)
	if token == "" && m.AccessCookie != "" {
		if c, err := r.Cookie(m.AccessCookie); err == nil {
			token = strings.TrimSpace(c.Value)
		}
	}
	if token == "" {
		return "", errNoToken
	}
	return m.Verifier.ParseAccessToken(token)
}

func bearer(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
