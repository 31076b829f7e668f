package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/common"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: "super-secret-key", Issuer: "cartino", Audience: "storefront"})
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v.WithNow(func() time.Time { return fixed })
	return v
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{Secret: "  "})
	require.Error(t, err)
}

func TestParseAccessTokenRoundTrip(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign("user-1", time.Minute)
	require.NoError(t, err)

	subject, err := v.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", subject)
}

func TestParseAccessTokenRejects(t *testing.T) {
	v := newVerifier(t)

	_, err := v.ParseAccessToken("")
	require.ErrorContains(t, err, "missing token")

	_, err = v.ParseAccessToken("not-a-jwt")
	require.Error(t, err)

	token, err := v.Sign("user-1", time.Minute)
	require.NoError(t, err)
	v.WithNow(func() time.Time { return time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC) })
	_, err = v.ParseAccessToken(token)
	require.Error(t, err)
	_, ok := common.AsAppError(err)
	require.True(t, ok)
}

func TestParseAccessTokenRejectsAlgorithmMismatch(t *testing.T) {
	v := newVerifier(t)
	now := v.now()
	built, err := jwt.NewBuilder().
		Subject("user-1").
		Issuer("cartino").
		Audience([]string{"storefront"}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, v.secret))
	require.NoError(t, err)

	_, err = v.ParseAccessToken(string(signed))
	require.Error(t, err)
}

func TestParseAccessTokenRejectsClaims(t *testing.T) {
	v := newVerifier(t)
	now := v.now()
	sign := func(issuer, audience, subject string, nbf, exp time.Time) string {
		built, err := jwt.NewBuilder().
			Issuer(issuer).
			Audience([]string{audience}).
			Subject(subject).
			NotBefore(nbf).
			Expiration(exp).
			Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS256, v.secret))
		require.NoError(t, err)
		return string(signed)
	}

	cases := map[string]string{
		"issuer":     sign("other", "storefront", "u1", now, now.Add(time.Minute)),
		"audience":   sign("cartino", "admin", "u1", now, now.Add(time.Minute)),
		"expired":    sign("cartino", "storefront", "u1", now.Add(-time.Hour), now.Add(-time.Minute)),
		"not before": sign("cartino", "storefront", "u1", now.Add(5*time.Minute), now.Add(10*time.Minute)),
		"subject":    sign("cartino", "storefront", " ", now, now.Add(time.Minute)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseAccessToken(token)
			require.Error(t, err)
		})
	}

	_, err := v.ParseAccessToken(sign("cartino", "storefront", "u1", now, now.Add(time.Minute)))
	require.NoError(t, err)
}

func TestMiddlewareAuthenticate(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign("user-1", time.Minute)
	require.NoError(t, err)

	var seen string
	h := Middleware{Verifier: v, AccessCookie: "access_token"}.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "user-1", seen)

	seen = ""
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "user-1", seen)

	seen = "unchanged"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "", seen)
}

func TestMiddlewareRequireAuthTrustsAuthenticate(t *testing.T) {
	h := Middleware{}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(common.WithUserID(req.Context(), "user-1"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestMiddlewareRequireAuth(t *testing.T) {
	v := newVerifier(t)
	h := Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := v.Sign("user-1", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}
