package app

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cartino/internal/auth"
	"github.com/noah-isme/cartino/internal/cart"
	"github.com/noah-isme/cartino/internal/common"
	"github.com/noah-isme/cartino/internal/config"
	"github.com/noah-isme/cartino/internal/health"
	"github.com/noah-isme/cartino/internal/obs"
	"github.com/noah-isme/cartino/internal/ratelimit"
	"github.com/noah-isme/cartino/internal/security"
	"github.com/noah-isme/cartino/internal/session"
)

// RouterConfig lists everything the HTTP surface needs.
type RouterConfig struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Carts    *cart.Service
	Verifier *auth.Verifier
	Limiter  ratelimit.Allower
	Idem     common.Idem
	Probes   map[string]health.Probe

	HTTPMetrics    *obs.HTTPMetrics
	MetricsHandler http.Handler
	Tracing        bool
	Pprof          bool
	PprofUser      string
	PprofPass      string
}

// NewRouter builds the chi router serving health, metrics and the cart API.
func NewRouter(rc RouterConfig) http.Handler {
	cfg := rc.Config
	sessions := session.Manager{
		CookieName: cfg.SessionCookieName,
		MaxAge:     cfg.SessionCookieMaxAge,
		Domain:     cfg.CookieDomain,
		Secure:     cfg.CookieSecure,
		SameSite:   cfg.CookieSameSite,
	}
	authMiddleware := auth.Middleware{Verifier: rc.Verifier}
	cartHandler := &cart.Handler{Svc: rc.Carts, Validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rc.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rc.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: rc.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rc.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Idempotency-Key", session.HeaderName},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.Production()}.Middleware)

	healthHandler := health.Handler{Probes: rc.Probes}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if rc.MetricsHandler != nil {
		r.Handle("/metrics", rc.MetricsHandler)
	}
	if rc.Pprof {
		r.Mount("/debug", protectPprof(middleware.Profiler(), rc.PprofUser, rc.PprofPass))
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.HTTPBodyLimitBytes}.Middleware)
		v.Use(sessions.Middleware)
		v.Use(authMiddleware.Authenticate)
		v.Use(security.CSRF{SessionCookie: sessions.Name(), Secure: cfg.CookieSecure}.Middleware)
		v.Use(ratelimit.Handler{
			Limiter: rc.Limiter,
			Window:  cfg.RateLimitWindow,
			Max:     cfg.RateLimitMax,
		}.Middleware)
		v.Use(rc.Idem.Middleware)

		v.Route("/session", func(s chi.Router) {
			s.With(authMiddleware.RequireAuth).Post("/merge", cartHandler.Merge)
			s.Post("/detach", sessions.Detach)
		})
		v.Route("/{kind}", cartHandler.Routes)
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
