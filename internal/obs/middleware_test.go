package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/common"
)

func TestHTTPMetricsLabelsByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewHTTPMetrics("cartino", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/{kind}/items/{itemId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, path := range []string{"/api/v1/cart/items/A", "/api/v1/cart/items/B"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/{kind}/items/{itemId}", "204"))
	require.Equal(t, float64(2), total)
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlight))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewHTTPMetrics("cartino", nil, registry)
	second := NewHTTPMetrics("cartino", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10, 2.5}, ParseBucketsCSV("5, 10,x,-1,2.5"))
	require.Nil(t, ParseBucketsCSV(""))
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "debug")

	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: logger}.Middleware)
	// the session is attached after the logger, as in the API router
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := common.WithSessionID(req.Context(), "cartino_abc")
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/api/v1/{kind}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	line := buf.String()
	require.Contains(t, line, `"level":"warn"`)
	require.Contains(t, line, `"route":"/api/v1/{kind}"`)
	require.Contains(t, line, `"session_id":"cartino_abc"`)
	require.Contains(t, line, `"service":"cartino"`)
	require.False(t, strings.Contains(line, "user_id"))
}

func TestRequestLoggerExposesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger{Logger: newLogger(&buf, "json", "debug")}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			zerolog.Ctx(r.Context()).Info().Msg("inside")
			w.WriteHeader(http.StatusOK)
		}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Contains(t, buf.String(), `"message":"inside"`)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger(&bytes.Buffer{}, "json", "bogus")
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestAsynqLoggerWritesLevels(t *testing.T) {
	var buf bytes.Buffer
	l := AsynqLogger{Logger: zerolog.New(&buf)}
	l.Warn("queue ", "paused")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "queue paused", entry["message"])
}
