package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cartino/internal/common"
)

// NewLogger builds a zerolog logger writing JSON, or console output when
// format is "console" or "text", to stdout.
func NewLogger(format, level string) zerolog.Logger {
	return newLogger(os.Stdout, format, level)
}

func newLogger(w io.Writer, format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := w
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "cartino").Logger()
}

// RequestLogger writes one structured line per HTTP request.
type RequestLogger struct {
	Logger zerolog.Logger
}

// Middleware logs method, route, status and latency together with the request,
// trace, user and guest session identifiers. The identifiers are resolved by
// inner middleware and reported back through a common.Scope. 4xx responses
// log at warn, 5xx at error.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, scope := common.WithScope(r.Context())
		reqLog := l.Logger.With().Str("request_id", middleware.GetReqID(ctx)).Logger()
		ctx = reqLog.WithContext(ctx)
		r = r.WithContext(ctx)
		ww := wrap(w, r)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		if route == "" {
			route = r.URL.Path
		}

		var evt *zerolog.Event
		code := status(ww)
		switch {
		case code >= http.StatusInternalServerError:
			evt = l.Logger.Error()
		case code >= http.StatusBadRequest:
			evt = l.Logger.Warn()
		default:
			evt = l.Logger.Info()
		}
		evt = evt.
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", code).
			Float64("duration_ms", DurationMillis(time.Since(start))).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(ctx))
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			evt = evt.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		if user := scope.UserID(); user != "" {
			evt = evt.Str("user_id", user)
		}
		if sid := scope.SessionID(); sid != "" {
			evt = evt.Str("session_id", sid)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Msg("http_request")
	})
}
