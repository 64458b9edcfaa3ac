package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths are polled by probes and scrapers and logged at debug level.
var quietPaths = map[string]bool{
	"/metrics":       true,
	"/v1/ops/health": true,
	"/v1/ops/ready":  true,
}

// Logger logs one line per request. Server errors are logged at error
// level, client errors at warn, and probe or scrape traffic at debug.
// Trace and span IDs are attached when the request is traced.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrapWriter(w, r)

			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			event := levelFor(log, status, r.URL.Path)
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				event = event.
					Str("trace_id", sc.TraceID().String()).
					Str("span_id", sc.SpanID().String())
			}

			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routeOr(r, "")).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}

func levelFor(log zerolog.Logger, status int, path string) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return log.Error()
	case status >= http.StatusBadRequest:
		return log.Warn()
	case quietPaths[path]:
		return log.Debug()
	default:
		return log.Info()
	}
}
