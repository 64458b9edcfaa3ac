package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breatheroute/airwatch/internal/api/middleware"

// Metrics records OpenTelemetry HTTP server instruments.
type Metrics struct {
	duration     metric.Float64Histogram
	requests     metric.Int64Counter
	active       metric.Int64UpDownCounter
	requestSize  metric.Int64Histogram
	responseSize metric.Int64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.duration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.requests, err = meter.Int64Counter("http.server.request.count",
		metric.WithDescription("HTTP server requests handled"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("HTTP server requests in progress"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.requestSize, err = meter.Int64Histogram("http.server.request.body.size",
		metric.WithDescription("Declared size of request bodies, mostly CSV uploads"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.responseSize, err = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Bytes written in HTTP responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records duration, count and body sizes per route and status.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			method := attribute.String("http.request.method", r.Method)
			m.active.Add(ctx, 1, metric.WithAttributes(method))
			defer m.active.Add(ctx, -1, metric.WithAttributes(method))

			ww := wrapWriter(w, r)
			next.ServeHTTP(ww, r)

			// Route patterns keep city names out of the attribute set.
			attrs := metric.WithAttributes(
				method,
				attribute.String("http.route", routeOr(r, "unmatched")),
				attribute.Int("http.response.status_code", statusOf(ww)),
			)

			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.requests.Add(ctx, 1, attrs)
			m.responseSize.Record(ctx, int64(ww.BytesWritten()), attrs)
			if r.ContentLength > 0 {
				m.requestSize.Record(ctx, r.ContentLength, attrs)
			}
		})
	}
}
