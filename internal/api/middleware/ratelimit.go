package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/breatheroute/airwatch/internal/api/models"
)

// RateLimitConfig allows RequestLimit requests per WindowLength per key.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Default limits per route group.
var (
	AdminRateLimit    = RateLimitConfig{RequestLimit: 10, WindowLength: time.Minute}
	UploadRateLimit   = RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// OrDefault returns c, or def when c allows no requests.
func (c RateLimitConfig) OrDefault(def RateLimitConfig) RateLimitConfig {
	if c.RequestLimit <= 0 || c.WindowLength <= 0 {
		return def
	}
	return c
}

// RateLimitByIP limits requests per client address. It should run after
// chi's RealIP so proxied clients are told apart.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, httprate.KeyByRealIP)
}

// RateLimitBySubject limits requests per authenticated admin subject,
// falling back to the client address before authentication.
func RateLimitBySubject(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, func(r *http.Request) (string, error) {
		if sub := GetSubject(r.Context()); sub != "" {
			return "sub:" + sub, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

func limit(cfg RateLimitConfig, key httprate.KeyFunc) func(http.Handler) http.Handler {
	// httprate does not expose the reset time, so clients are asked to wait
	// a full window.
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
			problem.Instance = r.URL.Path
			w.Header().Set("Retry-After", retryAfter)
			problem.Write(w)
		}),
	)
}
