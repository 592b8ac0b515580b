package middleware

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jacktea/sumgate/pkg/metrics"
)

// HTTPMiddleware wraps an http.Handler.
type HTTPMiddleware func(http.Handler) http.Handler

// Wrap applies middleware in order. Nil entries are skipped.
func Wrap(h http.Handler, middlewares ...HTTPMiddleware) http.Handler {
	chain := chain(middlewares...)
	return chain(h)
}

func chain(middlewares ...HTTPMiddleware) HTTPMiddleware {
	filtered := make([]HTTPMiddleware, 0, len(middlewares))
	for _, mw := range middlewares {
		if mw != nil {
			filtered = append(filtered, mw)
		}
	}
	return func(next http.Handler) http.Handler {
		handler := next
		for i := len(filtered) - 1; i >= 0; i-- {
			handler = filtered[i](handler)
		}
		return handler
	}
}

// RateLimitOptions configures a token bucket: Requests tokens refilled
// evenly over Window.
type RateLimitOptions struct {
	Requests int
	Window   time.Duration
	Now      func() time.Time
}

func (o RateLimitOptions) enabled() bool {
	return o.Requests > 0 && o.Window > 0
}

// RateLimit enforces a token bucket over all requests.
func RateLimit(opts RateLimitOptions) HTTPMiddleware {
	if !opts.enabled() {
		return nil
	}
	bucket := NewLimiter(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !bucket.Allow() {
				metrics.RateLimited.WithLabelValues("http").Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Limiter is a token bucket. It starts full.
type Limiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewLimiter returns a full bucket for opts.
func NewLimiter(opts RateLimitOptions) *Limiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	every := rate.Limit(float64(opts.Requests) / opts.Window.Seconds())
	return &Limiter{
		limiter: rate.NewLimiter(every, opts.Requests),
		now:     now,
	}
}

// Allow takes a token if one is available.
func (t *Limiter) Allow() bool {
	return t.limiter.AllowN(t.now(), 1)
}
