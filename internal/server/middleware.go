package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter implements a token bucket rate limiter per IP address
type RateLimiter struct {
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
	rateLimit rate.Limit // Requests per second
	burstSize int        // Maximum burst size
}

// NewRateLimiter creates a new rate limiter
// rateLimit: requests per second
// burstSize: maximum number of requests allowed in a burst
func NewRateLimiter(rateLimit rate.Limit, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rateLimit,
		burstSize: burstSize,
	}
}

// GetLimiter returns the rate limiter for a given IP address
// Creates a new limiter for the IP if one doesn't exist
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rateLimit, rl.burstSize)
		rl.limiters[ip] = limiter
	}

	return limiter
}

// NewRateLimitMiddleware creates per-IP rate limiting middleware
// rps: sustained requests per second, burst: bucket size.
// name labels log lines and the rate limit metric.
func NewRateLimitMiddleware(name string, rps float64, burst int, logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !limiter.GetLimiter(ip).Allow() {
				logger.Warn("Rate limit exceeded", "limiter", name, "ip", ip, "path", r.URL.Path)
				if metrics != nil {
					metrics.recordRateLimitHit(name)
				}
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr (RealIP has already replaced it
// with the forwarded address when one is present)
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// requestLogger logs every request and records its metrics under the
// matched chi route pattern
func requestLogger(logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				duration := time.Since(start)
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"duration_ms", duration.Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()))

				if metrics != nil {
					route := "unmatched"
					if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
						route = rctx.RoutePattern()
					}
					metrics.recordRequest(r.Method, route, status, duration)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
