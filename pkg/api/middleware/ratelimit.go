package middleware

import (
	"net"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/ratelimit"
)

// ClientID derives the rate-limit identity of a request: the X-Client-ID
// header when present, otherwise the remote IP.
func ClientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests that exceed the per-client windows with 429.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			if err := limiter.Allow(ClientID(r)); err != nil {
				response.Error(w, http.StatusTooManyRequests,
					response.ErrCodeRateLimited, "rate limit exceeded",
					GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GlobalRateLimit caps the aggregate request rate across all clients.
func GlobalRateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusTooManyRequests,
				response.ErrCodeRateLimited, "server is over capacity",
				GetRequestID(r.Context()))
		})
	}
}
