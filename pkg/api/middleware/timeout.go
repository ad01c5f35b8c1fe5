package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/sagaforge/sagaforge/pkg/api/response"
)

// Timeout returns middleware that bounds how long a request may run. The
// handler runs on its own goroutine with a deadline-carrying context;
// synchronous saga execution sees the deadline through that context and
// aborts the run.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				requestID := GetRequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}
				response.Error(w,
					http.StatusGatewayTimeout,
					response.ErrCodeTimeout,
					"Request timeout",
					requestID,
				)
			}
		})
	}
}
