package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/logger"
)

// Recovery returns middleware that turns a handler panic into a logged 500
// instead of tearing down the connection. A panicking handler must not take
// the orchestrator's API down with it.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				cause := recover()
				if cause == nil {
					return
				}
				log.Error("Panic recovered",
					"error", cause,
					"path", r.URL.Path,
					"method", r.Method,
					"stack", string(debug.Stack()),
				)

				requestID := GetRequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}
				response.Error(w,
					http.StatusInternalServerError,
					response.ErrCodeInternalServer,
					fmt.Sprintf("Internal server error: %v", cause),
					requestID,
				)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
