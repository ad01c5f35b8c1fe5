package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/sagaforge/sagaforge/pkg/api/response"
)

// BasicAuth guards administrative endpoints with HTTP basic auth. Empty
// credentials disable the check so development setups stay open.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username == "" && password == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			if !ok || !userOK || !passOK {
				w.Header().Set("WWW-Authenticate", `Basic realm="sagaforge"`)
				response.Error(w, http.StatusUnauthorized,
					response.ErrCodeUnauthorized, "authentication required",
					GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
