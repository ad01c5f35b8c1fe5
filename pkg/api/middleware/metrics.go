package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsRecorder receives HTTP observations; the metrics Manager
// implements it.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics returns middleware that records one observation per request.
// Requests to the scrape endpoint itself are not counted. A panicking
// handler is still recorded as a 500 before the panic continues to the
// Recovery middleware.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			record := func() {
				recorder.RecordHTTPRequest(
					r.Method,
					collapseIDs(r.URL.Path),
					strconv.Itoa(wrapped.statusCode),
					time.Since(start),
				)
			}
			defer func() {
				if cause := recover(); cause != nil {
					wrapped.statusCode = http.StatusInternalServerError
					record()
					panic(cause)
				}
			}()

			next.ServeHTTP(wrapped, r)
			record()
		})
	}
}

// metricsResponseWriter keeps the first status written.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// collapseIDs bounds label cardinality by folding saga and correlation IDs
// in the path down to a placeholder. Saga IDs are UUIDs; numeric segments
// cover externally chosen correlation IDs.
func collapseIDs(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if isUUID(segment) {
			segments[i] = ":id"
			continue
		}
		if _, err := strconv.Atoi(segment); err == nil && segment != "" {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isUUID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}
