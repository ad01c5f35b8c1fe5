package response

import (
	"errors"
	"net/http"
	"time"
)

// Severity classifies error responses for operators.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ErrorBody is the uniform error response envelope.
type ErrorBody struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	SagaID    string    `json:"sagaId,omitempty"`
	StepID    string    `json:"stepId,omitempty"`
	ErrorCode string    `json:"errorCode"`
	Severity  Severity  `json:"severity"`
	RequestID string    `json:"requestId,omitempty"`
}

// Error codes used across the API surface.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "SAGA_NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeConflict         = "CONCURRENT_MODIFICATION"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
	ErrCodeUnavailable      = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout          = "GATEWAY_TIMEOUT"
)

// Common sentinel errors.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("resource conflict")
	ErrUnavailable      = errors.New("service unavailable")
	ErrTimeout          = errors.New("request timeout")
)

// HTTPStatusFromError maps common errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllowed
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusServiceUnavailable:
		return ErrCodeUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeTimeout
	default:
		return ErrCodeInternalServer
	}
}

// SeverityFromStatus buckets HTTP status codes into operator severities.
// Client errors are routine; conflicts and rate limits warrant a look;
// server errors are serious.
func SeverityFromStatus(status int) Severity {
	switch {
	case status == http.StatusConflict, status == http.StatusTooManyRequests:
		return SeverityMedium
	case status >= 500 && status != http.StatusInternalServerError:
		return SeverityHigh
	case status == http.StatusInternalServerError:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// HandleError maps err onto the uniform error body and writes it.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	Error(w, status, ErrorCodeFromStatus(status), err.Error(), requestID)
}
