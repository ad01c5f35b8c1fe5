// Package response provides HTTP response utilities.
package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; nothing useful left to do.
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		}
	}
}

// Error writes the uniform error body with the given status and code.
func Error(w http.ResponseWriter, statusCode int, code, message string, requestID string) {
	JSON(w, statusCode, ErrorBody{
		Timestamp: time.Now().UTC(),
		Status:    statusCode,
		Error:     http.StatusText(statusCode),
		Message:   message,
		ErrorCode: code,
		Severity:  SeverityFromStatus(statusCode),
		RequestID: requestID,
	})
}

// SagaError writes the uniform error body annotated with saga and step ids.
func SagaError(w http.ResponseWriter, statusCode int, code, message, sagaID, stepID, requestID string) {
	JSON(w, statusCode, ErrorBody{
		Timestamp: time.Now().UTC(),
		Status:    statusCode,
		Error:     http.StatusText(statusCode),
		Message:   message,
		SagaID:    sagaID,
		StepID:    stepID,
		ErrorCode: code,
		Severity:  SeverityFromStatus(statusCode),
		RequestID: requestID,
	})
}
