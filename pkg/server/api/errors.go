package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/queue"
	"github.com/resumind/resumind/pkg/stream"
)

// ErrorResponse represents a standard JSON error response.
// Used consistently across all API endpoints for error responses.
//
// Example:
//
//	{
//	  "error": "Not Found",
//	  "code": "NOT_FOUND",
//	  "message": "job not found: 42"
//	}
type ErrorResponse struct {
	Error   string `json:"error"`             // Short error type (e.g., "Not Found", "Internal Server Error")
	Code    string `json:"code,omitempty"`    // Machine-readable code
	Message string `json:"message,omitempty"` // Detailed error message (optional)
}

// ValidationError is a lightweight error used for 400 responses.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation failed"
	}
	if e.Reason == "" {
		return e.Field + ": invalid"
	}
	return e.Field + ": " + e.Reason
}

// classify maps an error to an HTTP status, error type and code:
//   - queue.ErrNotFound, stream.ErrConnectionNotFound → 404
//   - queue.ErrInvalidPayload, *ValidationError, queue.ErrInvalidStatus → 400
//   - queue.ErrNotRetryable → 409
//   - queue.ErrTransientDispatch → 503
//   - context.DeadlineExceeded → 504
//   - anything else → 500
func classify(err error) (int, string, string) {
	var verr *ValidationError
	switch {
	case queue.IsNotFound(err), errors.Is(err, stream.ErrConnectionNotFound):
		return http.StatusNotFound, "Not Found", "NOT_FOUND"
	case errors.As(err, &verr), queue.IsInvalidPayload(err):
		return http.StatusBadRequest, "Bad Request", "INVALID_REQUEST"
	case errors.Is(err, queue.ErrInvalidStatus):
		return http.StatusBadRequest, "Bad Request", "INVALID_STATUS"
	case errors.Is(err, queue.ErrNotRetryable):
		return http.StatusConflict, "Conflict", "NOT_RETRYABLE"
	case queue.IsTransient(err):
		return http.StatusServiceUnavailable, "Service Unavailable", "STORE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Gateway Timeout", "TIMEOUT"
	default:
		return http.StatusInternalServerError, "Internal Server Error", "INTERNAL"
	}
}

// StatusCode returns the HTTP status WriteError would use for err.
func StatusCode(err error) int {
	code, _, _ := classify(err)
	return code
}

// WriteError writes a standard JSON error response to the client, choosing
// the status code from the error type. It also logs the error with
// structured logging for observability.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorType, code := classify(err)

	// Log the error with context
	logEvent := log.Error()
	if statusCode < http.StatusInternalServerError {
		logEvent = log.Warn()
	}
	logEvent.
		Str("component", "api").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", statusCode).
		Err(err)

	switch statusCode {
	case http.StatusNotFound:
		logEvent.Msg("Resource not found")
	case http.StatusBadRequest:
		logEvent.Msg("Invalid request")
	default:
		logEvent.Msg("Request failed")
	}

	WriteJSONError(w, statusCode, errorType, code, err.Error())
}

// WriteJSONError writes a custom JSON error response with a specific status code.
// Use this when you need fine-grained control over the error response.
//
// Example:
//
//	WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_REQUEST_BODY", "name is required")
func WriteJSONError(w http.ResponseWriter, statusCode int, errorType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   errorType,
		Code:    code,
		Message: message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode error response")
	}
}

// WriteJSON writes a JSON response to the client.
// Use this for successful API responses.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode JSON response")
	}
}
