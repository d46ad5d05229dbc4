package response

import (
	"encoding/json"
	"net/http"

	"github.com/diagnosis/staybook/pkg/logger"
)

// Range is the allowed interval reported with an out-of-range field.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error     string      `json:"error"`
	Code      string      `json:"code,omitempty"`
	Details   string      `json:"details,omitempty"`
	Field     string      `json:"field,omitempty"`
	Allowed   *Range      `json:"allowed,omitempty"`
	Conflicts interface{} `json:"conflicts,omitempty"`
	Location  string      `json:"location,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// Write sends a fully populated error body.
func Write(w http.ResponseWriter, statusCode int, body ErrorResponse) {
	WriteJSON(w, statusCode, body)
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	Write(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteErrorWithDetails writes a structured JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code, details string) {
	Write(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// Common error codes
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeValidation     = "VALIDATION_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeUnavailable    = "DATES_UNAVAILABLE"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeNetwork        = "NETWORK_ERROR"
	CodePastDate       = "START_IN_PAST"
)

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

// SessionExpired tells the browser to sign in again at loginPath.
func SessionExpired(w http.ResponseWriter, message, loginPath string) {
	w.Header().Set("Location", loginPath)
	Write(w, http.StatusUnauthorized, ErrorResponse{Error: message, Code: CodeSessionExpired, Location: loginPath})
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message, CodeConflict)
}

// BadGateway reports an upstream failure. No automatic retry happens; the caller
// may retry.
func BadGateway(w http.ResponseWriter, message, code string) {
	WriteError(w, http.StatusBadGateway, message, code)
}
