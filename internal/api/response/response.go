// Package response writes JSON bodies for the trainer HTTP APIs. Successful
// responses are written as-is; failures use a single error envelope.
package response

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Code is a machine-readable error code carried in the error envelope.
type Code string

const (
	CodeMissingName         Code = "MISSING_NAME"
	CodeEmptyPayload        Code = "EMPTY_PAYLOAD"
	CodePayloadTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeDispatchFailed      Code = "DISPATCH_FAILED"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeJobNotFound         Code = "JOB_NOT_FOUND"
	CodeMachineNotFound     Code = "MACHINE_NOT_FOUND"
	CodeDatabaseUnavailable Code = "DATABASE_UNAVAILABLE"
	CodeDegraded            Code = "DEGRADED"
	CodeRateLimited         Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeNotImplemented      Code = "NOT_IMPLEMENTED"
)

type apiError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with status 200.
func JSON(w http.ResponseWriter, data any) {
	Status(w, http.StatusOK, data)
}

// Status writes data with the given status code.
func Status(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.S().Warnw("failed to write response body", "status", status, "error", err)
	}
}

// Error writes {"error":{"code":...,"message":...,"details":...}}.
func Error(w http.ResponseWriter, status int, code Code, message string, details any) {
	Status(w, status, map[string]apiError{
		"error": {Code: code, Message: message, Details: details},
	})
}
