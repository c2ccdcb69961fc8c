package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeNotFound            = "not_found"
	ErrCodeUnauthorized        = "unauthorised"
	ErrCodeForbidden           = "forbidden"
	ErrCodeConflict            = "conflict"
	ErrCodeInternal            = "internal_error"
	ErrCodeValidation          = "validation_error"
	ErrCodeRegistryLoading     = "registry_loading"
	ErrCodeRegistryUnavailable = "registry_unavailable"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeRateLimited         = "rate_limited"
)

// Retry-After values for registry states.
const (
	retryAfterLoading     = 1 * time.Second
	retryAfterUnavailable = 5 * time.Second
)

// machineNotFoundMessage is shown for malformed paths and unknown machines alike.
const machineNotFoundMessage = "machine not found; expected /<nnnn>(-<nnnn>)*/..."

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 error for a request that decoded but
// failed domain validation.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUpstreamUnavailable writes a 503 for a disabled or failing external system.
func writeUpstreamUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, message)
}

// writeMachineNotFound writes the single not-found response used for
// malformed paths, unknown numbers and disabled sections.
func writeMachineNotFound(w http.ResponseWriter) {
	writeNotFound(w, machineNotFoundMessage)
}

// writeRegistryLoading writes a 503 asking the client to retry shortly.
func writeRegistryLoading(w http.ResponseWriter) {
	setRetryAfter(w, retryAfterLoading)
	writeError(w, http.StatusServiceUnavailable, ErrCodeRegistryLoading, "machine registry is loading")
}

// writeRegistryUnavailable writes a 503 for a failed registry load.
func writeRegistryUnavailable(w http.ResponseWriter) {
	setRetryAfter(w, retryAfterUnavailable)
	writeError(w, http.StatusServiceUnavailable, ErrCodeRegistryUnavailable, "machine registry unavailable")
}

// writeRegistryError maps machine lookup errors to responses. It reports
// false when err is not a registry or lookup error and the caller must
// handle it.
func writeRegistryError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, machine.ErrRegistryLoading):
		writeRegistryLoading(w)
	case errors.Is(err, machine.ErrRegistryUnavailable):
		writeRegistryUnavailable(w)
	case errors.Is(err, machine.ErrMachineNotFound):
		writeMachineNotFound(w)
	default:
		return false
	}
	return true
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())))
}
