// Package httputil holds shared helpers for the HTTP transport layer so
// handlers stay thin and consistent.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "tillsync/pkg/domain-errors"
	"tillsync/pkg/platform/sentinel"
)

// ErrorResponse is the JSON shape returned for every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps domain and sentinel errors onto HTTP statuses. Unknown
// errors become 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := statusFor(code)

	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	} else if errors.Is(err, sentinel.ErrNotFound) {
		code, status, message = dErrors.CodeNotFound, http.StatusNotFound, "not found"
	} else if errors.Is(err, sentinel.ErrUnreachable) || errors.Is(err, sentinel.ErrUnavailable) {
		code, status, message = dErrors.CodeUnavailable, http.StatusServiceUnavailable, "temporarily unavailable"
	}

	WriteJSON(w, status, ErrorResponse{Code: string(code), Message: message})
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads the request body into T, writing a 400 response and returning
// ok=false on malformed input.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("malformed request body", "path", r.URL.Path, "error", err)
		WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed request body"))
		var zero T
		return zero, false
	}
	return req, true
}
