package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Mapped to an HTTP status by error kind
//   - Returned to clients with a support code and an action suggestion
//
// The error flow:
//  1. Handler receives an error from the service
//  2. Calls s.respondError(w, r, err)
//  3. statusFor picks the HTTP status from the error kind
//  4. core.MapError supplies the user message and code
//  5. Technical error + request ID is logged for correlation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/core"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// StatusClientClosedRequest is the non-standard status for cancelled requests.
const StatusClientClosedRequest = 499

// errRateLimited is reported by the rate limit middleware.
var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	var decodeErr *codec.DecodeError
	switch {
	case errors.Is(err, core.ErrTooManyRuns), errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &decodeErr),
		rules.IsValidationError(err),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, apperr.ErrCancelled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes a JSON error response.
//
// Client errors carry the technical message in "error" since it names the
// offending field or resource. Server errors and 403 never leak details.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	detail := err.Error()
	switch {
	case status == http.StatusForbidden:
		detail = "Forbidden"
	case status >= http.StatusInternalServerError:
		detail = userMsg.Message
	}
	respondErrorJSON(w, ErrorResponse{
		Error:   detail,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}, status)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, body ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondErrorHTML writes a plain text error for browser pages.
func (s *Server) respondErrorHTML(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)
	logging.FromContext(r.Context()).Warn("page error",
		"path", r.URL.Path,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)
	http.Error(w, msg.Message+" ("+msg.Code+")", status)
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
