package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrNoProvider is returned when no provider is configured.
	ErrNoProvider = errors.New("no llm provider configured")
	// ErrEmptyResponse is returned when a provider answers with no text.
	ErrEmptyResponse = errors.New("empty llm response")
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Type       ErrorType
	Provider   string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	parts := []string{e.Provider, string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ClassifyError wraps err in an *Error, using the provider SDK error types
// for the status code when available and the message otherwise.
func ClassifyError(err error, provider string) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if errors.Is(err, ErrEmptyResponse) {
		return &Error{Type: ErrorTypeModel, Provider: provider, Retryable: true, Cause: err}
	}

	status := statusCode(err)
	lower := strings.ToLower(err.Error())
	e := &Error{Type: ErrorTypeUnknown, Provider: provider, StatusCode: status, Cause: err}

	switch {
	case status == 401 || status == 403 || strings.Contains(lower, "invalid api key"):
		e.Type = ErrorTypeAuth
	case status == 404 || strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		e.Type = ErrorTypeModel
	case status == 429 || strings.Contains(lower, "rate limit"):
		e.Type, e.Retryable = ErrorTypeRateLimit, true
	case status >= 500:
		e.Type, e.Retryable = ErrorTypeEndpoint, true
	case strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"):
		e.Type, e.Retryable = ErrorTypeEndpoint, true
	}
	return e
}

func statusCode(err error) int {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		return oaAPI.HTTPStatusCode
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) {
		return oaReq.HTTPStatusCode
	}
	var anAPI *anthropic.APIError
	if errors.As(err, &anAPI) {
		switch {
		case anAPI.IsAuthenticationErr(), anAPI.IsPermissionErr():
			return 401
		case anAPI.IsNotFoundErr():
			return 404
		case anAPI.IsRateLimitErr():
			return 429
		case anAPI.IsOverloadedErr(), anAPI.IsApiErr():
			return 503
		}
	}
	var anReq *anthropic.RequestError
	if errors.As(err, &anReq) {
		return anReq.StatusCode
	}
	return 0
}
