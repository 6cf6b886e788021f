package rules

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed rule descriptor.
type ValidationError struct {
	Path   string // e.g. "transforms[2].pattern"; empty for the whole descriptor
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid rule: " + e.Reason
	}
	return fmt.Sprintf("invalid rule: %s: %s", e.Path, e.Reason)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// withPath prefixes the path of a ValidationError.
func withPath(err error, prefix string) error {
	var v *ValidationError
	if !errors.As(err, &v) {
		return &ValidationError{Path: prefix, Reason: err.Error()}
	}
	path := prefix
	if v.Path != "" {
		path = prefix + "." + v.Path
	}
	return &ValidationError{Path: path, Reason: v.Reason}
}
