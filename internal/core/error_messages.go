package core

// error_messages.go maps service errors to user-facing messages with codes
// for support reference. Users can quote the code to support staff.
//
// Typed errors are matched first with errors.Is / errors.As:
//
//	DOM001  Domain or resource not found        apperr.ErrNotFound
//	DOM002  Name already in use                 apperr.ErrConflict
//	RULE001 Rule definition is invalid          rules.ValidationError
//	FILE001 File could not be decoded           codec.DecodeError
//	REQ001  Request is invalid                  apperr.ErrInvalidInput
//	RUN001  Too many runs in progress           ErrTooManyRuns
//	RUN002  Run timed out                       apperr.ErrTimeout
//	RUN003  Run was cancelled                   apperr.ErrCancelled
//	DEP001  Blob storage unavailable            apperr.DependencyError{"blob"}
//	DEP002  Language model unavailable          apperr.DependencyError{"llm"}
//	AUTH001 Access denied                       apperr.ErrForbidden
//
// Untyped errors fall back to case-insensitive substring patterns:
//
//	DB001   Duplicate key                       "duplicate key", "violates unique"
//	DB002   Database unreachable                "connection refused", "connection reset"
//	DB003   Database busy                       "deadlock", "could not serialize"
//	RATE001 Rate limited                        "rate limit"
//
// Anything else is ERR000; check application logs for the technical error.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorKind matches a typed error.
type errorKind struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func dependency(name string) func(error) bool {
	return func(err error) bool {
		var dep *apperr.DependencyError
		return errors.As(err, &dep) && dep.Dependency == name
	}
}

// Order matters: the first match wins, so more specific kinds come first.
var errorKinds = []errorKind{
	{
		match: func(err error) bool { var v *rules.ValidationError; return errors.As(err, &v) },
		msg: UserMessage{
			Message: "The rule definition is invalid",
			Action:  "Fix the reported field and save the rule again",
			Code:    "RULE001",
		},
	},
	{
		match: func(err error) bool { var d *codec.DecodeError; return errors.As(err, &d) },
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Upload a CSV, TSV, TXT, XLSX or XLS file with a header row",
			Code:    "FILE001",
		},
	},
	{
		match: dependency("blob"),
		msg: UserMessage{
			Message: "File storage is unavailable",
			Action:  "Please try again in a few moments",
			Code:    "DEP001",
		},
	},
	{
		match: dependency("llm"),
		msg: UserMessage{
			Message: "The rule assistant is unavailable",
			Action:  "Write the rule definition by hand or try again later",
			Code:    "DEP002",
		},
	},
	{
		match: is(ErrTooManyRuns),
		msg: UserMessage{
			Message: "System is busy processing other runs",
			Action:  "Please wait a moment and try again",
			Code:    "RUN001",
		},
	},
	{
		match: is(apperr.ErrTimeout),
		msg: UserMessage{
			Message: "The run timed out",
			Action:  "Try a smaller file or fewer rules",
			Code:    "RUN002",
		},
	},
	{
		match: is(apperr.ErrCancelled),
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "RUN003",
		},
	},
	{
		match: is(apperr.ErrForbidden),
		msg: UserMessage{
			Message: "You do not have access to this resource",
			Action:  "Ask an administrator for access",
			Code:    "AUTH001",
		},
	},
	{
		match: is(apperr.ErrNotFound),
		msg: UserMessage{
			Message: "The requested resource was not found",
			Action:  "Check the identifier and try again",
			Code:    "DOM001",
		},
	},
	{
		match: is(apperr.ErrConflict),
		msg: UserMessage{
			Message: "That name is already in use",
			Action:  "Choose a different name",
			Code:    "DOM002",
		},
	},
	{
		match: is(apperr.ErrInvalidInput),
		msg: UserMessage{
			Message: "The request is invalid",
			Action:  "Check the request fields and try again",
			Code:    "REQ001",
		},
	},
}

// errorPattern maps a technical message substring to a user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "could not serialize",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Typed kinds are
// checked first, then message patterns, then the ERR000 fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if k.match(err) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError returns "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
