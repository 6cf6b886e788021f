package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

func TestMapError(t *testing.T) {
	_, decodeErr := codec.Decode([]byte("x"), "data.pdf")
	_, ruleErr := rules.Parse([]byte(`{"transforms":[{"name":"nope"}]}`))

	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"rule validation", fmt.Errorf("create rule: %w", ruleErr), "RULE001"},
		{"decode error", decodeErr, "FILE001"},
		{"blob dependency", apperr.Dependency("blob", errors.New("disk gone")), "DEP001"},
		{"model dependency", apperr.Dependency("llm", errors.New("503")), "DEP002"},
		{"too many runs", fmt.Errorf("clean: %w", ErrTooManyRuns), "RUN001"},
		{"timeout", apperr.FromContext(context.DeadlineExceeded), "RUN002"},
		{"cancelled", apperr.FromContext(context.Canceled), "RUN003"},
		{"forbidden", apperr.ErrForbidden, "AUTH001"},
		{"not found", apperr.NotFound("domain", "42"), "DOM001"},
		{"conflict", apperr.Conflictf("domain %q already exists", "sales"), "DOM002"},
		{"invalid input", apperr.Invalid("name is required"), "REQ001"},
		{"duplicate key pattern", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"connection refused pattern", errors.New("dial tcp: connection refused"), "DB002"},
		{"deadlock pattern", errors.New("deadlock detected"), "DB003"},
		{"rate limit pattern", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError() returned incomplete message %+v", got)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(apperr.ErrForbidden)
	want := "You do not have access to this resource (Code: AUTH001). Ask an administrator for access"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(apperr.NotFound("rule", "1")) {
		t.Error("not found should be user facing")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("unknown errors should not be user facing")
	}
}
