// Package audit records who changed which domain, rule or dataset, and when.
//
// Entries are queued on a Writer and persisted in batches by a Sink so that
// request handlers never wait on the audit table. A Scheduler periodically
// moves old entries from the hot table to the archive and purges the archive
// past its retention window.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action represents the type of action being audited.
type Action string

const (
	ActionDomainCreate Action = "domain_create"
	ActionDomainUpdate Action = "domain_update"
	ActionDomainDelete Action = "domain_delete"
	ActionRuleCreate   Action = "rule_create"
	ActionRuleUpdate   Action = "rule_update"
	ActionIngest       Action = "ingest"
	ActionClean        Action = "clean"
)

// Severity represents the severity level of an audit entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is a single audit log entry.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	Action     Action         `json:"action"`
	Severity   Severity       `json:"severity"`
	ActorID    string         `json:"actor_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action Action) Severity {
	switch action {
	case ActionIngest, ActionClean:
		return SeverityHigh
	case ActionDomainDelete:
		return SeverityCritical
	case ActionRuleCreate, ActionRuleUpdate:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Recorder accepts audit entries. Implementations must not block callers.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) {}

// Sink persists batches of entries and answers queries over them.
type Sink interface {
	Insert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, f Filter) (*Result, error)
}

// Filter narrows an audit query. Zero fields are ignored.
type Filter struct {
	TenantID  string
	Action    Action
	Severity  Severity
	Resource  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// DefaultLimit is the page size used when Filter.Limit is unset.
const DefaultLimit = 50

// Result contains the result of an audit log query.
type Result struct {
	Entries    []Entry `json:"entries"`
	TotalCount int64   `json:"total_count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
}

func newResult(entries []Entry, total int64, f Filter) *Result {
	page := (f.Offset / f.Limit) + 1
	totalPages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	if totalPages < 1 {
		totalPages = 1
	}
	return &Result{
		Entries:    entries,
		TotalCount: total,
		Page:       page,
		PageSize:   f.Limit,
		TotalPages: totalPages,
	}
}

// normalize applies the default limit and an open time range.
func (f Filter) normalize(now time.Time) Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.StartTime.IsZero() {
		f.StartTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if f.EndTime.IsZero() {
		f.EndTime = now.Add(24 * time.Hour)
	}
	return f
}
