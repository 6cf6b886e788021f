// Package store defines the persistence contract and the entities it holds.
//
// Implementations live in subpackages: memstore keeps everything in process
// memory, postgres uses pgx. Both return apperr.ErrNotFound for missing
// entities and apperr.ErrConflict for uniqueness violations.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// Domain is a tenant-scoped table whose rows are identified by its business key.
type Domain struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	BusinessKey      []string   `json:"business_key"`
	CurrentVersionID *uuid.UUID `json:"current_version_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Version is an immutable label for one ingest or clean run.
type Version struct {
	ID            uuid.UUID      `json:"id"`
	DomainID      uuid.UUID      `json:"domain_id"`
	FilePath      string         `json:"file_path,omitempty"`
	RowCount      int            `json:"row_count"`
	Columns       []string       `json:"columns"`
	ImportSummary map[string]any `json:"import_summary"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Action returns import_summary.action, or "" for ingests that omit it.
func (v Version) Action() string {
	a, _ := v.ImportSummary["action"].(string)
	return a
}

// CurrentRow is the latest state of one keyed row.
type CurrentRow struct {
	DomainID  uuid.UUID     `json:"domain_id"`
	KeyHash   string        `json:"key_hash"`
	KeyValues record.Record `json:"key_values"`
	Record    record.Record `json:"record"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HistoryRow is an append-only snapshot of a row as of SourceVersionID.
type HistoryRow struct {
	DomainID        uuid.UUID     `json:"domain_id"`
	KeyHash         string        `json:"key_hash"`
	KeyValues       record.Record `json:"key_values"`
	Record          record.Record `json:"record"`
	SourceVersionID uuid.UUID     `json:"source_version_id"`
	CreatedAt       time.Time     `json:"created_at"`
}

// RuleStatus toggles a rule.
type RuleStatus string

const (
	RuleEnabled  RuleStatus = "enabled"
	RuleDisabled RuleStatus = "disabled"
)

// Valid reports whether s is a known status.
func (s RuleStatus) Valid() bool { return s == RuleEnabled || s == RuleDisabled }

// Rule is a named descriptor attached to a domain.
type Rule struct {
	ID         uuid.UUID        `json:"id"`
	DomainID   uuid.UUID        `json:"domain_id"`
	Name       string           `json:"name"`
	Status     RuleStatus       `json:"status"`
	Definition rules.Definition `json:"definition"`
	CreatedBy  string           `json:"created_by"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RunStatus is the terminal state of a clean run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RuleRun records one clean run.
type RuleRun struct {
	ID              uuid.UUID      `json:"id"`
	DomainID        uuid.UUID      `json:"domain_id"`
	InputVersionID  *uuid.UUID     `json:"input_version_id"`
	OutputVersionID uuid.UUID      `json:"output_version_id"`
	Status          RunStatus      `json:"status"`
	Metrics         map[string]any `json:"metrics"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// Page bounds a listing. Limit <= 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// Bounds returns the [start, end) slice window for n items.
func (p Page) Bounds(n int) (int, int) {
	start := max(p.Offset, 0)
	if start > n {
		start = n
	}
	end := n
	if p.Limit > 0 && start+p.Limit < n {
		end = start + p.Limit
	}
	return start, end
}

// Store is the persistence contract used by the service layer.
//
// Tenant scoping is enforced by callers: lookups are by id and the service
// checks Domain.TenantID against the requesting user.
type Store interface {
	GetDomain(ctx context.Context, id uuid.UUID) (Domain, error)
	// ListDomains returns the tenant's domains, newest first.
	ListDomains(ctx context.Context, tenantID string) ([]Domain, error)
	// CreateDomain fails with ErrConflict when the name is taken within the tenant.
	CreateDomain(ctx context.Context, d Domain) (Domain, error)
	UpdateDomain(ctx context.Context, d Domain) (Domain, error)
	// DeleteDomain removes the domain with its versions, rows, history, rules and runs.
	DeleteDomain(ctx context.Context, id uuid.UUID) error
	SetCurrentVersion(ctx context.Context, domainID, versionID uuid.UUID) error

	InsertVersion(ctx context.Context, v Version) (Version, error)
	GetVersion(ctx context.Context, domainID, versionID uuid.UUID) (Version, error)
	// LatestVersion returns the most recently created version or ErrNotFound.
	LatestVersion(ctx context.Context, domainID uuid.UUID) (Version, error)
	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, domainID uuid.UUID) ([]Version, error)
	// FinishVersion records the row count and columns a run ended with.
	FinishVersion(ctx context.Context, domainID, versionID uuid.UUID, rowCount int, columns []string) (Version, error)

	// FindCurrentRow returns nil without error when the key is absent.
	FindCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string) (*CurrentRow, error)
	// InsertCurrentRow fails with ErrConflict when (domain, key_hash) exists.
	InsertCurrentRow(ctx context.Context, row CurrentRow) error
	// UpdateCurrentRow merges patch into the stored record and stamps updated_at.
	UpdateCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string, patch record.Record) error
	DeleteCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string) error
	// ListCurrentRows returns rows in insertion order.
	ListCurrentRows(ctx context.Context, domainID uuid.UUID, page Page) ([]CurrentRow, error)
	CountCurrentRows(ctx context.Context, domainID uuid.UUID) (int, error)

	// InsertHistoryRow is a no-op when (domain, key_hash, source_version) exists.
	InsertHistoryRow(ctx context.Context, row HistoryRow) error
	// ListHistoryRows returns one version's snapshots in insertion order.
	ListHistoryRows(ctx context.Context, domainID, versionID uuid.UUID, page Page) ([]HistoryRow, error)

	// ListRules returns all rules, oldest first.
	ListRules(ctx context.Context, domainID uuid.UUID) ([]Rule, error)
	// ListEnabledRules returns enabled rules, oldest first.
	ListEnabledRules(ctx context.Context, domainID uuid.UUID) ([]Rule, error)
	GetRule(ctx context.Context, domainID, ruleID uuid.UUID) (Rule, error)
	CreateRule(ctx context.Context, r Rule) (Rule, error)
	UpdateRule(ctx context.Context, r Rule) (Rule, error)

	InsertRuleRun(ctx context.Context, rr RuleRun) (RuleRun, error)
	// ListRuleRuns returns runs newest first.
	ListRuleRuns(ctx context.Context, domainID uuid.UUID) ([]RuleRun, error)

	// WithTx runs fn against a transactional view. fn's error rolls back.
	// Calling WithTx on a transactional view joins the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	// LockDomain serializes writers on a domain until the enclosing
	// transaction ends. Outside a transaction it is a no-op.
	LockDomain(ctx context.Context, domainID uuid.UUID) error

	Ping(ctx context.Context) error
}
