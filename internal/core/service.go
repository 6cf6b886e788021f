package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/blob"
	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
	"github.com/JonMunkholm/domainkeeper/internal/nlcompile"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// Run defaults.
const (
	DefaultRunTimeout    = 120 * time.Second
	DefaultMaxRowsPerRun = 20000
)

// Paging limits for preview, history and diff listings.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

const (
	maxNameLen        = 200
	maxDescriptionLen = 2000
)

// Deps are the collaborators a Service needs. Audit and Compiler may be nil.
type Deps struct {
	Store    store.Store
	Blobs    blob.Downloader
	Compiler *nlcompile.Compiler
	Audit    audit.Recorder
}

// Service implements domain, rule, ingest, clean and query operations.
// Every operation is scoped to the calling user's tenant.
type Service struct {
	store    store.Store
	blobs    blob.Downloader
	compiler *nlcompile.Compiler
	audit    audit.Recorder

	ingestCfg   config.IngestConfig
	compilerCfg config.CompilerConfig

	limiter *RunLimiter
	locks   *domainLocks
}

// NewService creates a Service. Zero config values fall back to defaults.
func NewService(deps Deps, ingestCfg config.IngestConfig, compilerCfg config.CompilerConfig) *Service {
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	if deps.Compiler == nil {
		deps.Compiler = nlcompile.New(nil, 0)
	}
	if ingestCfg.Timeout <= 0 {
		ingestCfg.Timeout = DefaultRunTimeout
	}
	if ingestCfg.MaxRowsPerRun <= 0 {
		ingestCfg.MaxRowsPerRun = DefaultMaxRowsPerRun
	}

	return &Service{
		store:       deps.Store,
		blobs:       deps.Blobs,
		compiler:    deps.Compiler,
		audit:       deps.Audit,
		ingestCfg:   ingestCfg,
		compilerCfg: compilerCfg,
		limiter:     NewRunLimiter(ingestCfg.MaxConcurrent, ingestCfg.MaxWaitTime),
		locks:       newDomainLocks(),
	}
}

// Limiter exposes the run limiter for status reporting and shutdown drain.
func (s *Service) Limiter() *RunLimiter {
	return s.limiter
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Drain waits for in-flight runs to finish or ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ============================================================================
// Access
// ============================================================================

// domainFor loads a domain and checks it belongs to the user's tenant.
// Missing domains and foreign domains are reported differently so the
// transport layer can answer 400 and 403.
func (s *Service) domainFor(ctx context.Context, user auth.User, id uuid.UUID) (store.Domain, error) {
	d, err := s.store.GetDomain(ctx, id)
	if err != nil {
		return store.Domain{}, err
	}
	if d.TenantID != user.TenantID {
		logging.FromContext(ctx).Warn("cross-tenant domain access",
			"domain_id", id,
			"user_id", user.ID,
		)
		return store.Domain{}, apperr.ErrForbidden
	}
	return d, nil
}

// writableDomain is domainFor plus a write permission check.
func (s *Service) writableDomain(ctx context.Context, user auth.User, id uuid.UUID) (store.Domain, error) {
	if err := requireWrite(user); err != nil {
		return store.Domain{}, err
	}
	return s.domainFor(ctx, user, id)
}

func requireWrite(user auth.User) error {
	if !user.Role.CanWrite() {
		return fmt.Errorf("role %q cannot modify data: %w", user.Role, apperr.ErrForbidden)
	}
	return nil
}

// record sends an audit entry. It never fails the caller.
func (s *Service) record(ctx context.Context, user auth.User, action audit.Action, resource, resourceID string, meta map[string]any) {
	s.audit.Record(ctx, audit.Entry{
		Action:     action,
		ActorID:    user.ID,
		TenantID:   user.TenantID,
		Resource:   resource,
		ResourceID: resourceID,
		Meta:       meta,
	})
}

// ============================================================================
// Domains
// ============================================================================

// CreateDomainInput is the body of a domain create.
type CreateDomainInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	BusinessKey []string `json:"business_key"`
}

// UpdateDomainInput is a partial domain update. Nil fields are left alone.
type UpdateDomainInput struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	BusinessKey *[]string `json:"business_key"`
}

// ListDomains returns the tenant's domains, newest first.
func (s *Service) ListDomains(ctx context.Context, user auth.User) ([]store.Domain, error) {
	return s.store.ListDomains(ctx, user.TenantID)
}

// GetDomain returns one domain of the user's tenant.
func (s *Service) GetDomain(ctx context.Context, user auth.User, id uuid.UUID) (store.Domain, error) {
	return s.domainFor(ctx, user, id)
}

// CreateDomain creates a domain. Names are unique per tenant.
func (s *Service) CreateDomain(ctx context.Context, user auth.User, in CreateDomainInput) (store.Domain, error) {
	if err := requireWrite(user); err != nil {
		return store.Domain{}, err
	}
	name, err := validName("name", in.Name)
	if err != nil {
		return store.Domain{}, err
	}
	if len(in.Description) > maxDescriptionLen {
		return store.Domain{}, apperr.Invalid("description exceeds %d characters", maxDescriptionLen)
	}
	bk, err := validBusinessKey(in.BusinessKey)
	if err != nil {
		return store.Domain{}, err
	}

	d, err := s.store.CreateDomain(ctx, store.Domain{
		TenantID:    user.TenantID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		BusinessKey: bk,
	})
	if err != nil {
		return store.Domain{}, fmt.Errorf("create domain: %w", err)
	}

	s.record(ctx, user, audit.ActionDomainCreate, "domain", d.ID.String(), map[string]any{
		"name":         d.Name,
		"business_key": d.BusinessKey,
	})
	return d, nil
}

// UpdateDomain applies a partial update.
func (s *Service) UpdateDomain(ctx context.Context, user auth.User, id uuid.UUID, in UpdateDomainInput) (store.Domain, error) {
	d, err := s.writableDomain(ctx, user, id)
	if err != nil {
		return store.Domain{}, err
	}

	changed := make(map[string]any)
	if in.Name != nil {
		name, err := validName("name", *in.Name)
		if err != nil {
			return store.Domain{}, err
		}
		d.Name = name
		changed["name"] = name
	}
	if in.Description != nil {
		if len(*in.Description) > maxDescriptionLen {
			return store.Domain{}, apperr.Invalid("description exceeds %d characters", maxDescriptionLen)
		}
		d.Description = strings.TrimSpace(*in.Description)
		changed["description"] = d.Description
	}
	if in.BusinessKey != nil {
		bk, err := validBusinessKey(*in.BusinessKey)
		if err != nil {
			return store.Domain{}, err
		}
		d.BusinessKey = bk
		changed["business_key"] = bk
	}

	updated, err := s.store.UpdateDomain(ctx, d)
	if err != nil {
		return store.Domain{}, fmt.Errorf("update domain: %w", err)
	}

	s.record(ctx, user, audit.ActionDomainUpdate, "domain", id.String(), changed)
	return updated, nil
}

// DeleteDomain removes a domain with all its data.
func (s *Service) DeleteDomain(ctx context.Context, user auth.User, id uuid.UUID) error {
	d, err := s.writableDomain(ctx, user, id)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return apperr.FromContext(err)
	}
	defer unlock()

	if err := s.store.DeleteDomain(ctx, id); err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}

	s.record(ctx, user, audit.ActionDomainDelete, "domain", id.String(), map[string]any{"name": d.Name})
	return nil
}

func validName(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Invalid("%s is required", field)
	}
	if len(s) > maxNameLen {
		return "", apperr.Invalid("%s exceeds %d characters", field, maxNameLen)
	}
	return s, nil
}

// validBusinessKey trims entries and rejects blanks and duplicates.
// An empty key is allowed: rows are then keyed by position.
func validBusinessKey(cols []string) ([]string, error) {
	out := make([]string, 0, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, apperr.Invalid("business_key[%d] is empty", i)
		}
		if slices.Contains(out, c) {
			return nil, apperr.Invalid("business_key column %q is repeated", c)
		}
		out = append(out, c)
	}
	return out, nil
}

// ============================================================================
// Rules
// ============================================================================

// CreateRuleInput is the body of a rule create.
type CreateRuleInput struct {
	Name       string           `json:"name"`
	Definition rules.Definition `json:"definition"`
}

// UpdateRuleInput is a partial rule update. Nil fields are left alone.
type UpdateRuleInput struct {
	Name       *string           `json:"name"`
	Status     *store.RuleStatus `json:"status"`
	Definition *rules.Definition `json:"definition"`
}

// ListRules returns the domain's rules, oldest first.
func (s *Service) ListRules(ctx context.Context, user auth.User, domainID uuid.UUID) ([]store.Rule, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, domainID)
}

// CreateRule validates and stores an enabled rule.
func (s *Service) CreateRule(ctx context.Context, user auth.User, domainID uuid.UUID, in CreateRuleInput) (store.Rule, error) {
	if _, err := s.writableDomain(ctx, user, domainID); err != nil {
		return store.Rule{}, err
	}
	name, err := validName("name", in.Name)
	if err != nil {
		return store.Rule{}, err
	}
	if err := rules.Validate(in.Definition); err != nil {
		return store.Rule{}, err
	}

	r, err := s.store.CreateRule(ctx, store.Rule{
		DomainID:   domainID,
		Name:       name,
		Status:     store.RuleEnabled,
		Definition: in.Definition,
		CreatedBy:  user.ID,
	})
	if err != nil {
		return store.Rule{}, fmt.Errorf("create rule: %w", err)
	}

	s.record(ctx, user, audit.ActionRuleCreate, "rule", r.ID.String(), map[string]any{
		"domain_id": domainID.String(),
		"name":      r.Name,
	})
	return r, nil
}

// UpdateRule applies a partial update. A new definition is validated before
// it is stored.
func (s *Service) UpdateRule(ctx context.Context, user auth.User, domainID, ruleID uuid.UUID, in UpdateRuleInput) (store.Rule, error) {
	if _, err := s.writableDomain(ctx, user, domainID); err != nil {
		return store.Rule{}, err
	}
	r, err := s.store.GetRule(ctx, domainID, ruleID)
	if err != nil {
		return store.Rule{}, err
	}

	changed := make(map[string]any)
	if in.Name != nil {
		name, err := validName("name", *in.Name)
		if err != nil {
			return store.Rule{}, err
		}
		r.Name = name
		changed["name"] = name
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return store.Rule{}, apperr.Invalid("status must be %q or %q", store.RuleEnabled, store.RuleDisabled)
		}
		r.Status = *in.Status
		changed["status"] = string(r.Status)
	}
	if in.Definition != nil {
		if err := rules.Validate(*in.Definition); err != nil {
			return store.Rule{}, err
		}
		r.Definition = *in.Definition
		changed["definition"] = true
	}

	updated, err := s.store.UpdateRule(ctx, r)
	if err != nil {
		return store.Rule{}, fmt.Errorf("update rule: %w", err)
	}

	changed["domain_id"] = domainID.String()
	s.record(ctx, user, audit.ActionRuleUpdate, "rule", ruleID.String(), changed)
	return updated, nil
}

// ============================================================================
// Versions and runs
// ============================================================================

// ListVersions returns the domain's versions, newest first.
func (s *Service) ListVersions(ctx context.Context, user auth.User, domainID uuid.UUID) ([]store.Version, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, domainID)
}

// ListRuns returns the domain's clean runs, newest first.
func (s *Service) ListRuns(ctx context.Context, user auth.User, domainID uuid.UUID) ([]store.RuleRun, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nil, err
	}
	return s.store.ListRuleRuns(ctx, domainID)
}

// ============================================================================
// Run control
// ============================================================================

// runExclusive executes fn with a run slot, the domain lock and the run
// timeout. Context errors are normalised to ErrTimeout and ErrCancelled.
func (s *Service) runExclusive(ctx context.Context, domainID uuid.UUID, fn func(ctx context.Context) error) error {
	if err := s.limiter.Acquire(ctx); err != nil {
		return apperr.FromContext(err)
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.ingestCfg.Timeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, domainID)
	if err != nil {
		return apperr.FromContext(err)
	}
	defer unlock()

	return apperr.FromContext(fn(ctx))
}

// normalizePage applies the default and maximum page size.
func normalizePage(p store.Page) store.Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
