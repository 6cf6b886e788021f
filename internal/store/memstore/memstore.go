// Package memstore is an in-memory store.Store.
//
// Transactions copy the state, run against the copy, and swap it in on
// success. Stored records are never mutated in place, so the copy only needs
// to duplicate the maps.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

type entry[T any] struct {
	seq int64
	val T
}

type historyKey struct {
	domain  uuid.UUID
	keyHash string
	version uuid.UUID
}

type state struct {
	seq      int64
	domains  map[uuid.UUID]entry[store.Domain]
	versions map[uuid.UUID]entry[store.Version]
	current  map[uuid.UUID]map[string]entry[store.CurrentRow]
	history  map[historyKey]entry[store.HistoryRow]
	rules    map[uuid.UUID]entry[store.Rule]
	runs     map[uuid.UUID]entry[store.RuleRun]
}

func newState() *state {
	return &state{
		domains:  map[uuid.UUID]entry[store.Domain]{},
		versions: map[uuid.UUID]entry[store.Version]{},
		current:  map[uuid.UUID]map[string]entry[store.CurrentRow]{},
		history:  map[historyKey]entry[store.HistoryRow]{},
		rules:    map[uuid.UUID]entry[store.Rule]{},
		runs:     map[uuid.UUID]entry[store.RuleRun]{},
	}
}

func (s *state) clone() *state {
	out := &state{
		seq:      s.seq,
		domains:  cloneMap(s.domains),
		versions: cloneMap(s.versions),
		current:  make(map[uuid.UUID]map[string]entry[store.CurrentRow], len(s.current)),
		history:  cloneMap(s.history),
		rules:    cloneMap(s.rules),
		runs:     cloneMap(s.runs),
	}
	for k, rows := range s.current {
		out.current[k] = cloneMap(rows)
	}
	return out
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sorted returns the values of m matching keep, ordered by insertion.
func sorted[K comparable, T any](m map[K]entry[T], keep func(T) bool, newestFirst bool) []T {
	items := make([]entry[T], 0, len(m))
	for _, e := range m {
		if keep == nil || keep(e.val) {
			items = append(items, e)
		}
	}
	slices.SortFunc(items, func(a, b entry[T]) int {
		if newestFirst {
			return cmp.Compare(b.seq, a.seq)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]T, len(items))
	for i, e := range items {
		out[i] = e.val
	}
	return out
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu    *sync.RWMutex // nil on a transactional view
	state *state
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		mu:    &sync.RWMutex{},
		state: newState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.mu != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	return fn(s.state)
}

func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.mu != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.state)
}

// WithTx runs fn on a copy of the state and commits it if fn succeeds.
// Writers block for the duration of the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.mu == nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// LockDomain is a no-op: transactions already hold the store lock.
func (s *Store) LockDomain(ctx context.Context, _ uuid.UUID) error { return ctx.Err() }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// ============================================================================
// Domains
// ============================================================================

func (s *Store) GetDomain(ctx context.Context, id uuid.UUID) (store.Domain, error) {
	var out store.Domain
	err := s.read(ctx, func(st *state) error {
		e, ok := st.domains[id]
		if !ok {
			return apperr.NotFound("domain", id.String())
		}
		out = cloneDomain(e.val)
		return nil
	})
	return out, err
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]store.Domain, error) {
	var out []store.Domain
	err := s.read(ctx, func(st *state) error {
		out = sorted(st.domains, func(d store.Domain) bool { return d.TenantID == tenantID }, true)
		for i := range out {
			out[i] = cloneDomain(out[i])
		}
		return nil
	})
	return out, err
}

func (s *Store) CreateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	err := s.write(ctx, func(st *state) error {
		if nameTaken(st, d.TenantID, d.Name, uuid.Nil) {
			return apperr.Conflictf("domain %q already exists", d.Name)
		}
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		if _, exists := st.domains[d.ID]; exists {
			return apperr.Conflictf("domain %s already exists", d.ID)
		}
		now := s.now()
		d.CreatedAt, d.UpdatedAt = now, now
		d = cloneDomain(d)
		st.domains[d.ID] = entry[store.Domain]{seq: st.next(), val: d}
		return nil
	})
	return cloneDomain(d), err
}

func (s *Store) UpdateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	err := s.write(ctx, func(st *state) error {
		e, ok := st.domains[d.ID]
		if !ok {
			return apperr.NotFound("domain", d.ID.String())
		}
		if nameTaken(st, e.val.TenantID, d.Name, d.ID) {
			return apperr.Conflictf("domain %q already exists", d.Name)
		}
		d.TenantID = e.val.TenantID
		d.CreatedAt = e.val.CreatedAt
		d.UpdatedAt = s.now()
		d = cloneDomain(d)
		st.domains[d.ID] = entry[store.Domain]{seq: e.seq, val: d}
		return nil
	})
	return cloneDomain(d), err
}

func (s *Store) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.domains[id]; !ok {
			return apperr.NotFound("domain", id.String())
		}
		delete(st.domains, id)
		delete(st.current, id)
		for k, e := range st.versions {
			if e.val.DomainID == id {
				delete(st.versions, k)
			}
		}
		for k := range st.history {
			if k.domain == id {
				delete(st.history, k)
			}
		}
		for k, e := range st.rules {
			if e.val.DomainID == id {
				delete(st.rules, k)
			}
		}
		for k, e := range st.runs {
			if e.val.DomainID == id {
				delete(st.runs, k)
			}
		}
		return nil
	})
}

func (s *Store) SetCurrentVersion(ctx context.Context, domainID, versionID uuid.UUID) error {
	return s.write(ctx, func(st *state) error {
		e, ok := st.domains[domainID]
		if !ok {
			return apperr.NotFound("domain", domainID.String())
		}
		if v, ok := st.versions[versionID]; !ok || v.val.DomainID != domainID {
			return apperr.NotFound("version", versionID.String())
		}
		id := versionID
		e.val.CurrentVersionID = &id
		e.val.UpdatedAt = s.now()
		st.domains[domainID] = e
		return nil
	})
}

func nameTaken(st *state, tenantID, name string, except uuid.UUID) bool {
	for id, e := range st.domains {
		if id != except && e.val.TenantID == tenantID && e.val.Name == name {
			return true
		}
	}
	return false
}

func cloneDomain(d store.Domain) store.Domain {
	d.BusinessKey = slices.Clone(d.BusinessKey)
	if d.CurrentVersionID != nil {
		id := *d.CurrentVersionID
		d.CurrentVersionID = &id
	}
	return d
}

// ============================================================================
// Versions
// ============================================================================

func (s *Store) InsertVersion(ctx context.Context, v store.Version) (store.Version, error) {
	err := s.write(ctx, func(st *state) error {
		if _, ok := st.domains[v.DomainID]; !ok {
			return apperr.NotFound("domain", v.DomainID.String())
		}
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.CreatedAt = s.now()
		v = cloneVersion(v)
		st.versions[v.ID] = entry[store.Version]{seq: st.next(), val: v}
		return nil
	})
	return cloneVersion(v), err
}

func (s *Store) GetVersion(ctx context.Context, domainID, versionID uuid.UUID) (store.Version, error) {
	var out store.Version
	err := s.read(ctx, func(st *state) error {
		e, ok := st.versions[versionID]
		if !ok || e.val.DomainID != domainID {
			return apperr.NotFound("version", versionID.String())
		}
		out = cloneVersion(e.val)
		return nil
	})
	return out, err
}

func (s *Store) LatestVersion(ctx context.Context, domainID uuid.UUID) (store.Version, error) {
	var out store.Version
	err := s.read(ctx, func(st *state) error {
		list := sorted(st.versions, func(v store.Version) bool { return v.DomainID == domainID }, true)
		if len(list) == 0 {
			return apperr.NotFound("version", "latest")
		}
		out = cloneVersion(list[0])
		return nil
	})
	return out, err
}

func (s *Store) ListVersions(ctx context.Context, domainID uuid.UUID) ([]store.Version, error) {
	var out []store.Version
	err := s.read(ctx, func(st *state) error {
		out = sorted(st.versions, func(v store.Version) bool { return v.DomainID == domainID }, true)
		for i := range out {
			out[i] = cloneVersion(out[i])
		}
		return nil
	})
	return out, err
}

func (s *Store) FinishVersion(ctx context.Context, domainID, versionID uuid.UUID, rowCount int, columns []string) (store.Version, error) {
	var out store.Version
	err := s.write(ctx, func(st *state) error {
		e, ok := st.versions[versionID]
		if !ok || e.val.DomainID != domainID {
			return apperr.NotFound("version", versionID.String())
		}
		e.val.RowCount = rowCount
		e.val.Columns = slices.Clone(columns)
		st.versions[versionID] = e
		out = cloneVersion(e.val)
		return nil
	})
	return out, err
}

func cloneVersion(v store.Version) store.Version {
	v.Columns = slices.Clone(v.Columns)
	if v.ImportSummary != nil {
		v.ImportSummary = cloneMap(v.ImportSummary)
	}
	return v
}

// ============================================================================
// Current rows
// ============================================================================

func (s *Store) FindCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string) (*store.CurrentRow, error) {
	var out *store.CurrentRow
	err := s.read(ctx, func(st *state) error {
		e, ok := st.current[domainID][keyHash]
		if ok {
			row := cloneCurrent(e.val)
			out = &row
		}
		return nil
	})
	return out, err
}

func (s *Store) InsertCurrentRow(ctx context.Context, row store.CurrentRow) error {
	return s.write(ctx, func(st *state) error {
		rows := st.current[row.DomainID]
		if rows == nil {
			rows = map[string]entry[store.CurrentRow]{}
			st.current[row.DomainID] = rows
		}
		if _, exists := rows[row.KeyHash]; exists {
			return apperr.Conflictf("current row %s", row.KeyHash)
		}
		row.UpdatedAt = s.now()
		rows[row.KeyHash] = entry[store.CurrentRow]{seq: st.next(), val: cloneCurrent(row)}
		return nil
	})
}

func (s *Store) UpdateCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string, patch record.Record) error {
	return s.write(ctx, func(st *state) error {
		e, ok := st.current[domainID][keyHash]
		if !ok {
			return apperr.NotFound("current row", keyHash)
		}
		merged := e.val.Record.Clone()
		for k, v := range patch {
			merged[k] = v
		}
		e.val.Record = merged
		e.val.UpdatedAt = s.now()
		st.current[domainID][keyHash] = e
		return nil
	})
}

func (s *Store) DeleteCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.current[domainID][keyHash]; !ok {
			return apperr.NotFound("current row", keyHash)
		}
		delete(st.current[domainID], keyHash)
		return nil
	})
}

func (s *Store) ListCurrentRows(ctx context.Context, domainID uuid.UUID, page store.Page) ([]store.CurrentRow, error) {
	var out []store.CurrentRow
	err := s.read(ctx, func(st *state) error {
		all := sorted(st.current[domainID], nil, false)
		start, end := page.Bounds(len(all))
		out = make([]store.CurrentRow, 0, end-start)
		for _, row := range all[start:end] {
			out = append(out, cloneCurrent(row))
		}
		return nil
	})
	return out, err
}

func (s *Store) CountCurrentRows(ctx context.Context, domainID uuid.UUID) (int, error) {
	var n int
	err := s.read(ctx, func(st *state) error {
		n = len(st.current[domainID])
		return nil
	})
	return n, err
}

func cloneCurrent(r store.CurrentRow) store.CurrentRow {
	r.KeyValues = r.KeyValues.Clone()
	r.Record = r.Record.Clone()
	return r
}

// ============================================================================
// History
// ============================================================================

func (s *Store) InsertHistoryRow(ctx context.Context, row store.HistoryRow) error {
	return s.write(ctx, func(st *state) error {
		k := historyKey{domain: row.DomainID, keyHash: row.KeyHash, version: row.SourceVersionID}
		if _, exists := st.history[k]; exists {
			return nil
		}
		row.CreatedAt = s.now()
		row.KeyValues = row.KeyValues.Clone()
		row.Record = row.Record.Clone()
		st.history[k] = entry[store.HistoryRow]{seq: st.next(), val: row}
		return nil
	})
}

func (s *Store) ListHistoryRows(ctx context.Context, domainID, versionID uuid.UUID, page store.Page) ([]store.HistoryRow, error) {
	var out []store.HistoryRow
	err := s.read(ctx, func(st *state) error {
		all := sorted(st.history, func(h store.HistoryRow) bool {
			return h.DomainID == domainID && h.SourceVersionID == versionID
		}, false)
		start, end := page.Bounds(len(all))
		out = make([]store.HistoryRow, 0, end-start)
		for _, h := range all[start:end] {
			h.KeyValues = h.KeyValues.Clone()
			h.Record = h.Record.Clone()
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// ============================================================================
// Rules and runs
// ============================================================================

func (s *Store) ListRules(ctx context.Context, domainID uuid.UUID) ([]store.Rule, error) {
	return s.listRules(ctx, func(r store.Rule) bool { return r.DomainID == domainID })
}

func (s *Store) ListEnabledRules(ctx context.Context, domainID uuid.UUID) ([]store.Rule, error) {
	return s.listRules(ctx, func(r store.Rule) bool {
		return r.DomainID == domainID && r.Status == store.RuleEnabled
	})
}

func (s *Store) listRules(ctx context.Context, keep func(store.Rule) bool) ([]store.Rule, error) {
	var out []store.Rule
	err := s.read(ctx, func(st *state) error {
		out = sorted(st.rules, keep, false)
		return nil
	})
	return out, err
}

func (s *Store) GetRule(ctx context.Context, domainID, ruleID uuid.UUID) (store.Rule, error) {
	var out store.Rule
	err := s.read(ctx, func(st *state) error {
		e, ok := st.rules[ruleID]
		if !ok || e.val.DomainID != domainID {
			return apperr.NotFound("rule", ruleID.String())
		}
		out = e.val
		return nil
	})
	return out, err
}

func (s *Store) CreateRule(ctx context.Context, r store.Rule) (store.Rule, error) {
	err := s.write(ctx, func(st *state) error {
		if _, ok := st.domains[r.DomainID]; !ok {
			return apperr.NotFound("domain", r.DomainID.String())
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.Status == "" {
			r.Status = store.RuleEnabled
		}
		now := s.now()
		r.CreatedAt, r.UpdatedAt = now, now
		st.rules[r.ID] = entry[store.Rule]{seq: st.next(), val: r}
		return nil
	})
	return r, err
}

func (s *Store) UpdateRule(ctx context.Context, r store.Rule) (store.Rule, error) {
	err := s.write(ctx, func(st *state) error {
		e, ok := st.rules[r.ID]
		if !ok || e.val.DomainID != r.DomainID {
			return apperr.NotFound("rule", r.ID.String())
		}
		r.CreatedBy = e.val.CreatedBy
		r.CreatedAt = e.val.CreatedAt
		r.UpdatedAt = s.now()
		st.rules[r.ID] = entry[store.Rule]{seq: e.seq, val: r}
		return nil
	})
	return r, err
}

func (s *Store) InsertRuleRun(ctx context.Context, rr store.RuleRun) (store.RuleRun, error) {
	err := s.write(ctx, func(st *state) error {
		if rr.ID == uuid.Nil {
			rr.ID = uuid.New()
		}
		st.runs[rr.ID] = entry[store.RuleRun]{seq: st.next(), val: rr}
		return nil
	})
	return rr, err
}

func (s *Store) ListRuleRuns(ctx context.Context, domainID uuid.UUID) ([]store.RuleRun, error) {
	var out []store.RuleRun
	err := s.read(ctx, func(st *state) error {
		out = sorted(st.runs, func(rr store.RuleRun) bool { return rr.DomainID == domainID }, true)
		return nil
	})
	return out, err
}
