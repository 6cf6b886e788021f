package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/domainkeeper/internal/store"
)

const ruleColumns = `id, domain_id, name, status, definition, created_by, created_at, updated_at`

func scanRule(row pgx.Row) (store.Rule, error) {
	var (
		r   store.Rule
		def []byte
	)
	if err := row.Scan(&r.ID, &r.DomainID, &r.Name, &r.Status, &def, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return store.Rule{}, err
	}
	if err := json.Unmarshal(def, &r.Definition); err != nil {
		return store.Rule{}, fmt.Errorf("rule %s definition: %w", r.ID, err)
	}
	return r, nil
}

func (s *Store) listRules(ctx context.Context, query string, domainID uuid.UUID) ([]store.Rule, error) {
	rows, err := s.db.Query(ctx, query, domainID)
	if err != nil {
		return nil, translate(err, "rules", domainID.String())
	}
	list, err := collect(rows, scanRule)
	return list, translate(err, "rules", domainID.String())
}

func (s *Store) ListRules(ctx context.Context, domainID uuid.UUID) ([]store.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE domain_id = $1 ORDER BY seq`, domainID)
}

func (s *Store) ListEnabledRules(ctx context.Context, domainID uuid.UUID) ([]store.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE domain_id = $1 AND status = 'enabled' ORDER BY seq`, domainID)
}

func (s *Store) GetRule(ctx context.Context, domainID, ruleID uuid.UUID) (store.Rule, error) {
	r, err := scanRule(s.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE domain_id = $1 AND id = $2`, domainID, ruleID))
	return r, translate(err, "rule", ruleID.String())
}

func (s *Store) CreateRule(ctx context.Context, r store.Rule) (store.Rule, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = store.RuleEnabled
	}
	def, err := marshalJSON(r.Definition)
	if err != nil {
		return store.Rule{}, err
	}
	out, err := scanRule(s.db.QueryRow(ctx, `
		INSERT INTO rules (id, domain_id, name, status, definition, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+ruleColumns,
		r.ID, r.DomainID, r.Name, string(r.Status), def, r.CreatedBy))
	if err != nil {
		return store.Rule{}, translate(err, "domain", r.DomainID.String())
	}
	return out, nil
}

func (s *Store) UpdateRule(ctx context.Context, r store.Rule) (store.Rule, error) {
	def, err := marshalJSON(r.Definition)
	if err != nil {
		return store.Rule{}, err
	}
	out, err := scanRule(s.db.QueryRow(ctx, `
		UPDATE rules
		SET name = $3, status = $4, definition = $5, updated_at = now()
		WHERE domain_id = $1 AND id = $2
		RETURNING `+ruleColumns,
		r.DomainID, r.ID, r.Name, string(r.Status), def))
	return out, translate(err, "rule", r.ID.String())
}

// ============================================================================
// Rule runs
// ============================================================================

func (s *Store) InsertRuleRun(ctx context.Context, rr store.RuleRun) (store.RuleRun, error) {
	if rr.ID == uuid.Nil {
		rr.ID = uuid.New()
	}
	if rr.Metrics == nil {
		rr.Metrics = map[string]any{}
	}
	metrics, err := marshalJSON(rr.Metrics)
	if err != nil {
		return store.RuleRun{}, err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO rule_runs (id, domain_id, input_version_id, output_version_id, status, metrics, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rr.ID, rr.DomainID, rr.InputVersionID, rr.OutputVersionID, string(rr.Status),
		metrics, rr.Error, rr.StartedAt, rr.FinishedAt)
	if err != nil {
		return store.RuleRun{}, translate(err, "rule run", rr.ID.String())
	}
	return rr, nil
}

func (s *Store) ListRuleRuns(ctx context.Context, domainID uuid.UUID) ([]store.RuleRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, domain_id, input_version_id, output_version_id, status, metrics, error, started_at, finished_at
		FROM rule_runs WHERE domain_id = $1 ORDER BY seq DESC`, domainID)
	if err != nil {
		return nil, translate(err, "rule runs", domainID.String())
	}
	list, err := collect(rows, func(row pgx.Row) (store.RuleRun, error) {
		var (
			rr      store.RuleRun
			metrics []byte
		)
		if err := row.Scan(&rr.ID, &rr.DomainID, &rr.InputVersionID, &rr.OutputVersionID, &rr.Status,
			&metrics, &rr.Error, &rr.StartedAt, &rr.FinishedAt); err != nil {
			return store.RuleRun{}, err
		}
		m, err := decodeMap(metrics)
		if err != nil {
			return store.RuleRun{}, err
		}
		rr.Metrics = m
		return rr, nil
	})
	return list, translate(err, "rule runs", domainID.String())
}
