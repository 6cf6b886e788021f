package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists audit entries in audit_log and audit_log_archive.
type PGStore struct {
	pool *pgxpool.Pool
}

var (
	_ Sink     = (*PGStore)(nil)
	_ Archiver = (*PGStore)(nil)
)

// NewPGStore creates a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const entryColumns = `id, action, severity, actor_id, tenant_id, resource, resource_id,
	meta, ip_address, user_agent, request_id, created_at`

// Insert writes entries in one round trip.
func (p *PGStore) Insert(ctx context.Context, entries []Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		meta := []byte("{}")
		if len(e.Meta) > 0 {
			b, err := json.Marshal(e.Meta)
			if err != nil {
				return fmt.Errorf("encode audit meta: %w", err)
			}
			meta = b
		}
		batch.Queue(`INSERT INTO audit_log (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, string(e.Action), string(e.Severity), e.ActorID, e.TenantID, e.Resource, e.ResourceID,
			meta, e.IPAddress, e.UserAgent, e.RequestID, e.CreatedAt)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert audit entries: %w", err)
	}
	return nil
}

// Query retrieves hot audit log entries with optional filtering.
func (p *PGStore) Query(ctx context.Context, f Filter) (*Result, error) {
	return p.query(ctx, "audit_log", f)
}

// QueryArchive retrieves archived audit log entries.
func (p *PGStore) QueryArchive(ctx context.Context, f Filter) (*Result, error) {
	return p.query(ctx, "audit_log_archive", f)
}

func (p *PGStore) query(ctx context.Context, table string, f Filter) (*Result, error) {
	f = f.normalize(time.Now())

	wb := NewWhereBuilder()
	wb.Add("tenant_id", f.TenantID)
	wb.Add("action", string(f.Action))
	wb.Add("severity", string(f.Severity))
	wb.Add("resource", f.Resource)
	wb.AddTimestampRange("created_at", f.StartTime, f.EndTime)
	whereClause, args := wb.Build()

	var totalCount int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}

	query := `SELECT ` + entryColumns + ` FROM ` + table + whereClause +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", wb.NextArgIndex(), wb.NextArgIndex()+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return newResult(entries, totalCount, f), nil
}

func scanEntry(rows pgx.Rows) (Entry, error) {
	var (
		e                Entry
		action, severity string
		meta             []byte
	)
	err := rows.Scan(&e.ID, &action, &severity, &e.ActorID, &e.TenantID, &e.Resource, &e.ResourceID,
		&meta, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Action = Action(action)
	e.Severity = Severity(severity)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &e.Meta)
	}
	return e, nil
}

// ArchiveOlderThan moves up to batchSize entries older than days into the archive.
func (p *PGStore) ArchiveOlderThan(ctx context.Context, days, batchSize int) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM audit_log
			WHERE id IN (
				SELECT id FROM audit_log
				WHERE created_at < now() - make_interval(days => $1)
				ORDER BY created_at
				LIMIT $2
			)
			RETURNING *
		)
		INSERT INTO audit_log_archive SELECT * FROM moved`,
		days, batchSize)
	if err != nil {
		return 0, fmt.Errorf("archive audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeArchiveOlderThan deletes archived entries older than years.
func (p *PGStore) PurgeArchiveOlderThan(ctx context.Context, years int) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM audit_log_archive WHERE created_at < now() - make_interval(years => $1)`, years)
	if err != nil {
		return 0, fmt.Errorf("purge audit archive: %w", err)
	}
	return tag.RowsAffected(), nil
}
