package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

func scanCurrent(row pgx.Row) (store.CurrentRow, error) {
	var (
		r              store.CurrentRow
		keyRaw, recRaw []byte
	)
	if err := row.Scan(&r.DomainID, &r.KeyHash, &keyRaw, &recRaw, &r.UpdatedAt); err != nil {
		return store.CurrentRow{}, err
	}
	var err error
	if r.KeyValues, err = decodeRecord(keyRaw); err != nil {
		return store.CurrentRow{}, fmt.Errorf("row %s key values: %w", r.KeyHash, err)
	}
	if r.Record, err = decodeRecord(recRaw); err != nil {
		return store.CurrentRow{}, fmt.Errorf("row %s record: %w", r.KeyHash, err)
	}
	return r, nil
}

func (s *Store) FindCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string) (*store.CurrentRow, error) {
	r, err := scanCurrent(s.db.QueryRow(ctx, `
		SELECT domain_id, key_hash, key_values, record, updated_at
		FROM domain_data WHERE domain_id = $1 AND key_hash = $2`,
		domainID, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "current row", keyHash)
	}
	return &r, nil
}

// InsertCurrentRow relies on ON CONFLICT DO NOTHING so a duplicate key does
// not abort the enclosing transaction.
func (s *Store) InsertCurrentRow(ctx context.Context, row store.CurrentRow) error {
	keyValues, err := marshalJSON(nonNil(row.KeyValues))
	if err != nil {
		return err
	}
	rec, err := marshalJSON(nonNil(row.Record))
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO domain_data (domain_id, key_hash, key_values, record)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain_id, key_hash) DO NOTHING`,
		row.DomainID, row.KeyHash, keyValues, rec)
	if err != nil {
		return translate(err, "current row", row.KeyHash)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflictf("current row %s", row.KeyHash)
	}
	return nil
}

func (s *Store) UpdateCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string, patch record.Record) error {
	raw, err := marshalJSON(nonNil(patch))
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE domain_data
		SET record = record || $3::jsonb, updated_at = now()
		WHERE domain_id = $1 AND key_hash = $2`,
		domainID, keyHash, raw)
	if err != nil {
		return translate(err, "current row", keyHash)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("current row", keyHash)
	}
	return nil
}

func (s *Store) DeleteCurrentRow(ctx context.Context, domainID uuid.UUID, keyHash string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM domain_data WHERE domain_id = $1 AND key_hash = $2`, domainID, keyHash)
	if err != nil {
		return translate(err, "current row", keyHash)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("current row", keyHash)
	}
	return nil
}

func (s *Store) ListCurrentRows(ctx context.Context, domainID uuid.UUID, page store.Page) ([]store.CurrentRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT domain_id, key_hash, key_values, record, updated_at
		FROM domain_data WHERE domain_id = $1
		ORDER BY seq
		LIMIT $2 OFFSET $3`,
		domainID, limitArg(page), offsetArg(page))
	if err != nil {
		return nil, translate(err, "current rows", domainID.String())
	}
	list, err := collect(rows, scanCurrent)
	return list, translate(err, "current rows", domainID.String())
}

func (s *Store) CountCurrentRows(ctx context.Context, domainID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM domain_data WHERE domain_id = $1`, domainID).Scan(&n)
	return n, translate(err, "current rows", domainID.String())
}

// ============================================================================
// History
// ============================================================================

func (s *Store) InsertHistoryRow(ctx context.Context, row store.HistoryRow) error {
	keyValues, err := marshalJSON(nonNil(row.KeyValues))
	if err != nil {
		return err
	}
	rec, err := marshalJSON(nonNil(row.Record))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO domain_history (domain_id, key_hash, source_version_id, key_values, record)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain_id, key_hash, source_version_id) DO NOTHING`,
		row.DomainID, row.KeyHash, row.SourceVersionID, keyValues, rec)
	return translate(err, "history row", row.KeyHash)
}

func (s *Store) ListHistoryRows(ctx context.Context, domainID, versionID uuid.UUID, page store.Page) ([]store.HistoryRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT domain_id, key_hash, key_values, record, source_version_id, created_at
		FROM domain_history
		WHERE domain_id = $1 AND source_version_id = $2
		ORDER BY seq
		LIMIT $3 OFFSET $4`,
		domainID, versionID, limitArg(page), offsetArg(page))
	if err != nil {
		return nil, translate(err, "history", versionID.String())
	}
	list, err := collect(rows, func(row pgx.Row) (store.HistoryRow, error) {
		var (
			h              store.HistoryRow
			keyRaw, recRaw []byte
		)
		if err := row.Scan(&h.DomainID, &h.KeyHash, &keyRaw, &recRaw, &h.SourceVersionID, &h.CreatedAt); err != nil {
			return store.HistoryRow{}, err
		}
		var err error
		if h.KeyValues, err = decodeRecord(keyRaw); err != nil {
			return store.HistoryRow{}, err
		}
		if h.Record, err = decodeRecord(recRaw); err != nil {
			return store.HistoryRow{}, err
		}
		return h, nil
	})
	return list, translate(err, "history", versionID.String())
}

func nonNil(r record.Record) record.Record {
	if r == nil {
		return record.Record{}
	}
	return r
}
