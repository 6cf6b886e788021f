package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/domainkeeper/internal/store"
)

const versionColumns = `id, domain_id, COALESCE(file_path, ''), row_count, columns, import_summary, created_at`

func scanVersion(row pgx.Row) (store.Version, error) {
	var (
		v       store.Version
		summary []byte
	)
	if err := row.Scan(&v.ID, &v.DomainID, &v.FilePath, &v.RowCount, &v.Columns, &summary, &v.CreatedAt); err != nil {
		return store.Version{}, err
	}
	if v.Columns == nil {
		v.Columns = []string{}
	}
	m, err := decodeMap(summary)
	if err != nil {
		return store.Version{}, fmt.Errorf("version %s summary: %w", v.ID, err)
	}
	v.ImportSummary = m
	return v, nil
}

func (s *Store) InsertVersion(ctx context.Context, v store.Version) (store.Version, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Columns == nil {
		v.Columns = []string{}
	}
	if v.ImportSummary == nil {
		v.ImportSummary = map[string]any{}
	}
	summary, err := marshalJSON(v.ImportSummary)
	if err != nil {
		return store.Version{}, err
	}

	var filePath *string
	if v.FilePath != "" {
		filePath = &v.FilePath
	}

	out, err := scanVersion(s.db.QueryRow(ctx, `
		INSERT INTO domain_versions (id, domain_id, file_path, row_count, columns, import_summary)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+versionColumns,
		v.ID, v.DomainID, filePath, v.RowCount, v.Columns, summary))
	if err != nil {
		return store.Version{}, translate(err, "domain", v.DomainID.String())
	}
	return out, nil
}

func (s *Store) GetVersion(ctx context.Context, domainID, versionID uuid.UUID) (store.Version, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM domain_versions WHERE domain_id = $1 AND id = $2`,
		domainID, versionID))
	return v, translate(err, "version", versionID.String())
}

func (s *Store) LatestVersion(ctx context.Context, domainID uuid.UUID) (store.Version, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM domain_versions WHERE domain_id = $1 ORDER BY seq DESC LIMIT 1`,
		domainID))
	return v, translate(err, "version", "latest")
}

func (s *Store) ListVersions(ctx context.Context, domainID uuid.UUID) ([]store.Version, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM domain_versions WHERE domain_id = $1 ORDER BY seq DESC`, domainID)
	if err != nil {
		return nil, translate(err, "versions", domainID.String())
	}
	list, err := collect(rows, scanVersion)
	return list, translate(err, "versions", domainID.String())
}

func (s *Store) FinishVersion(ctx context.Context, domainID, versionID uuid.UUID, rowCount int, columns []string) (store.Version, error) {
	if columns == nil {
		columns = []string{}
	}
	v, err := scanVersion(s.db.QueryRow(ctx, `
		UPDATE domain_versions SET row_count = $3, columns = $4
		WHERE domain_id = $1 AND id = $2
		RETURNING `+versionColumns,
		domainID, versionID, rowCount, columns))
	return v, translate(err, "version", versionID.String())
}
