package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

const domainColumns = `id, tenant_id, name, description, business_key, current_version_id, created_at, updated_at`

func scanDomain(row pgx.Row) (store.Domain, error) {
	var d store.Domain
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Description, &d.BusinessKey,
		&d.CurrentVersionID, &d.CreatedAt, &d.UpdatedAt)
	if d.BusinessKey == nil {
		d.BusinessKey = []string{}
	}
	return d, err
}

func (s *Store) GetDomain(ctx context.Context, id uuid.UUID) (store.Domain, error) {
	d, err := scanDomain(s.db.QueryRow(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE id = $1`, id))
	return d, translate(err, "domain", id.String())
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]store.Domain, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE tenant_id = $1 ORDER BY seq DESC`, tenantID)
	if err != nil {
		return nil, translate(err, "domains", tenantID)
	}
	list, err := collect(rows, scanDomain)
	return list, translate(err, "domains", tenantID)
}

func (s *Store) CreateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.BusinessKey == nil {
		d.BusinessKey = []string{}
	}
	out, err := scanDomain(s.db.QueryRow(ctx, `
		INSERT INTO domains (id, tenant_id, name, description, business_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+domainColumns,
		d.ID, d.TenantID, d.Name, d.Description, d.BusinessKey))
	if err != nil {
		return store.Domain{}, translate(err, "domain", fmt.Sprintf("%q", d.Name))
	}
	return out, nil
}

func (s *Store) UpdateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	if d.BusinessKey == nil {
		d.BusinessKey = []string{}
	}
	out, err := scanDomain(s.db.QueryRow(ctx, `
		UPDATE domains
		SET name = $2, description = $3, business_key = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+domainColumns,
		d.ID, d.Name, d.Description, d.BusinessKey))
	if err != nil {
		err = translate(err, "domain", d.ID.String())
		if errors.Is(err, apperr.ErrConflict) {
			return store.Domain{}, apperr.Conflictf("domain %q already exists", d.Name)
		}
		return store.Domain{}, err
	}
	return out, nil
}

func (s *Store) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM domains WHERE id = $1`, id)
	if err != nil {
		return translate(err, "domain", id.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("domain", id.String())
	}
	return nil
}

func (s *Store) SetCurrentVersion(ctx context.Context, domainID, versionID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE domains d
		SET current_version_id = v.id, updated_at = now()
		FROM domain_versions v
		WHERE d.id = $1 AND v.id = $2 AND v.domain_id = d.id`,
		domainID, versionID)
	if err != nil {
		return translate(err, "domain", domainID.String())
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetDomain(ctx, domainID); err != nil {
			return err
		}
		return apperr.NotFound("version", versionID.String())
	}
	return nil
}
