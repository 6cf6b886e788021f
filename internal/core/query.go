package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// SourceVersionField is added to latest-version preview records.
const SourceVersionField = "source_version_id"

// DiffEntry compares a row's snapshot in one version with its current state.
// After is nil when the row no longer exists.
type DiffEntry struct {
	KeyHash       string        `json:"key_hash"`
	KeyValues     record.Record `json:"key_values"`
	Before        record.Record `json:"before"`
	After         record.Record `json:"after"`
	ChangedFields []string      `json:"changed_fields"`
}

// Preview returns a page of the domain's current records.
func (s *Service) Preview(ctx context.Context, user auth.User, domainID uuid.UUID, page store.Page) ([]record.Record, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListCurrentRows(ctx, domainID, normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	out := make([]record.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record
	}
	return out, nil
}

// LatestPreview returns a page of the snapshots written by the domain's most
// recent version, each tagged with its source version. A domain without
// versions yields an empty page.
func (s *Service) LatestPreview(ctx context.Context, user auth.User, domainID uuid.UUID, page store.Page) ([]record.Record, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nil, err
	}
	v, err := s.store.LatestVersion(ctx, domainID)
	if errors.Is(err, apperr.ErrNotFound) {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}

	rows, err := s.store.ListHistoryRows(ctx, domainID, v.ID, normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]record.Record, len(rows))
	for i, row := range rows {
		rec := row.Record.Clone()
		rec[SourceVersionField] = record.String(row.SourceVersionID.String())
		out[i] = rec
	}
	return out, nil
}

// Diff compares each snapshot written by versionID with the current row at
// the same key.
func (s *Service) Diff(ctx context.Context, user auth.User, domainID, versionID uuid.UUID, page store.Page) ([]DiffEntry, error) {
	if _, err := s.domainFor(ctx, user, domainID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetVersion(ctx, domainID, versionID); err != nil {
		return nil, err
	}

	history, err := s.store.ListHistoryRows(ctx, domainID, versionID, normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]DiffEntry, len(history))
	for i, h := range history {
		cur, err := s.store.FindCurrentRow(ctx, domainID, h.KeyHash)
		if err != nil {
			return nil, fmt.Errorf("find row %s: %w", h.KeyHash, err)
		}
		var after record.Record
		if cur != nil {
			after = cur.Record
		}
		out[i] = DiffEntry{
			KeyHash:       h.KeyHash,
			KeyValues:     h.KeyValues,
			Before:        h.Record,
			After:         after,
			ChangedFields: record.ChangedFields(h.Record, after),
		}
	}
	return out, nil
}
