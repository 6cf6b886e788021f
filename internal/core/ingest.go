package core

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/keyer"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// ctxCheckEvery is how many rows are processed between cancellation checks.
const ctxCheckEvery = 500

// IngestResult reports one ingest.
type IngestResult struct {
	Version store.Version `json:"version"`
	// Rows is the number of CurrentRows inserted.
	Rows int `json:"rows"`
	// Extended counts rows stored under a key extended with the row index.
	Extended int `json:"extended"`
	// Preserved counts rows whose extended key was already stored. The
	// stored row is kept and the incoming one is not written again.
	Preserved int `json:"preserved"`
}

// Ingest downloads objectPath from blob storage and ingests it.
func (s *Service) Ingest(ctx context.Context, user auth.User, domainID uuid.UUID, objectPath string) (IngestResult, error) {
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return IngestResult{}, apperr.Invalid("path is required")
	}
	if s.blobs == nil {
		return IngestResult{}, apperr.Dependency("blob", errors.New("blob storage is not configured"))
	}
	if _, err := s.writableDomain(ctx, user, domainID); err != nil {
		return IngestResult{}, err
	}

	data, err := s.blobs.Download(ctx, objectPath)
	if err != nil {
		return IngestResult{}, apperr.FromContext(err)
	}
	return s.IngestData(ctx, user, domainID, objectPath, data)
}

// IngestData ingests an already loaded file. fileName picks the format.
//
// Every parsed row is kept: a key already used in this file or already
// stored is extended with the row index. The Version is written first and
// survives a failed run; row writes happen in one transaction.
func (s *Service) IngestData(ctx context.Context, user auth.User, domainID uuid.UUID, fileName string, data []byte) (IngestResult, error) {
	d, err := s.writableDomain(ctx, user, domainID)
	if err != nil {
		return IngestResult{}, err
	}
	if s.ingestCfg.MaxFileSize > 0 && int64(len(data)) > s.ingestCfg.MaxFileSize {
		return IngestResult{}, apperr.Invalid("file exceeds %d bytes", s.ingestCfg.MaxFileSize)
	}

	table, err := codec.Decode(data, fileName)
	if err != nil {
		return IngestResult{}, err
	}
	// Ingest never truncates a file: every input row must land in the domain,
	// so an oversized file is rejected rather than capped like a clean run.
	if len(table.Rows) > s.ingestCfg.MaxRowsPerRun {
		return IngestResult{}, apperr.Invalid("file has %d rows, the limit per run is %d", len(table.Rows), s.ingestCfg.MaxRowsPerRun)
	}

	var res IngestResult
	err = s.runExclusive(ctx, d.ID, func(ctx context.Context) error {
		var err error
		res, err = s.ingest(ctx, d, fileName, table)
		return err
	})
	if err != nil {
		return IngestResult{}, err
	}

	s.record(ctx, user, audit.ActionIngest, "domain", d.ID.String(), map[string]any{
		"version_id": res.Version.ID.String(),
		"file":       fileName,
		"rows":       res.Rows,
		"extended":   res.Extended,
		"preserved":  res.Preserved,
	})
	return res, nil
}

func (s *Service) ingest(ctx context.Context, d store.Domain, fileName string, table *codec.Table) (IngestResult, error) {
	start := time.Now()

	columns := table.Header
	if len(columns) == 0 && len(table.Rows) > 0 {
		columns = table.Rows[0].Keys()
	}
	effective := keyer.New(d.BusinessKey).Effective(columns)

	v, err := s.store.InsertVersion(ctx, store.Version{
		DomainID: d.ID,
		FilePath: fileName,
		RowCount: len(table.Rows),
		Columns:  columns,
		ImportSummary: map[string]any{
			"file_name":   path.Base(fileName),
			"extension":   strings.ToLower(path.Ext(fileName)),
			"format":      string(table.Format),
			"sheet":       table.Sheet,
			"bytes_read":  table.BytesRead,
			"key_columns": effective,
			"key_scheme":  keyer.Scheme,
		},
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert version: %w", err)
	}

	log := logging.WithFields(ctx, "domain_id", d.ID, "version_id", v.ID)
	log.Info("ingest started",
		"file", fileName,
		"rows", len(table.Rows),
		"bytes", table.BytesRead,
		"key_columns", effective,
	)

	res := IngestResult{Version: v}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.LockDomain(ctx, d.ID); err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(table.Rows))
		taken := func(hash string) (bool, error) {
			if _, ok := seen[hash]; ok {
				return true, nil
			}
			row, err := tx.FindCurrentRow(ctx, d.ID, hash)
			return row != nil, err
		}

		for i, row := range table.All() {
			if i%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			key := keyer.Compute(effective, row, i)
			used, err := taken(key.Hash)
			if err != nil {
				return err
			}
			if used {
				if key.IsExtended() {
					res.Preserved++
					continue
				}
				key = keyer.Compute(keyer.Extend(effective), row, i)
				if used, err = taken(key.Hash); err != nil {
					return err
				}
				if used {
					res.Preserved++
					continue
				}
			}

			err = tx.InsertCurrentRow(ctx, store.CurrentRow{
				DomainID:  d.ID,
				KeyHash:   key.Hash,
				KeyValues: key.Values,
				Record:    row,
			})
			if errors.Is(err, apperr.ErrConflict) && !key.IsExtended() {
				// Another writer took the key since the lookup.
				key = keyer.Compute(keyer.Extend(effective), row, i)
				err = tx.InsertCurrentRow(ctx, store.CurrentRow{
					DomainID:  d.ID,
					KeyHash:   key.Hash,
					KeyValues: key.Values,
					Record:    row,
				})
			}
			if err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
			seen[key.Hash] = struct{}{}
			if key.IsExtended() && effective[0] != keyer.RowIndexColumn {
				res.Extended++
			}

			err = tx.InsertHistoryRow(ctx, store.HistoryRow{
				DomainID:        d.ID,
				KeyHash:         key.Hash,
				KeyValues:       key.Values,
				Record:          row,
				SourceVersionID: v.ID,
			})
			if err != nil {
				return fmt.Errorf("insert history row %d: %w", i, err)
			}
			res.Rows++
		}

		return tx.SetCurrentVersion(ctx, d.ID, v.ID)
	})
	if err != nil {
		log.Error("ingest failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return IngestResult{}, err
	}

	log.Info("ingest completed",
		"rows", res.Rows,
		"extended", res.Extended,
		"preserved", res.Preserved,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
