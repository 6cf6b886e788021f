package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/engine"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// CleanResult reports one clean run.
type CleanResult struct {
	Changed int            `json:"changed"`
	Version store.Version  `json:"version"`
	RunID   uuid.UUID      `json:"run_id"`
	Metrics engine.Metrics `json:"metrics"`
}

// Clean applies all enabled rules to the domain's current rows.
//
// Rule definitions are compiled before anything is written, so an invalid
// rule fails the run without a new Version. Every changed or removed row
// gets a HistoryRow of its pre-image under the new Version.
func (s *Service) Clean(ctx context.Context, user auth.User, domainID uuid.UUID) (CleanResult, error) {
	d, err := s.writableDomain(ctx, user, domainID)
	if err != nil {
		return CleanResult{}, err
	}

	var res CleanResult
	err = s.runExclusive(ctx, d.ID, func(ctx context.Context) error {
		var err error
		res, err = s.clean(ctx, d)
		return err
	})
	if err != nil {
		return CleanResult{}, err
	}

	s.record(ctx, user, audit.ActionClean, "domain", d.ID.String(), map[string]any{
		"version_id": res.Version.ID.String(),
		"run_id":     res.RunID.String(),
		"changed":    res.Changed,
		"rule_count": res.Metrics.RuleCount,
	})
	return res, nil
}

func (s *Service) clean(ctx context.Context, d store.Domain) (CleanResult, error) {
	start := time.Now()

	// Reload under the domain lock so the input version is the one cleaned.
	d, err := s.store.GetDomain(ctx, d.ID)
	if err != nil {
		return CleanResult{}, err
	}

	enabled, err := s.store.ListEnabledRules(ctx, d.ID)
	if err != nil {
		return CleanResult{}, fmt.Errorf("list rules: %w", err)
	}
	defs := make([]rules.Definition, len(enabled))
	for i, r := range enabled {
		defs[i] = r.Definition
	}
	prog, err := rules.CompileAll(defs)
	if err != nil {
		return CleanResult{}, err
	}

	// The version starts from the input columns and row count. Both are
	// replaced with the post-run values before the run commits.
	var columns []string
	if latest, err := s.store.LatestVersion(ctx, d.ID); err == nil {
		columns = latest.Columns
	}
	count, err := s.store.CountCurrentRows(ctx, d.ID)
	if err != nil {
		return CleanResult{}, fmt.Errorf("count rows: %w", err)
	}

	v, err := s.store.InsertVersion(ctx, store.Version{
		DomainID: d.ID,
		RowCount: count,
		Columns:  columns,
		ImportSummary: map[string]any{
			"action":     "clean",
			"rule_count": len(enabled),
		},
	})
	if err != nil {
		return CleanResult{}, fmt.Errorf("insert version: %w", err)
	}

	log := logging.WithFields(ctx, "domain_id", d.ID, "version_id", v.ID)
	log.Info("clean started", "rules", len(enabled), "rows", count)

	var (
		metrics engine.Metrics
		runID   uuid.UUID
	)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.LockDomain(ctx, d.ID); err != nil {
			return err
		}

		current, err := tx.ListCurrentRows(ctx, d.ID, store.Page{Limit: s.ingestCfg.MaxRowsPerRun + 1})
		if err != nil {
			return fmt.Errorf("list rows: %w", err)
		}
		records := make([]record.Record, len(current))
		for i, row := range current {
			records[i] = row.Record
		}

		var results []engine.Result
		results, metrics = engine.Run(prog, records, engine.Options{
			MaxRows:   s.ingestCfg.MaxRowsPerRun,
			RuleCount: len(enabled),
		})

		for i, res := range results {
			if i%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if res.Outcome == engine.Unchanged {
				continue
			}

			row := current[res.Index]
			err := tx.InsertHistoryRow(ctx, store.HistoryRow{
				DomainID:        d.ID,
				KeyHash:         row.KeyHash,
				KeyValues:       row.KeyValues,
				Record:          res.Before,
				SourceVersionID: v.ID,
			})
			if err != nil {
				return fmt.Errorf("insert history row: %w", err)
			}

			if res.Outcome.Removed() {
				err = tx.DeleteCurrentRow(ctx, d.ID, row.KeyHash)
			} else {
				err = tx.UpdateCurrentRow(ctx, d.ID, row.KeyHash, res.After)
			}
			if err != nil {
				return fmt.Errorf("%s row %s: %w", res.Outcome, row.KeyHash, err)
			}
		}

		remaining, err := tx.CountCurrentRows(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		finished, err := tx.FinishVersion(ctx, d.ID, v.ID, remaining, engine.Columns(columns, results))
		if err != nil {
			return fmt.Errorf("finish version: %w", err)
		}
		v = finished

		if err := tx.SetCurrentVersion(ctx, d.ID, v.ID); err != nil {
			return err
		}

		run, err := tx.InsertRuleRun(ctx, store.RuleRun{
			DomainID:        d.ID,
			InputVersionID:  d.CurrentVersionID,
			OutputVersionID: v.ID,
			Status:          store.RunCompleted,
			Metrics:         metrics.Map(),
			StartedAt:       start,
			FinishedAt:      time.Now(),
		})
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		runID = run.ID
		return nil
	})
	if err != nil {
		log.Error("clean failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.recordFailedRun(ctx, d, v.ID, start, err)
		return CleanResult{}, err
	}

	log.Info("clean completed",
		"changed", metrics.ChangedRows,
		"dropped", metrics.DroppedRows,
		"deduped", metrics.DedupedRows,
		"flagged", metrics.FlaggedRows,
		"capped", metrics.Capped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return CleanResult{
		Changed: metrics.ChangedRows,
		Version: v,
		RunID:   runID,
		Metrics: metrics,
	}, nil
}

// recordFailedRun stores a failed RuleRun outside the rolled-back
// transaction. It uses a fresh context so a timed-out run is still recorded.
func (s *Service) recordFailedRun(ctx context.Context, d store.Domain, versionID uuid.UUID, start time.Time, runErr error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.store.InsertRuleRun(writeCtx, store.RuleRun{
		DomainID:        d.ID,
		InputVersionID:  d.CurrentVersionID,
		OutputVersionID: versionID,
		Status:          store.RunFailed,
		Error:           apperr.FromContext(runErr).Error(),
		StartedAt:       start,
		FinishedAt:      time.Now(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("failed to record failed run",
			"domain_id", d.ID,
			"version_id", versionID,
			"error", err,
		)
	}
}
