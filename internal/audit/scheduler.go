package audit

// scheduler.go runs audit log maintenance in the background:
//  1. Move old entries from audit_log to audit_log_archive (hot -> cold)
//  2. Purge very old entries from the archive based on retention policy
//
// Individual failures are logged and retried on the next tick; they never
// stop the application.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/domainkeeper/internal/config"
)

// Archiver moves and purges aged audit entries.
type Archiver interface {
	ArchiveOlderThan(ctx context.Context, days, batchSize int) (int64, error)
	PurgeArchiveOlderThan(ctx context.Context, years int) (int64, error)
}

// Scheduler periodically archives and purges audit entries.
type Scheduler struct {
	archiver Archiver
	cfg      config.ArchiveConfig
}

// NewScheduler creates a Scheduler.
func NewScheduler(archiver Archiver, cfg config.ArchiveConfig) *Scheduler {
	return &Scheduler{archiver: archiver, cfg: cfg}
}

// Run runs one job immediately, then every CheckInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("archive scheduler started",
		"hot_retention_days", s.cfg.HotRetentionDays,
		"archive_retention_years", s.cfg.ArchiveRetentionYears,
		"batch_size", s.cfg.BatchSize,
	)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("archive scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one archive + purge cycle. Archiving repeats in batches
// until a batch comes back short.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	var archived int64
	for ctx.Err() == nil {
		n, err := s.archiver.ArchiveOlderThan(ctx, s.cfg.HotRetentionDays, s.cfg.BatchSize)
		if err != nil {
			slog.Error("archive failed", "error", err)
			break
		}
		archived += n
		if n == 0 || n < int64(s.cfg.BatchSize) {
			break
		}
	}

	purged, err := s.archiver.PurgeArchiveOlderThan(ctx, s.cfg.ArchiveRetentionYears)
	if err != nil {
		slog.Error("purge failed", "error", err)
	}

	slog.Info("archive job completed",
		"entries_archived", archived,
		"entries_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
