package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/config"
)

// maxBatch bounds the number of entries written per Insert call.
const maxBatch = 256

// Writer queues entries on a buffered channel and persists them from Run.
// When the buffer is full new entries are dropped with a warning.
type Writer struct {
	sink          Sink
	queue         chan Entry
	flushInterval time.Duration
	now           func() time.Time
	dropped       atomic.Int64
}

var _ Recorder = (*Writer)(nil)

// NewWriter creates a Writer over sink.
func NewWriter(sink Sink, cfg config.AuditConfig) *Writer {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1024
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Writer{
		sink:          sink,
		queue:         make(chan Entry, size),
		flushInterval: interval,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Record stamps e and queues it without blocking.
func (w *Writer) Record(ctx context.Context, e Entry) {
	e = enrich(ctx, e)
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Severity == "" {
		e.Severity = determineSeverity(e.Action)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = w.now()
	}

	select {
	case w.queue <- e:
	default:
		n := w.dropped.Add(1)
		slog.Warn("audit buffer full, dropping entry",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"dropped_total", n,
		)
	}
}

// Dropped reports how many entries were discarded because the buffer was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Run persists queued entries until ctx is cancelled, then drains the queue.
func (w *Writer) Run(ctx context.Context) error {
	slog.Info("audit writer started", "buffer", cap(w.queue), "flush_interval", w.flushInterval)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, maxBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.sink.Insert(ctx, batch); err != nil {
			slog.Error("audit flush failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
					if len(batch) == maxBatch {
						w.flushDetached(flush)
					}
				default:
					break drain
				}
			}
			w.flushDetached(flush)
			slog.Info("audit writer stopped")
			return nil

		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) == maxBatch {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

// flushDetached flushes with a fresh deadline once the run context is gone.
func (w *Writer) flushDetached(flush func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flush(ctx)
}
