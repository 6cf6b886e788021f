package audit

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemorySink keeps entries in process memory. It backs the in-memory store
// driver and tests.
type MemorySink struct {
	mu       sync.Mutex
	hot      []Entry
	archived []Entry
	now      func() time.Time
}

var (
	_ Sink     = (*MemorySink)(nil)
	_ Archiver = (*MemorySink)(nil)
)

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{now: time.Now}
}

func (m *MemorySink) Insert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hot = append(m.hot, entries...)
	return nil
}

// Entries returns a copy of the hot entries in insertion order.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.hot)
}

func (m *MemorySink) Query(ctx context.Context, f Filter) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f = f.normalize(m.now())

	m.mu.Lock()
	matched := make([]Entry, 0)
	for _, e := range m.hot {
		if matches(e, f) {
			matched = append(matched, e)
		}
	}
	m.mu.Unlock()

	slices.SortStableFunc(matched, func(a, b Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })

	start := min(f.Offset, len(matched))
	end := min(start+f.Limit, len(matched))
	return newResult(matched[start:end], int64(len(matched)), f), nil
}

func matches(e Entry, f Filter) bool {
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.Resource != "" && e.Resource != f.Resource:
		return false
	case e.CreatedAt.Before(f.StartTime) || !e.CreatedAt.Before(f.EndTime):
		return false
	}
	return true
}

func (m *MemorySink) ArchiveOlderThan(ctx context.Context, days, batchSize int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := m.now().AddDate(0, 0, -days)

	m.mu.Lock()
	defer m.mu.Unlock()
	var moved int64
	kept := m.hot[:0]
	for _, e := range m.hot {
		if e.CreatedAt.Before(cutoff) && moved < int64(batchSize) {
			m.archived = append(m.archived, e)
			moved++
			continue
		}
		kept = append(kept, e)
	}
	m.hot = kept
	return moved, nil
}

func (m *MemorySink) PurgeArchiveOlderThan(ctx context.Context, years int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := m.now().AddDate(-years, 0, 0)

	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.archived)
	m.archived = slices.DeleteFunc(m.archived, func(e Entry) bool { return e.CreatedAt.Before(cutoff) })
	return int64(before - len(m.archived)), nil
}

// Archived returns a copy of the archived entries.
func (m *MemorySink) Archived() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.archived)
}
