// Package engine evaluates a compiled rule program over a batch of rows.
//
// It is pure: no I/O, no persistence. The clean run in core and the preview
// in nlcompile share it, so both observe the same semantics.
package engine

import (
	"strings"

	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// DefaultMaxRows caps the rows evaluated by one run.
const DefaultMaxRows = 20000

// Outcome describes what a run did to a row.
type Outcome uint8

const (
	Unchanged Outcome = iota
	Changed
	Dropped      // removed by a check
	Deduplicated // removed by a dedup policy
)

func (o Outcome) String() string {
	switch o {
	case Changed:
		return "changed"
	case Dropped:
		return "dropped"
	case Deduplicated:
		return "deduplicated"
	default:
		return "unchanged"
	}
}

// Removed reports whether the row leaves the current state.
func (o Outcome) Removed() bool { return o == Dropped || o == Deduplicated }

// Result is the evaluation of a single input row.
type Result struct {
	Index   int
	Before  record.Record
	After   record.Record
	Outcome Outcome
	Verdict rules.Verdict
}

// Metrics summarises a run.
type Metrics struct {
	ProcessedRows int  `json:"processed_rows"`
	ChangedRows   int  `json:"changed_rows"`
	DroppedRows   int  `json:"dropped_rows"`
	DedupedRows   int  `json:"deduped_rows"`
	FlaggedRows   int  `json:"flagged_rows"`
	RegexFails    int  `json:"regex_fails"`
	RuleCount     int  `json:"rule_count"`
	Capped        bool `json:"capped"`
}

// Map returns the metrics as a generic map for persistence.
func (m Metrics) Map() map[string]any {
	return map[string]any{
		"processed_rows": m.ProcessedRows,
		"changed_rows":   m.ChangedRows,
		"dropped_rows":   m.DroppedRows,
		"deduped_rows":   m.DedupedRows,
		"flagged_rows":   m.FlaggedRows,
		"regex_fails":    m.RegexFails,
		"rule_count":     m.RuleCount,
		"capped":         m.Capped,
	}
}

// Options tune a run.
type Options struct {
	MaxRows   int // 0 means DefaultMaxRows
	RuleCount int // reported in Metrics
}

// Run evaluates p over rows in order. Rows past the cap are not evaluated and
// Metrics.Capped is set.
func Run(p *rules.Program, rows []record.Record, opts Options) ([]Result, Metrics) {
	limit := opts.MaxRows
	if limit <= 0 {
		limit = DefaultMaxRows
	}

	m := Metrics{RuleCount: opts.RuleCount}
	if len(rows) > limit {
		rows = rows[:limit]
		m.Capped = true
	}

	results := make([]Result, len(rows))
	for i, row := range rows {
		after, verdict := p.Apply(row)
		res := Result{Index: i, Before: row, After: after, Verdict: verdict}
		if verdict.Drop {
			res.Outcome = Dropped
		}
		results[i] = res
	}

	for _, policy := range p.Dedup() {
		dedup(results, policy)
	}

	for i := range results {
		res := &results[i]
		if res.Outcome == Unchanged && !record.EqualStrings(res.Before, res.After) {
			res.Outcome = Changed
		}

		m.ProcessedRows++
		m.RegexFails += res.Verdict.RegexFails
		if res.Verdict.Flagged {
			m.FlaggedRows++
		}
		switch res.Outcome {
		case Changed:
			m.ChangedRows++
		case Dropped:
			m.DroppedRows++
		case Deduplicated:
			m.DedupedRows++
		}
	}

	return results, m
}

// dedup marks all but one surviving row per key as Deduplicated.
func dedup(results []Result, policy rules.DedupPolicy) {
	seen := make(map[string]struct{})

	visit := func(i int) {
		res := &results[i]
		if res.Outcome.Removed() {
			return
		}
		k := dedupKey(res.After, policy.Keys)
		if _, dup := seen[k]; dup {
			res.Outcome = Deduplicated
			return
		}
		seen[k] = struct{}{}
	}

	if policy.KeepsLast() {
		for i := len(results) - 1; i >= 0; i-- {
			visit(i)
		}
		return
	}
	for i := range results {
		visit(i)
	}
}

func dedupKey(rec record.Record, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		_, v, _ := rec.Lookup(k)
		parts[i] = record.Stringify(v)
	}
	return strings.Join(parts, "\x1f")
}

// Columns returns the column order of the surviving rows, starting from base.
func Columns(base []string, results []Result) []string {
	kept := Survivors(results)
	return record.Columns(base, kept)
}

// Survivors returns the transformed records of rows that were not removed.
func Survivors(results []Result) []record.Record {
	out := make([]record.Record, 0, len(results))
	for _, res := range results {
		if !res.Outcome.Removed() {
			out = append(out, res.After)
		}
	}
	return out
}
