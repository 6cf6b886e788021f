package nlcompile

import (
	"github.com/JonMunkholm/domainkeeper/internal/engine"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// Preview limits.
const (
	DefaultSampleSize  = 1000
	DefaultPreviewRows = 20
)

// PreviewResult is the non-persistent outcome of applying one descriptor.
type PreviewResult struct {
	Columns []string        `json:"columns"`
	Rows    []record.Record `json:"rows"`
	Metrics engine.Metrics  `json:"metrics"`
}

// Preview applies def to at most sampleSize rows of sample and returns the
// first previewRows surviving rows. The rule engine semantics are the same
// as a clean run; nothing is written.
func Preview(def rules.Definition, sample []record.Record, baseColumns []string, sampleSize, previewRows int) (PreviewResult, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}

	prog, err := rules.Compile(def)
	if err != nil {
		return PreviewResult{}, err
	}

	results, metrics := engine.Run(prog, sample, engine.Options{MaxRows: sampleSize, RuleCount: 1})

	survivors := engine.Survivors(results)
	rows := survivors
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}
	return PreviewResult{
		Columns: record.Columns(baseColumns, survivors),
		Rows:    rows,
		Metrics: metrics,
	}, nil
}
