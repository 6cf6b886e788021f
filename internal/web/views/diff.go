// Package views renders the server-side HTML pages.
package views

import (
	"bufio"
	"context"
	"io"
	"slices"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/domainkeeper/internal/core"
	"github.com/JonMunkholm/domainkeeper/internal/record"
)

// DiffPage is the data for the version diff report.
type DiffPage struct {
	DomainName string
	VersionID  string
	Entries    []core.DiffEntry
}

const diffStyle = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;margin-bottom:1.5rem;min-width:40rem}
th,td{border:1px solid #d1d5db;padding:.3rem .6rem;text-align:left;font-size:.9rem}
th{background:#f3f4f6}
.changed td{background:#fef3c7}
.removed{color:#b91c1c;font-weight:600}
.key{font-family:ui-monospace,monospace;font-size:.8rem;color:#6b7280}`

// DiffReport renders each diff entry as a before/after table with changed
// fields highlighted. Removed rows show an empty after column.
func DiffReport(p DiffPage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		bw := bufio.NewWriter(w)
		h := &htmlWriter{w: bw}

		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		h.text(p.DomainName + " diff")
		h.raw(`</title><style>` + diffStyle + `</style></head><body><h1>`)
		h.text(p.DomainName)
		h.raw(`</h1><p>Version <code>`)
		h.text(p.VersionID)
		h.raw(`</code></p>`)

		if len(p.Entries) == 0 {
			h.raw(`<p>No rows were changed by this version.</p>`)
		}
		for _, e := range p.Entries {
			diffEntry(h, e)
		}
		h.raw(`</body></html>`)

		if h.err != nil {
			return h.err
		}
		return bw.Flush()
	})
}

func diffEntry(h *htmlWriter, e core.DiffEntry) {
	h.raw(`<table><caption class="key">`)
	h.text(keyLabel(e))
	if e.After == nil {
		h.raw(` <span class="removed">removed</span>`)
	}
	h.raw(`</caption><tr><th>Column</th><th>Before</th><th>After</th></tr>`)

	for _, col := range record.Columns(nil, []record.Record{e.Before, e.After}) {
		if slices.Contains(e.ChangedFields, col) {
			h.raw(`<tr class="changed">`)
		} else {
			h.raw(`<tr>`)
		}
		h.raw(`<td>`)
		h.text(col)
		h.raw(`</td><td>`)
		h.text(cell(e.Before, col))
		h.raw(`</td><td>`)
		h.text(cell(e.After, col))
		h.raw(`</td></tr>`)
	}
	h.raw(`</table>`)
}

func keyLabel(e core.DiffEntry) string {
	label := ""
	for _, k := range e.KeyValues.Keys() {
		if label != "" {
			label += ", "
		}
		label += k + "=" + record.Stringify(e.KeyValues[k])
	}
	if label == "" {
		return e.KeyHash
	}
	return label
}

func cell(rec record.Record, col string) string {
	if rec == nil {
		return ""
	}
	v, ok := rec[col]
	if !ok {
		return ""
	}
	return record.Stringify(v)
}

// htmlWriter keeps the first write error so rendering reads linearly.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}
