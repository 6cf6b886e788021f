package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Record is one row: column name to cell.
type Record map[string]Value

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the column names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup resolves a column name case-insensitively, preferring an exact match.
// It returns the stored column name alongside the value.
func (r Record) Lookup(column string) (string, Value, bool) {
	if v, ok := r[column]; ok {
		return column, v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return k, v, true
		}
	}
	return "", nil, false
}

// EqualStrings reports structural equality of two records by string form.
// Both records must carry the same column set.
func EqualStrings(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || Stringify(av) != Stringify(bv) {
			return false
		}
	}
	return true
}

// ChangedFields returns the sorted set of columns whose string form differs.
// A column present on only one side counts as changed. A nil record has no columns.
func ChangedFields(before, after Record) []string {
	seen := make(map[string]struct{}, len(before)+len(after))
	var changed []string
	for k, bv := range before {
		seen[k] = struct{}{}
		av, ok := after[k]
		if !ok || Stringify(bv) != Stringify(av) {
			changed = append(changed, k)
		}
	}
	for k := range after {
		if _, ok := seen[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	if changed == nil {
		changed = []string{}
	}
	return changed
}

// MarshalJSON encodes cells as plain JSON scalars.
func (r Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	plain := make(map[string]any, len(r))
	for k, v := range r {
		plain[k] = ToAny(v)
	}
	return json.Marshal(plain)
}

// UnmarshalJSON decodes a JSON object, keeping integers as Int.
func (r *Record) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var plain map[string]any
	if err := dec.Decode(&plain); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	out := make(Record, len(plain))
	for k, v := range plain {
		switch v.(type) {
		case map[string]any, []any:
			// Nested structures are not cells; keep their JSON text.
			raw, _ := json.Marshal(v)
			out[k] = String(raw)
		default:
			out[k] = FromAny(v)
		}
	}
	*r = out
	return nil
}

// FromMap converts a plain map (e.g. decoded YAML) into a Record.
func FromMap(m map[string]any) Record {
	out := make(Record, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// Columns returns the union of columns across rows, keeping first-seen order
// and starting from the given base order.
func Columns(base []string, rows []Record) []string {
	seen := make(map[string]struct{}, len(base))
	cols := make([]string, 0, len(base))
	for _, c := range base {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	for _, row := range rows {
		for _, k := range row.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}
