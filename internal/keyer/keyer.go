// Package keyer fingerprints rows by a domain's business key.
//
// The hash input is the pipe-joined canonical string form of the effective
// key values, in key order, hashed with SHA-256 and hex encoded. Stored
// key_hash values depend on this exact encoding; changes require a new
// [Scheme] and a data migration.
package keyer

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/JonMunkholm/domainkeeper/internal/record"
)

// Scheme identifies the canonicalization used for key hashes.
const Scheme = "sha256-pipe/v1"

// RowIndexColumn is the synthetic key column holding a row's 0-based file position.
const RowIndexColumn = "__row_index"

// Separator joins key values before hashing.
const Separator = "|"

// Key is a computed row fingerprint.
type Key struct {
	Columns []string
	Values  record.Record
	Hash    string
}

// Keyer computes keys for one domain's business key.
type Keyer struct {
	businessKey []string
}

// New returns a Keyer for the given business key order.
func New(businessKey []string) *Keyer {
	return &Keyer{businessKey: slices.Clone(businessKey)}
}

// Effective filters the business key to columns present in header. When none
// remain, the synthetic row index is used.
func (k *Keyer) Effective(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	cols := make([]string, 0, len(k.businessKey))
	for _, c := range k.businessKey {
		if _, ok := present[c]; ok {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return []string{RowIndexColumn}
	}
	return cols
}

// Compute builds the key for row at the given 0-based index.
func Compute(columns []string, row record.Record, index int) Key {
	values := make(record.Record, len(columns))
	parts := make([]string, len(columns))
	for i, c := range columns {
		var v record.Value
		if c == RowIndexColumn {
			v = record.Int(int64(index))
		} else {
			v = row[c]
			if v == nil {
				v = record.Null{}
			}
		}
		values[c] = v
		parts[i] = record.Stringify(v)
	}
	return Key{
		Columns: slices.Clone(columns),
		Values:  values,
		Hash:    Hash(parts),
	}
}

// Extend appends the row index column unless already present.
func Extend(columns []string) []string {
	if slices.Contains(columns, RowIndexColumn) {
		return columns
	}
	out := make([]string, 0, len(columns)+1)
	out = append(out, columns...)
	return append(out, RowIndexColumn)
}

// IsExtended reports whether the key already carries the row index.
func (k Key) IsExtended() bool {
	return slices.Contains(k.Columns, RowIndexColumn)
}

// Hash returns the hex SHA-256 of the pipe-joined parts.
func Hash(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, Separator)))
	return hex.EncodeToString(sum[:])
}
