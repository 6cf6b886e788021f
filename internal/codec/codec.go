// Package codec decodes uploaded files into a header row and a record stream.
//
// Supported formats are chosen by file extension: .csv, .tsv and .txt are
// read as delimited text, .xlsx and .xls as spreadsheets (first sheet only).
// String cells are trimmed and NFC-normalised; spreadsheet numeric cells keep
// their numeric type. Cells missing from a short row are null.
package codec

import (
	"fmt"
	"iter"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/domainkeeper/internal/record"
	"golang.org/x/text/unicode/norm"
)

// Format is a supported file encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatTXT  Format = "txt"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DecodeError reports a malformed or unsupported file.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Reason
}

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Table is a decoded file.
type Table struct {
	Format Format
	Sheet  string
	Header []string
	Rows   []record.Record
	// BytesRead is the number of source bytes the decoder consumed.
	BytesRead int64
}

// All iterates rows with their 0-based data row index.
func (t *Table) All() iter.Seq2[int, record.Record] {
	return func(yield func(int, record.Record) bool) {
		for i, r := range t.Rows {
			if !yield(i, r) {
				return
			}
		}
	}
}

// DetectFormat maps a file name to a Format by extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".txt":
		return FormatTXT, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	default:
		return "", decodeErrorf("unsupported file extension %q", filepath.Ext(filename))
	}
}

// Decode parses data using the format implied by filename.
func Decode(data []byte, filename string) (*Table, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	var (
		grid  [][]cell
		sheet string
		read  = int64(len(data))
	)
	switch format {
	case FormatCSV:
		grid, read, err = readDelimited(data, ',')
	case FormatTSV:
		grid, read, err = readDelimited(data, '\t')
	case FormatTXT:
		grid, read, err = readDelimited(data, sniffDelimiter(data))
	case FormatXLSX:
		sheet, grid, err = readXLSX(data)
	case FormatXLS:
		sheet, grid, err = readXLS(data)
	}
	if err != nil {
		return nil, err
	}

	t := buildTable(grid)
	t.Format = format
	t.Sheet = sheet
	t.BytesRead = read
	return t, nil
}

// cell is a raw grid value before header mapping.
type cell struct {
	value   record.Value
	present bool
}

func textCell(s string) cell {
	return cell{value: record.String(cleanText(s)), present: true}
}

func cleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// buildTable turns a grid into header + records. Empty header cells are
// skipped and duplicate header names keep the first occurrence.
func buildTable(grid [][]cell) *Table {
	t := &Table{Header: []string{}, Rows: []record.Record{}}
	if len(grid) == 0 {
		return t
	}

	type column struct {
		name  string
		index int
	}
	var cols []column
	seen := make(map[string]struct{})
	for i, c := range grid[0] {
		if !c.present {
			continue
		}
		name := cleanText(record.Stringify(c.value))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		cols = append(cols, column{name: name, index: i})
		t.Header = append(t.Header, name)
	}

	for _, row := range grid[1:] {
		if len(row) == 0 {
			continue
		}
		rec := make(record.Record, len(cols))
		for _, col := range cols {
			if col.index < len(row) && row[col.index].present {
				rec[col.name] = row[col.index].value
			} else {
				rec[col.name] = record.Null{}
			}
		}
		t.Rows = append(t.Rows, rec)
	}
	return t
}
