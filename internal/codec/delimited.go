package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
)

// sniffDelimiter picks the most frequent candidate delimiter on the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{'\t', ',', ';', '|'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// readDelimited returns the grid and the number of source bytes consumed.
func readDelimited(data []byte, comma rune) ([][]cell, int64, error) {
	r, counter := WrapForDecoding(bytes.NewReader(data))

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var grid [][]cell
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, 0, decodeErrorf("line %d: %v", perr.Line, perr.Err)
			}
			return nil, 0, decodeErrorf("read: %v", err)
		}
		row := make([]cell, len(fields))
		for i, f := range fields {
			row[i] = textCell(f)
		}
		grid = append(grid, row)
	}
	return grid, counter.BytesRead(), nil
}
