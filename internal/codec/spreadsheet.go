package codec

import (
	"bytes"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/domainkeeper/internal/record"
)

// readXLSX reads the first sheet of an Office Open XML workbook.
func readXLSX(data []byte) (string, [][]cell, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, decodeErrorf("open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, nil
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return sheet, nil, decodeErrorf("read sheet %q: %v", sheet, err)
	}

	grid := make([][]cell, 0, len(rows))
	for r, row := range rows {
		out := make([]cell, len(row))
		for c, raw := range row {
			if raw == "" {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return sheet, nil, decodeErrorf("cell %d,%d: %v", r+1, c+1, err)
			}
			typ, err := f.GetCellType(sheet, name)
			if err != nil {
				return sheet, nil, decodeErrorf("cell %s: %v", name, err)
			}
			out[c] = xlsxCell(typ, raw)
		}
		grid = append(grid, out)
	}
	return sheet, grid, nil
}

func xlsxCell(typ excelize.CellType, raw string) cell {
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeFormula:
		// Numbers are usually stored without a type attribute.
		if f, ok := record.ParseNumber(raw); ok {
			return cell{value: record.FromFloat(f), present: true}
		}
	case excelize.CellTypeBool:
		switch strings.TrimSpace(raw) {
		case "1", "TRUE", "true":
			return cell{value: record.Bool(true), present: true}
		case "0", "FALSE", "false":
			return cell{value: record.Bool(false), present: true}
		}
	}
	return textCell(raw)
}

// readXLS reads the first sheet of a legacy BIFF workbook. The format does not
// expose cell types through the reader, so cells that parse as numbers are
// treated as numeric.
func readXLS(data []byte) (string, [][]cell, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return "", nil, decodeErrorf("open xls: %v", err)
	}
	if wb.NumSheets() == 0 {
		return "", nil, nil
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return "", nil, nil
	}

	var grid [][]cell
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			continue
		}
		out := make([]cell, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			raw := row.Col(c)
			if raw == "" {
				continue
			}
			if len(grid) > 0 {
				if f, ok := record.ParseNumber(raw); ok {
					out[c] = cell{value: record.FromFloat(f), present: true}
					continue
				}
			}
			out[c] = textCell(raw)
		}
		grid = append(grid, out)
	}
	return ws.Name, grid, nil
}
