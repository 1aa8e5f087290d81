package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetToCSV converts the first non-empty sheet of an .xlsx workbook
// to comma-separated text for the tabular parser. Leading blank rows are
// skipped so the first row with content becomes the header.
func SpreadsheetToCSV(raw []byte) (string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		start := 0
		for start < len(rows) && blankRow(rows[start]) {
			start++
		}
		if start == len(rows) {
			continue
		}

		// GetRows drops trailing empty cells; pad back to header width.
		width := len(rows[start])
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		for _, row := range rows[start:] {
			for i := range row {
				row[i] = strings.TrimSpace(row[i])
			}
			for len(row) < width {
				row = append(row, "")
			}
			if err := w.Write(row); err != nil {
				return "", "", fmt.Errorf("write sheet %q: %w", sheet, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", "", fmt.Errorf("write sheet %q: %w", sheet, err)
		}
		return buf.String(), sheet, nil
	}
	return "", "", nil
}
