// Package fetcher loads the source spreadsheet (XLSX or CSV) into
// header-keyed rows.
package fetcher

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// SheetOptions selects the sheet and how to read it.
type SheetOptions struct {
	SheetName string
	SkipRows  int
	Encoding  string // CSV only
	Delimiter rune   // CSV only
}

// LoadRows reads path (by extension) and keys every data row by the trimmed
// header. Rows with no non-blank cell are dropped.
func LoadRows(path string, opts SheetOptions) ([]model.Row, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = ReadXLSX(path, XLSXOptions{SheetName: opts.SheetName, SkipRows: opts.SkipRows})
	case ".csv", ".txt":
		records, err = ReadCSV(path, CSVOptions{Delimiter: opts.Delimiter, Encoding: opts.Encoding, SkipRows: opts.SkipRows})
	default:
		return nil, eris.Errorf("fetcher: unsupported sheet format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return KeyRows(records), nil
}

// KeyRows treats records[0] as the header and maps each later record onto it.
// Header names are trimmed and upper-cased; cell values are trimmed. Missing
// trailing cells read as "".
func KeyRows(records [][]string) []model.Row {
	if len(records) == 0 {
		return nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToUpper(strings.TrimSpace(h))
	}

	rows := make([]model.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(model.Row, len(header))
		blank := true
		for i, col := range header {
			if col == "" {
				continue
			}
			var v string
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			if v != "" {
				blank = false
			}
			row[col] = v
		}
		if blank {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
