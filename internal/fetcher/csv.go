package fetcher

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter rune   // 0 = sniff ';' or ',' from the first line
	Encoding  string // "utf-8" (default) or "latin1"/"iso-8859-1"/"windows-1252"
	SkipRows  int    // number of leading records to drop before the header
}

// ReadCSV reads a CSV export of the spreadsheet. Exports from Excel in
// pt-BR locales are usually ';'-separated and Windows-1252 encoded, so both
// are handled here.
func ReadCSV(path string, opts CSVOptions) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	return ParseCSV(f, opts)
}

// ParseCSV parses CSV records from r. See ReadCSV.
func ParseCSV(r io.Reader, opts CSVOptions) ([][]string, error) {
	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(decoded)
	if err != nil {
		return nil, eris.Wrap(err, "csv: read input")
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = opts.Delimiter
	if reader.Comma == 0 {
		reader.Comma = sniffDelimiter(text)
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable fields

	var rows [][]string
	for i := 0; ; i++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		if i < opts.SkipRows {
			continue
		}
		for j, field := range record {
			record[j] = strings.TrimSpace(field)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin1", "latin-1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, eris.Errorf("csv: unsupported encoding %q", encoding)
	}
}

func sniffDelimiter(text string) rune {
	line, _, _ := strings.Cut(text, "\n")
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
