package fetcher

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/asphaltanchors/importer/internal/model"
)

// ParseCSV reads a header-first CSV export into rows keyed by column name.
// Real exports are ragged: records may be shorter than the header, carry
// stray cells beyond it, or be entirely blank. Short records leave columns
// absent, extra cells are dropped, and blank records are skipped.
func ParseCSV(r io.Reader) ([]model.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty input")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	var rows []model.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read record")
		}
		row := MapRow(header, record)
		if len(row) == 0 {
			continue
		}
		rows = append(rows, row)
	}
}

// MapRow zips one record against the header. Header names are trimmed,
// unnamed columns and blank cells are omitted so Row.Get falls through
// cleanly, and cells beyond the header are dropped.
func MapRow(header, record []string) model.Row {
	row := make(model.Row, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" || i >= len(record) {
			continue
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			row[name] = v
		}
	}
	return row
}
