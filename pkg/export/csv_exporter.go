package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
)

// CSVExporter writes the table of a Dataset, one record per row in Headers
// order. A non-empty Footer becomes a trailing record in the first column.
// Fields are PDF only.
type CSVExporter struct {
	// Delimiter separates values. Zero means a comma.
	Delimiter rune
}

// NewCSVExporter builds a comma separated exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{Delimiter: ','}
}

// Render encodes the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, errors.New("csv export needs at least one header")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if e.Delimiter != 0 {
		w.Comma = e.Delimiter
	}

	records := make([][]string, 0, len(data.Rows)+2)
	records = append(records, data.Headers)
	for _, row := range data.Rows {
		records = append(records, data.record(row))
	}
	if data.Footer != "" {
		footer := make([]string, len(data.Headers))
		footer[0] = data.Footer
		records = append(records, footer)
	}

	// WriteAll flushes and reports the first write error.
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
