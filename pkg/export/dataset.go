// Package export renders tabular documents such as the KRS study card.
package export

// Field is a labelled value printed above the table.
type Field struct {
	Label string
	Value string
}

// Dataset defines tabular export content. Widths, when set, are relative
// column weights and must match Headers in length.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	Fields  []Field
	Widths  []float64
	Footer  string
}

// record returns row's values in Headers order. Missing cells are empty.
func (d Dataset) record(row map[string]string) []string {
	values := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		values[i] = row[header]
	}
	return values
}
