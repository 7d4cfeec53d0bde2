package source

import (
	"encoding/csv"
	"fmt"
	"io"
)

// parseCSV reads an entire CSV export. Exports in the wild carry ragged
// rows and stray quotes, so the reader is permissive: field counts may
// vary per record and lazy quotes are accepted.
func parseCSV(r io.Reader, enc string) ([]string, [][]string, error) {
	dr, err := decodeReader(r, enc)
	if err != nil {
		return nil, nil, err
	}

	cr := csv.NewReader(dr)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	return splitTable(all)
}
