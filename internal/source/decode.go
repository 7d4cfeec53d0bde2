package source

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/branchworks/branchmerge/internal/core"
)

// xlsxMagic is the ZIP local-file-header signature every workbook
// starts with.
var xlsxMagic = []byte("PK\x03\x04")

// Decode parses a fetched export payload into a source table. The
// format follows the key's extension. Workbook payloads are sniffed
// against the ZIP magic first because upstream portals occasionally
// serve an HTML error page under an .xlsx name.
//
// The returned ReadCount is the row count at decode time; it seeds the
// audit trail for the source.
func Decode(key string, payload []byte, enc string) (*core.SourceData, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", key)
	}

	var (
		header []string
		rows   [][]string
		err    error
	)
	switch ext := strings.ToLower(path.Ext(key)); ext {
	case ".xlsx":
		if !bytes.HasPrefix(payload, xlsxMagic) {
			return nil, fmt.Errorf("decode %s: payload is not a workbook", key)
		}
		header, rows, err = parseXLSX(payload)
	case ".csv":
		header, rows, err = parseCSV(bytes.NewReader(payload), enc)
	default:
		return nil, fmt.Errorf("decode %s: unsupported extension %q", key, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	return &core.SourceData{Header: header, Rows: rows, ReadCount: len(rows)}, nil
}

// splitTable separates the first non-empty row as the header and drops
// all-empty rows. Dropping happens before counting, so padding rows in
// an export never show up as losses downstream.
func splitTable(all [][]string) ([]string, [][]string, error) {
	var header []string
	rows := make([][]string, 0, len(all))
	for _, rec := range all {
		if allEmpty(rec) {
			continue
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	if header == nil {
		return nil, nil, errors.New("no header row")
	}
	return header, rows, nil
}

func allEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
