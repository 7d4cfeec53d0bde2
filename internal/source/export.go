package source

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/branchworks/branchmerge/internal/core"
)

// ObjectWriter stores an export artifact under a key. Both backends
// implement it.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, payload []byte) error
}

// mergedArtifactPrefix names the Exporter's output files. The listers
// exclude this prefix, so an export written inside the listed tree is
// never picked up as a source on the next run.
const mergedArtifactPrefix = "merged_"

// Exporter renders a merged batch to a single-sheet workbook and stores
// it through an ObjectWriter. The key carries the run's epoch, so
// successive exports never overwrite each other and sort
// chronologically.
type Exporter struct {
	writer ObjectWriter
	prefix string
	now    func() time.Time
}

// NewExporter builds an exporter writing under prefix. An empty prefix
// writes at the backend root, outside the per-source folders the
// listers scan.
func NewExporter(w ObjectWriter, prefix string) *Exporter {
	return &Exporter{writer: w, prefix: normalizePrefix(prefix), now: time.Now}
}

// Export writes the batch and returns the stored key.
func (e *Exporter) Export(ctx context.Context, batch *core.Batch) (string, error) {
	payload, err := renderWorkbook(batch)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s%s%d.xlsx", e.prefix, mergedArtifactPrefix, e.now().UTC().Unix())
	if err := e.writer.PutObject(ctx, key, payload); err != nil {
		return "", err
	}
	return key, nil
}

// renderWorkbook streams the batch into one sheet: a header row with
// the canonical field names, then one row per record in column order.
func renderWorkbook(batch *core.Batch) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Merged Data"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	header := make([]interface{}, len(batch.Columns))
	for i, col := range batch.Columns {
		header[i] = string(col)
	}
	if err := writeRow(sw, 1, header); err != nil {
		return nil, err
	}

	for i, rec := range batch.Records {
		row := make([]interface{}, len(batch.Columns))
		for j := range batch.Columns {
			if j < len(rec) {
				row[j] = rec[j]
			} else {
				row[j] = ""
			}
		}
		if err := writeRow(sw, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(sw *excelize.StreamWriter, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("render workbook: %w", err)
	}
	if err := sw.SetRow(cell, values); err != nil {
		return fmt.Errorf("render workbook row %d: %w", row, err)
	}
	return nil
}
