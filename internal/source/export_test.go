package source

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/branchworks/branchmerge/internal/core"
	"github.com/branchworks/branchmerge/internal/schema"
)

type captureWriter struct {
	key     string
	payload []byte
	err     error
}

func (w *captureWriter) PutObject(_ context.Context, key string, payload []byte) error {
	if w.err != nil {
		return w.err
	}
	w.key = key
	w.payload = payload
	return nil
}

func TestExporterWritesWorkbook(t *testing.T) {
	batch := &core.Batch{
		Source:  "merged",
		Columns: []schema.Field{schema.FieldIFSCCode, schema.FieldBranchName, schema.FieldCity1},
		Records: []core.Record{
			{"HDFC0000001", "FORT", "MUMBAI"},
			{"SBIN0000300", "MAIN"},
		},
	}

	w := &captureWriter{}
	e := NewExporter(w, "exports")
	e.now = func() time.Time { return time.Unix(1700000000, 0) }

	key, err := e.Export(context.Background(), batch)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if key != "exports/merged_1700000000.xlsx" {
		t.Errorf("key = %q", key)
	}
	if w.key != key {
		t.Errorf("stored under %q, returned %q", w.key, key)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.payload))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetName(0); got != "Merged Data" {
		t.Errorf("sheet = %q", got)
	}

	header, rows, err := parseXLSX(w.payload)
	if err != nil {
		t.Fatalf("parse exported workbook: %v", err)
	}
	if len(header) != 3 || header[0] != "ifsc_code" || header[2] != "city1" {
		t.Errorf("header = %v", header)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][2] != "MUMBAI" {
		t.Errorf("rows[0][2] = %q", rows[0][2])
	}
	if rows[1][1] != "MAIN" {
		t.Errorf("rows[1][1] = %q (short record should pad)", rows[1][1])
	}
}

func TestExporterEmptyPrefix(t *testing.T) {
	w := &captureWriter{}
	e := NewExporter(w, "")
	e.now = func() time.Time { return time.Unix(42, 0) }

	key, err := e.Export(context.Background(), &core.Batch{
		Columns: []schema.Field{schema.FieldIFSCCode},
		Records: []core.Record{{"HDFC0000001"}},
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if key != "merged_42.xlsx" {
		t.Errorf("key = %q, want root-level artifact", key)
	}
}

func TestExporterWriterError(t *testing.T) {
	e := NewExporter(&captureWriter{err: errors.New("denied")}, "exports")

	_, err := e.Export(context.Background(), &core.Batch{
		Columns: []schema.Field{schema.FieldIFSCCode},
	})
	if err == nil {
		t.Fatal("expected writer error to propagate")
	}
}
