package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/branchworks/branchmerge/internal/core"
)

func writeExport(t *testing.T, root string, parts ...string) {
	t.Helper()

	content := parts[len(parts)-1]
	rel := filepath.Join(parts[:len(parts)-1]...)
	dst := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestDirBackendListSources(t *testing.T) {
	root := t.TempDir()
	writeExport(t, root, "state_bank_of_india", "rbi_data_1699990000.csv", "a,b\n1,2\n")
	writeExport(t, root, "hdfc_bank", "rbi_data_1700000000.csv", "old")
	writeExport(t, root, "hdfc_bank", "rbi_data_1700000500.csv", "new")
	writeExport(t, root, "hdfc_bank", "notes.txt", "ignore me")
	writeExport(t, root, "axis_bank", "readme.md", "no exports here")
	writeExport(t, root, "merged_1700000900.xlsx", "root-level artifact")
	writeExport(t, root, "exports", "merged_1700000900.xlsx", "prior run output")
	if err := os.MkdirAll(filepath.Join(root, "empty_bank"), 0o755); err != nil {
		t.Fatal(err)
	}

	b, err := NewDirBackend(root, "")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	handles, err := b.ListSources(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(handles) != 2 {
		t.Fatalf("handles = %v, want hdfc_bank and state_bank_of_india", handles)
	}
	if handles[0].Label != "hdfc_bank" || handles[1].Label != "state_bank_of_india" {
		t.Errorf("labels not sorted: %v", handles)
	}
	if want := filepath.Join("hdfc_bank", "rbi_data_1700000500.csv"); handles[0].Key != want {
		t.Errorf("key = %q, want newest export %q", handles[0].Key, want)
	}
}

func TestDirBackendFetch(t *testing.T) {
	root := t.TempDir()
	writeExport(t, root, "hdfc_bank", "rbi_data_1700000000.csv",
		"IFSC,Branch Name\nHDFC0000001,FORT\nHDFC0000002,KURLA\n")

	b, err := NewDirBackend(root, "")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	data, err := b.Fetch(context.Background(), core.SourceHandle{
		Label: "hdfc_bank",
		Key:   filepath.Join("hdfc_bank", "rbi_data_1700000000.csv"),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if data.ReadCount != 2 || len(data.Rows) != 2 {
		t.Errorf("ReadCount = %d, rows = %d, want 2 and 2", data.ReadCount, len(data.Rows))
	}
	if data.Rows[0][1] != "FORT" {
		t.Errorf("rows[0][1] = %q", data.Rows[0][1])
	}
}

func TestDirBackendFetchMissing(t *testing.T) {
	b, err := NewDirBackend(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Fetch(context.Background(), core.SourceHandle{Label: "x", Key: "x/gone.csv"}); err == nil {
		t.Fatal("expected error for a missing export")
	}
}

func TestDirBackendPutObject(t *testing.T) {
	root := t.TempDir()
	b, err := NewDirBackend(root, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := b.PutObject(context.Background(), "exports/merged_1700000000.xlsx", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "exports", "merged_1700000000.xlsx"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("payload = %q", got)
	}
}

func TestNewDirBackendValidation(t *testing.T) {
	if _, err := NewDirBackend("", ""); err == nil {
		t.Error("expected error for empty root")
	}
	if _, err := NewDirBackend(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDirBackend(file, ""); err == nil {
		t.Error("expected error for non-directory root")
	}
}
