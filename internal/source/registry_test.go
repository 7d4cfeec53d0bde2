package source

import (
	"context"
	"strings"
	"testing"
)

func TestOpenDirBackend(t *testing.T) {
	b, err := Open(context.Background(), "dir", Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := b.(*DirBackend); !ok {
		t.Errorf("backend = %T, want *DirBackend", b)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "ftp", Options{})
	if err == nil || !strings.Contains(err.Error(), "unknown source backend") {
		t.Fatalf("err = %v", err)
	}
	// The error lists what is available.
	if !strings.Contains(err.Error(), "dir") || !strings.Contains(err.Error(), "s3") {
		t.Errorf("err = %v, want registered names listed", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	factory := func(context.Context, Options) (Backend, error) { return nil, nil }
	Register("registry-test-dup", factory)

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	Register("registry-test-dup", factory)
}

func TestBackendsSorted(t *testing.T) {
	names := Backends()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}

	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	if !have["dir"] || !have["s3"] {
		t.Errorf("names = %v, want dir and s3 registered", names)
	}
}
