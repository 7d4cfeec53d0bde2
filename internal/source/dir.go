package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/branchworks/branchmerge/internal/core"
)

func init() {
	Register("dir", func(_ context.Context, opts Options) (Backend, error) {
		return NewDirBackend(opts.Root, opts.Encoding)
	})
}

// DirBackend reads exports from a local directory tree laid out the
// same way as the s3 backend: one subdirectory per source organization
// holding epoch-stamped spreadsheet exports.
type DirBackend struct {
	root string
	enc  string
}

func NewDirBackend(root, enc string) (*DirBackend, error) {
	if root == "" {
		return nil, errors.New("dir backend needs a root directory")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}
	return &DirBackend{root: root, enc: enc}, nil
}

// ListSources returns one handle per source subdirectory, each pointing
// at the subdirectory's newest export. Directories without any export
// are skipped. Handles come back sorted by label so runs enumerate
// sources in a stable order.
func (b *DirBackend) ListSources(ctx context.Context) ([]core.SourceHandle, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.root, err)
	}

	handles := make([]core.SourceHandle, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		key, ok, err := b.latestExport(e.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		handles = append(handles, core.SourceHandle{Label: e.Name(), Key: key})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Label < handles[j].Label })
	return handles, nil
}

// latestExport picks the newest export in a source directory. Export
// names carry an epoch stamp, so the greatest name is the newest file.
func (b *DirBackend) latestExport(dir string) (string, bool, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, dir))
	if err != nil {
		return "", false, fmt.Errorf("list %s: %w", dir, err)
	}

	var latest string
	for _, e := range entries {
		if e.IsDir() || !isExportName(e.Name()) {
			continue
		}
		if e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", false, nil
	}
	return filepath.Join(dir, latest), true, nil
}

// Fetch reads and decodes the export behind a handle.
func (b *DirBackend) Fetch(ctx context.Context, h core.SourceHandle) (*core.SourceData, error) {
	payload, err := os.ReadFile(filepath.Join(b.root, h.Key))
	if err != nil {
		return nil, err
	}
	return Decode(h.Key, payload, b.enc)
}

// PutObject writes an artifact under the root, creating parent
// directories as needed. Keys are slash-separated like object keys.
func (b *DirBackend) PutObject(ctx context.Context, key string, payload []byte) error {
	dst := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, payload, 0o644)
}
