// Package source provides the export backends the merge pipeline reads
// spreadsheets from. A backend maps one folder per source organization
// to a handle pointing at the folder's newest export, and fetches the
// decoded table behind a handle. Backends self-register by name; Open
// builds one from configuration.
package source

import (
	"path"
	"strings"

	"github.com/branchworks/branchmerge/internal/core"
)

// Backend lists source exports and fetches them for the pipeline.
type Backend interface {
	core.SourceLister
	core.SourceFetcher
}

// Options carries backend configuration. Each backend reads the fields
// that concern it and ignores the rest.
type Options struct {
	// Root is the dir backend's base directory.
	Root string

	// Bucket, Prefix and Region locate the s3 backend's exports.
	Bucket string
	Prefix string
	Region string

	// Encoding names the character set of CSV exports. Empty means
	// UTF-8.
	Encoding string
}

// isExportName reports whether a file name is a spreadsheet export the
// listers consider. The Exporter's merged artifacts share the tree and
// are never sources, so its naming convention is excluded.
func isExportName(name string) bool {
	if strings.HasPrefix(strings.ToLower(name), mergedArtifactPrefix) {
		return false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".csv":
		return true
	}
	return false
}

// normalizePrefix trims a leading slash and guarantees a trailing one,
// so keys always join as <prefix><rest>. Empty stays empty.
func normalizePrefix(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
