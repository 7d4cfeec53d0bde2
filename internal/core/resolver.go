package core

import (
	"strings"

	"github.com/branchworks/branchmerge/internal/schema"
)

// Resolver maps raw spreadsheet headers onto canonical fields using the
// schema's alias table. Matching is tolerant of casing, whitespace, and
// punctuation: both sides are normalized identically before comparison.
type Resolver struct {
	sch  *schema.Schema
	norm func(string) string
}

// NewResolver builds a resolver for the schema's configured header
// normalization variant.
func NewResolver(sch *schema.Schema) *Resolver {
	norm := normalizeCompact
	if sch.Normalization == schema.NormalizationUnderscore {
		norm = normalizeUnderscore
	}
	return &Resolver{sch: sch, norm: norm}
}

// Resolve returns the header position for a canonical field. Aliases are
// tried in priority order; the canonical field name itself is tried last.
// A miss is not an error: absence is the common case and is handled by
// the caller's fallback policy.
func (r *Resolver) Resolve(header []string, field schema.Field) (int, bool) {
	return r.resolveIn(r.headerIndex(header), field)
}

// Positions resolves every schema field against a header in one pass.
// Fields without a match are absent from the result.
func (r *Resolver) Positions(header []string) map[schema.Field]int {
	idx := r.headerIndex(header)
	out := make(map[schema.Field]int, len(r.sch.Fields))
	for _, fd := range r.sch.Fields {
		if pos, ok := r.resolveIn(idx, fd.Name); ok {
			out[fd.Name] = pos
		}
	}
	return out
}

// ResolveWide retries a miss by scanning for any header that merely
// contains one of the field's aliases. Reserved for the opt-in branch
// scan, where legacy headers are at their messiest; field resolution in
// the merge pipeline sticks to exact alias matching.
func (r *Resolver) ResolveWide(header []string, field schema.Field) (int, bool) {
	if pos, ok := r.Resolve(header, field); ok {
		return pos, true
	}
	fd, ok := r.sch.Def(field)
	if !ok {
		return -1, false
	}
	for _, alias := range fd.Aliases {
		want := r.norm(alias)
		if want == "" {
			continue
		}
		for i, raw := range header {
			if strings.Contains(r.norm(raw), want) {
				return i, true
			}
		}
	}
	return -1, false
}

// BranchScanKeywords are header substrings accepted as a branch column
// during the widened scan, provided the column holds at least one value.
var BranchScanKeywords = []string{"office", "location", "details"}

// ScanBranchColumn locates a branch-name column with the widened rules
// the optional source gate uses: alias substring matches first, then
// keyword headers backed by at least one non-empty cell. It never
// influences field resolution; it only answers whether a table carries
// branch data at all.
func (r *Resolver) ScanBranchColumn(header []string, rows [][]string) (int, bool) {
	if i, ok := r.ResolveWide(header, schema.FieldBranchName); ok {
		return i, ok
	}
	for _, kw := range BranchScanKeywords {
		for i, raw := range header {
			if strings.Contains(r.norm(raw), kw) && columnHasValue(rows, i) {
				return i, true
			}
		}
	}
	return -1, false
}

func columnHasValue(rows [][]string, col int) bool {
	for _, row := range rows {
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			return true
		}
	}
	return false
}

// headerIndex maps normalized header names to their first position.
// When two raw headers normalize identically, the leftmost wins.
func (r *Resolver) headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, raw := range header {
		key := r.norm(raw)
		if key == "" {
			continue
		}
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

func (r *Resolver) resolveIn(idx map[string]int, field schema.Field) (int, bool) {
	fd, ok := r.sch.Def(field)
	if !ok {
		return -1, false
	}
	for _, alias := range fd.Aliases {
		if pos, ok := idx[r.norm(alias)]; ok {
			return pos, true
		}
	}
	if pos, ok := idx[r.norm(string(field))]; ok {
		return pos, true
	}
	return -1, false
}

// normalizeCompact lowercases and strips everything that is not a letter
// or digit: "Branch Name" and "BRANCH-NAME" both become "branchname".
func normalizeCompact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeUnderscore lowercases, collapses whitespace runs to a single
// underscore, and strips remaining characters outside [a-z0-9_]:
// "Branch Name" becomes "branch_name". Stricter than compact because
// word boundaries survive.
func normalizeUnderscore(s string) string {
	joined := strings.Join(strings.Fields(strings.ToLower(s)), "_")
	var b strings.Builder
	b.Grow(len(joined))
	for _, r := range joined {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
