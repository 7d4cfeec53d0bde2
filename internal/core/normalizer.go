package core

import (
	"strings"

	"github.com/branchworks/branchmerge/internal/schema"
)

// Normalizer builds canonical records from raw source rows. It resolves
// columns through the Resolver, applies per-field cleaning policies, and
// fills absent values through the schema's fallback chains.
type Normalizer struct {
	sch *schema.Schema
	res *Resolver
}

func NewNormalizer(sch *schema.Schema, res *Resolver) *Normalizer {
	return &Normalizer{sch: sch, res: res}
}

// NormalizeBatch converts one source file's rows into a canonical batch.
// readCount is the fetcher's pre-transformation row count, carried as
// the auditor's baseline.
func (n *Normalizer) NormalizeBatch(source string, header []string, rows [][]string, readCount int) *Batch {
	return &Batch{
		Source:    source,
		Columns:   n.sch.FieldNames(),
		Records:   n.NormalizeRows(header, rows, source),
		ReadCount: readCount,
	}
}

// NormalizeRows converts raw rows into canonical records. Every input
// row yields exactly one record, however malformed; row dropping is
// reserved for the explicitly counted stages downstream.
func (n *Normalizer) NormalizeRows(header []string, rows [][]string, label string) []Record {
	positions := n.res.Positions(header)
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = n.normalizeRow(positions, row, label)
	}
	return records
}

func (n *Normalizer) normalizeRow(positions map[schema.Field]int, row []string, label string) Record {
	rec := make(Record, len(n.sch.Fields))

	// First pass: resolve and clean every field.
	for i, fd := range n.sch.Fields {
		raw := ""
		if pos, ok := positions[fd.Name]; ok && pos < len(row) {
			raw = row[pos]
		}
		rec[i] = cleanValue(raw, fd)
	}

	// Second pass: fill absent values, in declaration order. A fallback
	// field reads the referenced value as it stands when its turn comes.
	for i, fd := range n.sch.Fields {
		if rec[i] != "" {
			continue
		}
		rec[i] = n.fallback(rec, fd, label)
	}
	return rec
}

// fallback produces a value for an absent field: referenced fields in
// order, then the source label, then the literal. Adopted values are
// truncated to the adopting field's limit.
func (n *Normalizer) fallback(rec Record, fd schema.FieldDef, label string) string {
	for _, ref := range fd.FallbackFields {
		if j, ok := n.sch.IndexOf(ref); ok && rec[j] != "" {
			return truncate(rec[j], fd.Limit)
		}
	}
	if fd.LabelFallback {
		if v := humanizeLabel(label); v != "" {
			return truncate(v, fd.Limit)
		}
	}
	if fd.FallbackLiteral != "" {
		return truncate(fd.FallbackLiteral, fd.Limit)
	}
	return ""
}

// cleanValue applies a field's cleaning policy. Conversion artifacts
// ("nan", "none", "null") become empty before any policy runs.
func cleanValue(raw string, fd schema.FieldDef) string {
	if isAbsent(raw) {
		return ""
	}
	switch fd.Policy {
	case schema.PolicyDigitsOnly:
		return truncate(stripNonDigits(raw), fd.Limit)
	default:
		return truncate(strings.TrimSpace(raw), fd.Limit)
	}
}

// isAbsent reports whether a cell value carries no data. This is the
// single absence predicate for the whole pipeline: blank after trimming,
// or a literal token left behind by an upstream numeric-to-string
// conversion.
func isAbsent(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncate limits a value to limit characters, counting runes so
// multibyte text is never cut mid-character.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// humanizeLabel turns a storage-safe source label back into a display
// name: separators become spaces and runs collapse.
func humanizeLabel(label string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ").Replace(label)
	return strings.Join(strings.Fields(replaced), " ")
}
