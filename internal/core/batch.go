package core

import (
	"github.com/branchworks/branchmerge/internal/schema"
)

// Pipeline stage names, in execution order. The auditor keys its
// per-source counts by these.
const (
	StageRead      = "read"
	StageNormalize = "normalize"
	StageUnify     = "unify"
	StageDedupe    = "dedupe"
	StagePersist   = "persist"
)

// Stages lists every stage name in execution order.
var Stages = []string{StageRead, StageNormalize, StageUnify, StageDedupe, StagePersist}

// Record is one canonical row. Values are aligned to the Columns of the
// Batch that owns the record.
type Record []string

// Batch is an ordered set of canonical records with provenance. Each
// stage produces a new Batch; a Batch is never mutated after handoff.
type Batch struct {
	// Source is the organizational label of the file the records came
	// from, or "merged" after unification.
	Source string

	// Columns is the record layout. Per-source batches carry the fields
	// the normalizer produced; the unified batch carries the union
	// across all sources with identity fields first.
	Columns []schema.Field

	Records []Record

	// Origins carries the per-record source label. Nil on per-source
	// batches (Source applies to every record); populated by the
	// unifier so later stages can attribute counts per source.
	Origins []string

	// ReadCount is the row count reported by the fetcher before any
	// transformation. It is the auditor's baseline for this source.
	ReadCount int
}

// Origin returns the source label for record i.
func (b *Batch) Origin(i int) string {
	if b.Origins != nil {
		return b.Origins[i]
	}
	return b.Source
}

// ColumnIndex returns the position of a field in the batch layout, or
// -1 when the batch does not carry it.
func (b *Batch) ColumnIndex(f schema.Field) int {
	for i, c := range b.Columns {
		if c == f {
			return i
		}
	}
	return -1
}

// Value returns record r's value for a field, or "" when the batch does
// not carry the field.
func (b *Batch) Value(r int, f schema.Field) string {
	i := b.ColumnIndex(f)
	if i < 0 || i >= len(b.Records[r]) {
		return ""
	}
	return b.Records[r][i]
}
