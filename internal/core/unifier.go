package core

import (
	"fmt"

	"github.com/branchworks/branchmerge/internal/schema"
)

// Unifier merges per-source batches into a single batch spanning the
// union of their columns. It is a barrier stage: callers invoke it once,
// after all per-source chains have completed.
type Unifier struct {
	sch *schema.Schema
}

func NewUnifier(sch *schema.Schema) *Unifier {
	return &Unifier{sch: sch}
}

// Unify concatenates batches over the union of their columns, padding
// records with empty values for fields their source lacked. It is a pure
// concatenation: the output record count is exactly the sum of the
// inputs, never less.
func (u *Unifier) Unify(batches []*Batch) (*Batch, error) {
	union := make(map[schema.Field]bool)
	total := 0
	for _, b := range batches {
		for _, c := range b.Columns {
			if _, ok := u.sch.IndexOf(c); !ok {
				return nil, fmt.Errorf("unify: column %q is not in the schema", c)
			}
			union[c] = true
		}
		total += len(b.Records)
	}

	columns := u.columnOrder(union)

	out := &Batch{
		Source:  "merged",
		Columns: columns,
		Records: make([]Record, 0, total),
		Origins: make([]string, 0, total),
	}

	for _, b := range batches {
		// Map each unified position to this batch's layout once.
		idx := make([]int, len(columns))
		for i, c := range columns {
			idx[i] = b.ColumnIndex(c)
		}
		for ri, rec := range b.Records {
			padded := make(Record, len(columns))
			for i, j := range idx {
				if j >= 0 && j < len(rec) {
					padded[i] = rec[j]
				}
			}
			out.Records = append(out.Records, padded)
			out.Origins = append(out.Origins, b.Origin(ri))
		}
		out.ReadCount += b.ReadCount
	}
	return out, nil
}

// columnOrder fixes the unified layout: identity fields first, then the
// observed non-key fields in schema declaration order. Identity fields
// are always included so the dedupe and upsert stages have their key
// even when no source carried it.
func (u *Unifier) columnOrder(union map[schema.Field]bool) []schema.Field {
	columns := make([]schema.Field, 0, len(union))
	columns = append(columns, u.sch.Identity...)
	for _, f := range u.sch.FieldNames() {
		if u.sch.IsIdentity(f) {
			continue
		}
		if union[f] {
			columns = append(columns, f)
		}
	}
	return columns
}
