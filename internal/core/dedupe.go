package core

import (
	"strings"

	"github.com/branchworks/branchmerge/internal/schema"
)

// Deduplicator removes exact-key duplicates within a batch before
// persistence. The first occurrence per identity key wins, in original
// order; cross-run duplicates are handled separately by the store's
// reconciliation operation.
type Deduplicator struct {
	sch *schema.Schema
}

func NewDeduplicator(sch *schema.Schema) *Deduplicator {
	return &Deduplicator{sch: sch}
}

// Dedupe returns a batch with later duplicates removed and the number of
// records dropped. The shrinkage always equals the summed multiplicity
// beyond one per key, never more. Records whose key fields are all empty
// carry no business key and pass through untouched; the mandatory-field
// filter deals with them afterwards.
func (d *Deduplicator) Dedupe(b *Batch) (*Batch, int) {
	positions := make([]int, len(d.sch.Identity))
	for i, f := range d.sch.Identity {
		positions[i] = b.ColumnIndex(f)
	}

	out := &Batch{
		Source:    b.Source,
		Columns:   b.Columns,
		Records:   make([]Record, 0, len(b.Records)),
		Origins:   make([]string, 0, len(b.Records)),
		ReadCount: b.ReadCount,
	}
	seen := make(map[string]bool, len(b.Records))
	removed := 0
	for i, rec := range b.Records {
		key, hasKey := identityKey(rec, positions)
		if hasKey {
			if seen[key] {
				removed++
				continue
			}
			seen[key] = true
		}
		out.Records = append(out.Records, rec)
		out.Origins = append(out.Origins, b.Origin(i))
	}
	return out, removed
}

// identityKey joins the key fields with "|", the same composite-key
// convention the store uses. hasKey is false when every part is empty.
func identityKey(rec Record, positions []int) (string, bool) {
	parts := make([]string, len(positions))
	hasKey := false
	for i, p := range positions {
		if p >= 0 && p < len(rec) {
			parts[i] = rec[p]
			if parts[i] != "" {
				hasKey = true
			}
		}
	}
	return strings.Join(parts, "|"), hasKey
}
