package core

import (
	"context"
	"fmt"
	"time"

	"github.com/branchworks/branchmerge/internal/schema"
)

// DefaultPageSize bounds the records in one store write.
const DefaultPageSize = 1000

// BranchStore is the persistence boundary for reconciled records.
// UpsertPage must be atomic: either every record in the page is applied
// or none are. On a key collision the incoming record replaces all
// non-key fields (last writer wins).
type BranchStore interface {
	UpsertPage(ctx context.Context, columns []schema.Field, records []Record) (int64, error)
}

// CoordinatorOptions tune the write path.
type CoordinatorOptions struct {
	PageSize int           // records per page, default DefaultPageSize
	Retries  int           // extra attempts per failed page
	Backoff  time.Duration // pause between attempts
}

// Coordinator applies a reconciled batch to the store. It enforces the
// mandatory-field filter, pages the records, and retries failed pages as
// whole units. Pages run sequentially so the last-writer-wins outcome
// follows source-read order.
type Coordinator struct {
	store BranchStore
	sch   *schema.Schema
	opts  CoordinatorOptions
}

func NewCoordinator(store BranchStore, sch *schema.Schema, opts CoordinatorOptions) *Coordinator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Coordinator{store: store, sch: sch, opts: opts}
}

// ApplyResult reports what the coordinator did with a batch.
type ApplyResult struct {
	Applied  int // records upserted across committed pages
	Filtered int // records dropped by the mandatory-field filter

	AppliedBySource  map[string]int
	FilteredBySource map[string]int
}

// Apply filters, pages, and upserts a batch. Records lacking a mandatory
// field are the one sanctioned drop; they are counted per source, never
// silently. On a page failure the already-committed pages stay applied
// and the error reports how far the batch got.
func (c *Coordinator) Apply(ctx context.Context, b *Batch) (ApplyResult, error) {
	res := ApplyResult{
		AppliedBySource:  make(map[string]int),
		FilteredBySource: make(map[string]int),
	}

	kept, origins := c.filterMandatory(b, &res)

	for start := 0; start < len(kept); start += c.opts.PageSize {
		end := min(start+c.opts.PageSize, len(kept))

		affected, err := c.upsertPage(ctx, b.Columns, kept[start:end])
		if err != nil {
			return res, fmt.Errorf("upsert records %d-%d: %w", start, end-1, err)
		}
		res.Applied += int(affected)
		for _, origin := range origins[start:end] {
			res.AppliedBySource[origin]++
		}
	}
	return res, nil
}

// filterMandatory splits off the records that may be persisted, booking
// the dropped ones per source.
func (c *Coordinator) filterMandatory(b *Batch, res *ApplyResult) ([]Record, []string) {
	mandatory := c.sch.MandatoryFields()
	positions := make([]int, len(mandatory))
	for i, f := range mandatory {
		positions[i] = b.ColumnIndex(f)
	}

	kept := make([]Record, 0, len(b.Records))
	origins := make([]string, 0, len(b.Records))
	for i, rec := range b.Records {
		if missingMandatory(rec, positions) {
			res.Filtered++
			res.FilteredBySource[b.Origin(i)]++
			continue
		}
		kept = append(kept, rec)
		origins = append(origins, b.Origin(i))
	}
	return kept, origins
}

func missingMandatory(rec Record, positions []int) bool {
	for _, p := range positions {
		if p < 0 || p >= len(rec) || isAbsent(rec[p]) {
			return true
		}
	}
	return false
}

// upsertPage retries a failed page as a whole unit. Partial commits
// cannot happen: the store contract makes a page atomic.
func (c *Coordinator) upsertPage(ctx context.Context, columns []schema.Field, page []Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.opts.Backoff):
			}
		}

		affected, err := c.store.UpsertPage(ctx, columns, page)
		if err == nil {
			return affected, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("after %d attempts: %w", c.opts.Retries+1, lastErr)
}
