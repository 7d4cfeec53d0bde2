package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/branchworks/branchmerge/internal/schema"
)

// DefaultFetchConcurrency bounds how many sources are fetched and
// normalized in parallel during a run.
const DefaultFetchConcurrency = 4

// Run trigger kinds recorded on RunResult.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// SourceHandle identifies one spreadsheet export in a backend.
type SourceHandle struct {
	// Label is the canonical source name, e.g. "state_bank_of_india".
	Label string `json:"label"`
	// Key locates the export in its backend: a file path or object key.
	Key string `json:"key"`
}

// SourceLister enumerates the exports a run should merge.
type SourceLister interface {
	ListSources(ctx context.Context) ([]SourceHandle, error)
}

// SourceData is one export decoded into rows, before normalization.
type SourceData struct {
	Header []string
	Rows   [][]string
	// ReadCount is the number of data rows the reader counted while
	// scanning the file. The read checkpoint compares it to len(Rows).
	ReadCount int
}

// SourceFetcher retrieves and decodes a single export.
type SourceFetcher interface {
	Fetch(ctx context.Context, h SourceHandle) (*SourceData, error)
}

// SourceMeta is the catalog entry kept per source: which object the
// last successful fetch used and how many records it yielded.
type SourceMeta struct {
	Label     string    `json:"label"`
	Key       string    `json:"key"`
	Rows      int       `json:"rows"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// CatalogStore records source fetch metadata. A BranchStore may
// additionally implement it; the pipeline then upserts an entry after
// every successful source load. Catalog failures are logged, never
// fatal.
type CatalogStore interface {
	UpsertSourceMeta(ctx context.Context, meta SourceMeta) error
}

// BatchExporter stores a rendered copy of the merged dataset and
// returns the key it was stored under.
type BatchExporter interface {
	Export(ctx context.Context, b *Batch) (string, error)
}

// RunStatus is the terminal state of a merge run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// RunOptions control a single merge run.
type RunOptions struct {
	// RunID names the run; one is generated when empty. Callers that
	// report the ID before the run finishes pass their own.
	RunID string
	// Trigger records what started the run: manual, schedule, or api.
	Trigger string
	// DryRun executes every stage except persistence.
	DryRun bool
}

// RunResult summarizes one merge run. Failures maps source label to the
// reason that source was excluded; sources absent from the map merged
// cleanly. Counts are totals across sources, per-source detail lives in
// the Manifest.
type RunResult struct {
	RunID      string            `json:"runId"`
	Trigger    string            `json:"trigger"`
	DryRun     bool              `json:"dryRun"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Status     RunStatus         `json:"status"`
	Sources    int               `json:"sources"`
	Read       int               `json:"read"`
	Normalized int               `json:"normalized"`
	Unified    int               `json:"unified"`
	Duplicates int               `json:"duplicates"`
	Filtered   int               `json:"filtered"`
	Inserted   int               `json:"inserted"`
	ExportKey  string            `json:"exportKey,omitempty"`
	Failures   map[string]string `json:"failures,omitempty"`
	Manifest   Manifest          `json:"manifest"`
	Error      string            `json:"error,omitempty"`
}

// Pipeline wires the merge stages together: fetch and normalize each
// source in parallel, unify into one batch, deduplicate, then upsert.
// A Pipeline is stateless across runs and safe for concurrent use; all
// per-run bookkeeping lives in the Auditor created inside Run.
type Pipeline struct {
	lister  SourceLister
	fetcher SourceFetcher
	store   BranchStore

	res      *Resolver
	norm     *Normalizer
	unifier  *Unifier
	dedupe   *Deduplicator
	coord    *Coordinator
	exporter BatchExporter

	fetchLimit    int
	requireBranch bool

	// testHookAfterFetch, when non-nil, runs over the normalized
	// batches before the unify barrier. Tests use it to inject stage
	// faults.
	testHookAfterFetch func([]*Batch)
}

// PipelineOptions configure a Pipeline. Zero values select defaults.
type PipelineOptions struct {
	FetchConcurrency int
	Coordinator      CoordinatorOptions
	// Exporter, when set, stores the merged dataset as a workbook
	// after the audit gates pass.
	Exporter BatchExporter
	// RequireBranchColumn rejects sources whose header carries no
	// recognizable branch column (widened scan). Off by default.
	RequireBranchColumn bool
}

func NewPipeline(sch *schema.Schema, lister SourceLister, fetcher SourceFetcher, store BranchStore, opts PipelineOptions) *Pipeline {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	res := NewResolver(sch)
	return &Pipeline{
		lister:        lister,
		fetcher:       fetcher,
		store:         store,
		res:           res,
		norm:          NewNormalizer(sch, res),
		unifier:       NewUnifier(sch),
		dedupe:        NewDeduplicator(sch),
		coord:         NewCoordinator(store, sch, opts.Coordinator),
		exporter:      opts.Exporter,
		fetchLimit:    opts.FetchConcurrency,
		requireBranch: opts.RequireBranchColumn,
	}
}

// Run executes one merge run end to end. A failure inside a single
// source excludes that source and the run continues with the rest; a
// failure at a merged stage (unify, dedupe, persist) aborts the run.
// The returned RunResult is non-nil in both cases so callers can
// persist it. Committed pages from a partially failed persist stage
// are not rolled back.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	res := &RunResult{
		RunID:     runID,
		Trigger:   opts.Trigger,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
		Status:    RunStatusRunning,
		Failures:  make(map[string]string),
	}
	audit := NewAuditor()

	handles, err := p.lister.ListSources(ctx)
	if err != nil {
		return p.abort(res, audit, fmt.Errorf("list sources: %w", err))
	}
	res.Sources = len(handles)
	startAttrs := []any{
		"run_id", res.RunID,
		"trigger", res.Trigger,
		"dry_run", res.DryRun,
		"sources", len(handles),
	}
	if ip := RemoteIPFromContext(ctx); ip != "" {
		startAttrs = append(startAttrs, "remote_ip", ip)
	}
	slog.Info("merge run started", startAttrs...)
	if len(handles) == 0 {
		return p.abort(res, audit, ErrNoSources)
	}

	batches, err := p.fetchAll(ctx, audit, handles)
	if err != nil {
		return p.abort(res, audit, err)
	}
	if len(batches) == 0 {
		return p.abort(res, audit, fmt.Errorf("all %d sources failed", len(handles)))
	}
	if p.testHookAfterFetch != nil {
		p.testHookAfterFetch(batches)
	}

	// Barrier: every surviving batch must still hold exactly as many
	// records as its normalize checkpoint recorded. A mismatch means
	// records were lost inside the engine; the run stops before
	// anything reaches the store.
	for _, b := range batches {
		if err := audit.Checkpoint(b.Source, StageUnify, audit.Count(b.Source, StageNormalize), len(b.Records)); err != nil {
			return p.abort(res, audit, err)
		}
	}

	unified, err := p.unifier.Unify(batches)
	if err != nil {
		return p.abort(res, audit, err)
	}
	normalized := 0
	for _, b := range batches {
		normalized += len(b.Records)
	}
	if err := audit.Checkpoint("", StageUnify, normalized, len(unified.Records)); err != nil {
		return p.abort(res, audit, err)
	}

	deduped, removed := p.dedupe.Dedupe(unified)
	if err := audit.Checkpoint("", StageDedupe, len(unified.Records)-removed, len(deduped.Records)); err != nil {
		return p.abort(res, audit, err)
	}
	res.Duplicates = removed
	survivors := make(map[string]int)
	for i := range deduped.Records {
		survivors[deduped.Origin(i)]++
	}
	for src, n := range survivors {
		audit.SetCount(src, StageDedupe, n)
	}

	if opts.DryRun {
		slog.Info("dry run, skipping persist", "run_id", res.RunID, "records", len(deduped.Records))
		if err := p.export(ctx, res, deduped); err != nil {
			return p.abort(res, audit, err)
		}
		return p.finish(res, audit), nil
	}

	applied, err := p.coord.Apply(ctx, deduped)
	for src, n := range applied.FilteredBySource {
		audit.AddFiltered(src, n)
	}
	for src, n := range applied.AppliedBySource {
		audit.SetCount(src, StagePersist, n)
	}
	res.Filtered = applied.Filtered
	res.Inserted = applied.Applied
	if err != nil {
		return p.abort(res, audit, fmt.Errorf("persist: %w", err))
	}
	if err := audit.Checkpoint("", StagePersist, len(deduped.Records)-applied.Filtered, applied.Applied); err != nil {
		return p.abort(res, audit, err)
	}
	if err := p.export(ctx, res, deduped); err != nil {
		return p.abort(res, audit, err)
	}

	return p.finish(res, audit), nil
}

// export stores the merged dataset when an exporter is configured. It
// only runs after every enabled audit gate has passed.
func (p *Pipeline) export(ctx context.Context, res *RunResult, b *Batch) error {
	if p.exporter == nil {
		return nil
	}
	key, err := p.exporter.Export(ctx, b)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	res.ExportKey = key
	slog.Info("merged dataset exported", "run_id", res.RunID, "key", key, "records", len(b.Records))
	return nil
}

// fetchAll retrieves and normalizes every source, at most fetchLimit
// at a time. Results keep listing order so downstream stages see
// sources in a stable order regardless of completion order. A failed
// source is marked on the auditor and skipped; only context
// cancellation aborts the whole fan-out.
func (p *Pipeline) fetchAll(ctx context.Context, audit *Auditor, handles []SourceHandle) ([]*Batch, error) {
	results := make([]*Batch, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchLimit)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			b, err := p.loadSource(gctx, audit, h)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				audit.MarkFailed(h.Label, err)
				slog.Error("source failed", "source", h.Label, "error", err)
				return nil
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	batches := make([]*Batch, 0, len(results))
	for _, b := range results {
		if b != nil {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

func (p *Pipeline) loadSource(ctx context.Context, audit *Auditor, h SourceHandle) (*Batch, error) {
	data, err := p.fetcher.Fetch(ctx, h)
	if err != nil {
		return nil, &SourceError{Label: h.Label, Stage: StageRead, Err: err}
	}
	if p.requireBranch {
		if _, ok := p.res.ScanBranchColumn(data.Header, data.Rows); !ok {
			return nil, &SourceError{Label: h.Label, Stage: StageRead, Err: errors.New("no branch column recognized")}
		}
	}
	if err := audit.Checkpoint(h.Label, StageRead, data.ReadCount, len(data.Rows)); err != nil {
		return nil, err
	}
	b := p.norm.NormalizeBatch(h.Label, data.Header, data.Rows, data.ReadCount)
	if err := audit.Checkpoint(h.Label, StageNormalize, len(data.Rows), len(b.Records)); err != nil {
		return nil, err
	}
	if cs, ok := p.store.(CatalogStore); ok {
		meta := SourceMeta{Label: h.Label, Key: h.Key, Rows: len(b.Records), FetchedAt: time.Now().UTC()}
		if err := cs.UpsertSourceMeta(ctx, meta); err != nil {
			slog.Warn("source catalog update failed", "source", h.Label, "error", err)
		}
	}
	slog.Debug("source normalized", "source", h.Label, "rows", len(b.Records))
	return b, nil
}

// snapshot copies the auditor state onto the result, including stage
// totals and the reasons for any per-source failures.
func (p *Pipeline) snapshot(res *RunResult, audit *Auditor) {
	m := audit.Manifest()
	res.Manifest = m
	res.Read = m.Total(StageRead)
	res.Normalized = m.Total(StageNormalize)
	res.Unified = m.Total(StageUnify)
	for _, t := range m.Sources {
		if t.Failed {
			res.Failures[t.Source] = t.Reason
		}
	}
}

func (p *Pipeline) finish(res *RunResult, audit *Auditor) *RunResult {
	p.snapshot(res, audit)
	if len(res.Failures) > 0 {
		res.Status = RunStatusPartial
	} else {
		res.Status = RunStatusSucceeded
	}
	res.FinishedAt = time.Now().UTC()
	slog.Info("merge run finished",
		"run_id", res.RunID,
		"status", res.Status,
		"read", res.Read,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
		"filtered", res.Filtered,
		"duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)
	return res
}

// abort finalizes a run that cannot continue. The manifest snapshot
// keeps whatever counts were recorded before the failure so operators
// can see how far the run got.
func (p *Pipeline) abort(res *RunResult, audit *Auditor, err error) (*RunResult, error) {
	p.snapshot(res, audit)
	res.Status = RunStatusFailed
	res.Error = err.Error()
	res.FinishedAt = time.Now().UTC()
	slog.Error("merge run aborted", "run_id", res.RunID, "error", err)
	return res, err
}
