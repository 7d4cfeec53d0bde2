package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/branchworks/branchmerge/internal/schema"
)

// DefaultRunTimeout is the maximum duration for one merge run.
var DefaultRunTimeout = 10 * time.Minute

// Store is everything the service needs from persistence: branch
// upserts for the pipeline, the source catalog, the run registry, and
// maintenance operations.
type Store interface {
	BranchStore
	CatalogStore
	RecordRunStart(ctx context.Context, res *RunResult) error
	RecordRunFinish(ctx context.Context, res *RunResult) error
	ListRuns(ctx context.Context, limit int) ([]RunResult, error)
	GetRun(ctx context.Context, runID string) (*RunResult, error)
	ListSourceMeta(ctx context.Context) ([]SourceMeta, error)
	CountBranches(ctx context.Context) (int64, error)
	DeleteDuplicateBranches(ctx context.Context) (int64, error)
}

// ServiceOptions configure the service. Zero values select defaults.
type ServiceOptions struct {
	FetchConcurrency    int
	MaxConcurrentRuns   int
	RunWait             time.Duration
	RunTimeout          time.Duration
	PageSize            int
	PageRetries         int
	RetryBackoff        time.Duration
	Exporter            BatchExporter
	RequireBranchColumn bool
}

// Service owns the merge engine: it builds pipelines, enforces the
// concurrent-run limit, tracks active runs for the status surface, and
// persists every run record with its manifest.
type Service struct {
	store      Store
	sch        *schema.Schema
	pipe       *Pipeline
	limiter    *RunLimiter
	runTimeout time.Duration

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID        string
	Trigger   string
	DryRun    bool
	StartedAt time.Time
	Cancel    context.CancelFunc
	Done      chan struct{}
}

// ActiveRun is a point-in-time view of a run still executing.
type ActiveRun struct {
	RunID     string    `json:"runId"`
	Trigger   string    `json:"trigger"`
	DryRun    bool      `json:"dryRun"`
	StartedAt time.Time `json:"startedAt"`
}

// Status is the ops surface snapshot.
type Status struct {
	ActiveRuns []ActiveRun      `json:"activeRuns"`
	Limiter    RunLimiterStatus `json:"limiter"`
	Branches   int64            `json:"branches"`
}

// NewService wires a service from its collaborators.
func NewService(store Store, sch *schema.Schema, lister SourceLister, fetcher SourceFetcher, opts ServiceOptions) *Service {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	pipe := NewPipeline(sch, lister, fetcher, store, PipelineOptions{
		FetchConcurrency: opts.FetchConcurrency,
		Coordinator: CoordinatorOptions{
			PageSize: opts.PageSize,
			Retries:  opts.PageRetries,
			Backoff:  opts.RetryBackoff,
		},
		Exporter:            opts.Exporter,
		RequireBranchColumn: opts.RequireBranchColumn,
	})
	return &Service{
		store:      store,
		sch:        sch,
		pipe:       pipe,
		limiter:    NewRunLimiter(opts.MaxConcurrentRuns, opts.RunWait),
		runTimeout: opts.RunTimeout,
		runs:       make(map[string]*activeRun),
	}
}

// Schema returns the schema the service merges against.
func (s *Service) Schema() *schema.Schema { return s.sch }

// RunOnce executes a merge run synchronously on the caller's context.
// Returns ErrRunInProgress when the concurrent-run limit is reached.
// The returned result is non-nil whenever a run actually started, even
// if it failed.
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if !s.limiter.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer s.limiter.Release()

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	return s.execute(runCtx, cancel, opts)
}

// StartRun begins a merge run in the background and returns its ID
// immediately. The run executes on a detached context so it survives
// the caller's request lifetime; the trigger's remote IP is carried
// over for logging. Returns ErrRunInProgress when the concurrent-run
// limit is reached.
func (s *Service) StartRun(ctx context.Context, opts RunOptions) (string, error) {
	if !s.limiter.TryAcquire() {
		return "", ErrRunInProgress
	}

	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	if ip := RemoteIPFromContext(ctx); ip != "" {
		runCtx = ContextWithRemoteIP(runCtx, ip)
	}

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in merge run",
					"run_id", opts.RunID,
					"trigger", opts.Trigger,
					"panic", r,
				)
				s.unregister(opts.RunID)
			}
		}()
		// The pipeline logs its own failures; a nil result means the
		// run never started at all.
		if res, err := s.execute(runCtx, cancel, opts); err != nil && res == nil {
			slog.Error("merge run could not start", "run_id", opts.RunID, "error", err)
		}
	}()

	return opts.RunID, nil
}

// execute records the run start, runs the pipeline, and records the
// finish. The limiter slot is the caller's responsibility.
func (s *Service) execute(ctx context.Context, cancel context.CancelFunc, opts RunOptions) (*RunResult, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	active := &activeRun{
		ID:        opts.RunID,
		Trigger:   opts.Trigger,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
		Cancel:    cancel,
		Done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[opts.RunID] = active
	s.mu.Unlock()
	defer func() {
		s.unregister(opts.RunID)
		close(active.Done)
	}()

	shell := &RunResult{
		RunID:     opts.RunID,
		Trigger:   opts.Trigger,
		DryRun:    opts.DryRun,
		StartedAt: active.StartedAt,
		Status:    RunStatusRunning,
	}
	if err := s.store.RecordRunStart(ctx, shell); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}

	res, runErr := s.pipe.Run(ctx, opts)

	// The run context may already be expired; persisting the outcome
	// gets its own deadline.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer saveCancel()
	if err := s.store.RecordRunFinish(saveCtx, res); err != nil {
		slog.Error("record run finish failed", "run_id", res.RunID, "error", err)
	}
	return res, runErr
}

func (s *Service) unregister(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

// ActiveRuns lists runs currently executing, oldest first.
func (s *Service) ActiveRuns() []ActiveRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActiveRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, ActiveRun{
			RunID:     r.ID,
			Trigger:   r.Trigger,
			DryRun:    r.DryRun,
			StartedAt: r.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Status reports the ops snapshot: active runs, limiter state, and the
// current branch count.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	branches, err := s.store.CountBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("count branches: %w", err)
	}
	return &Status{
		ActiveRuns: s.ActiveRuns(),
		Limiter:    s.limiter.Status(),
		Branches:   branches,
	}, nil
}

// GetRun returns a run by ID: a running shell for active runs, the
// stored record otherwise. Returns ErrRunNotFound when neither exists.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunResult, error) {
	s.mu.RLock()
	active, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		return &RunResult{
			RunID:     active.ID,
			Trigger:   active.Trigger,
			DryRun:    active.DryRun,
			StartedAt: active.StartedAt,
			Status:    RunStatusRunning,
		}, nil
	}
	return s.store.GetRun(ctx, runID)
}

// RecentRuns lists finished runs, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListRuns(ctx, limit)
}

// Sources lists the source catalog.
func (s *Service) Sources(ctx context.Context) ([]SourceMeta, error) {
	return s.store.ListSourceMeta(ctx)
}

// ReconcileDuplicates removes historical duplicate branches directly
// in the store, keeping the earliest inserted row per identity.
func (s *Service) ReconcileDuplicates(ctx context.Context) (int64, error) {
	return s.store.DeleteDuplicateBranches(ctx)
}

// Shutdown cancels active runs and waits for the limiter to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, r := range s.runs {
		r.Cancel()
	}
	s.mu.RUnlock()
	return s.limiter.WaitForDrain(ctx)
}
