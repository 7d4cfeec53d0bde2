package core

import (
	"sync"
)

// SourceTrail is one source's per-stage row counts within a manifest.
type SourceTrail struct {
	Source   string         `json:"source"`
	Counts   map[string]int `json:"counts"`
	Filtered int            `json:"filtered"`
	Failed   bool           `json:"failed,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Count returns the recorded count for a stage.
func (t SourceTrail) Count(stage string) int { return t.Counts[stage] }

// Manifest is a run's complete count ledger, one trail per source in
// first-seen order. It serializes as the run record's manifest document.
type Manifest struct {
	Sources []SourceTrail `json:"sources"`
}

// Total sums a stage's counts across all sources.
func (m Manifest) Total(stage string) int {
	n := 0
	for _, t := range m.Sources {
		n += t.Counts[stage]
	}
	return n
}

// TotalFiltered sums the sanctioned mandatory-field drops.
func (m Manifest) TotalFiltered() int {
	n := 0
	for _, t := range m.Sources {
		n += t.Filtered
	}
	return n
}

// FailedSources lists sources whose chains failed, in first-seen order.
func (m Manifest) FailedSources() []string {
	var out []string
	for _, t := range m.Sources {
		if t.Failed {
			out = append(out, t.Source)
		}
	}
	return out
}

// Auditor is the count ledger for one merge run. Every stage transition
// passes through Checkpoint, and per-source counts accumulate into the
// manifest the run reports and persists.
//
// The contract it enforces: no run may persist a merged dataset whose
// total record count differs from the sum of the source row counts,
// except at the one sanctioned mandatory-field filter, which is tracked
// as its own named quantity. "Filtered" is policy; "lost" is a bug.
type Auditor struct {
	mu     sync.Mutex
	order  []string
	trails map[string]*trail
}

type trail struct {
	counts   map[string]int
	filtered int
	failed   bool
	reason   string
}

// NewAuditor starts an empty ledger. One auditor serves one run.
func NewAuditor() *Auditor {
	return &Auditor{trails: make(map[string]*trail)}
}

// Checkpoint records the row count observed after a stage and verifies
// it against the expected count. A mismatch is fatal for the owning
// chain: the caller must stop it before any persistence side effect.
// Pass an empty source for checks on the merged chain.
func (a *Auditor) Checkpoint(source, stage string, expected, actual int) error {
	if source != "" {
		a.SetCount(source, stage, actual)
	}
	if expected != actual {
		return &CountMismatchError{Source: source, Stage: stage, Expected: expected, Actual: actual}
	}
	return nil
}

// Count returns the recorded count for a source at a stage, zero if
// nothing was recorded.
func (a *Auditor) Count(source, stage string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.trails[source]
	if !ok {
		return 0
	}
	return t.counts[stage]
}

// SetCount records the row count for one source at one stage.
func (a *Auditor) SetCount(source, stage string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trailFor(source).counts[stage] = n
}

// AddCount accumulates attributed counts. The merged stages use it to
// book each surviving record against its origin.
func (a *Auditor) AddCount(source, stage string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trailFor(source).counts[stage] += n
}

// AddFiltered books sanctioned mandatory-field drops against a source.
func (a *Auditor) AddFiltered(source string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trailFor(source).filtered += n
}

// MarkFailed records a contained per-source failure.
func (a *Auditor) MarkFailed(source string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.trailFor(source)
	t.failed = true
	t.reason = err.Error()
}

// Manifest returns a point-in-time snapshot of the ledger.
func (a *Auditor) Manifest() Manifest {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := Manifest{Sources: make([]SourceTrail, 0, len(a.order))}
	for _, src := range a.order {
		t := a.trails[src]
		st := SourceTrail{
			Source:   src,
			Counts:   make(map[string]int, len(t.counts)),
			Filtered: t.filtered,
			Failed:   t.failed,
			Reason:   t.reason,
		}
		for k, v := range t.counts {
			st.Counts[k] = v
		}
		m.Sources = append(m.Sources, st)
	}
	return m
}

// trailFor must be called with the mutex held.
func (a *Auditor) trailFor(source string) *trail {
	t, ok := a.trails[source]
	if !ok {
		t = &trail{counts: make(map[string]int)}
		a.trails[source] = t
		a.order = append(a.order, source)
	}
	return t
}
