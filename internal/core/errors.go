package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when a merge run is requested while
	// another run holds the limiter.
	ErrRunInProgress = errors.New("a merge run is already in progress")

	// ErrRunNotFound is returned when a run ID has no record.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoSources is returned when the backend lists no sources at all,
	// which usually means the root or prefix is misconfigured.
	ErrNoSources = errors.New("no sources found")
)

// CountMismatchError is the fatal data-loss condition: a stage consumed
// and produced different record counts. The pipeline must halt the
// affected chain before any persistence side effect.
type CountMismatchError struct {
	Source   string // empty when the mismatch is on the merged chain
	Stage    string
	Expected int
	Actual   int
}

func (e *CountMismatchError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("count mismatch in source %q at stage %q: expected %d rows, found %d (delta %+d)",
			e.Source, e.Stage, e.Expected, e.Actual, e.Actual-e.Expected)
	}
	return fmt.Sprintf("count mismatch at stage %q: expected %d rows, found %d (delta %+d)",
		e.Stage, e.Expected, e.Actual, e.Actual-e.Expected)
}

// Delta returns actual minus expected: negative means rows were lost.
func (e *CountMismatchError) Delta() int { return e.Actual - e.Expected }

// SourceError marks a failure confined to one source chain. The run
// carries on with the remaining sources; the failed source is recorded
// so it can be retried later.
type SourceError struct {
	Label string
	Stage string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q failed at stage %q: %v", e.Label, e.Stage, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
