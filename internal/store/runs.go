package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/branchworks/branchmerge/internal/core"
)

// RecordRunStart inserts the run shell so an in-flight run is visible
// in the registry before any source work happens.
func (s *Store) RecordRunStart(ctx context.Context, res *core.RunResult) error {
	const query = `
INSERT INTO merge_runs (run_id, trigger_kind, dry_run, status, started_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, query,
		res.RunID, res.Trigger, res.DryRun, res.Status, res.StartedAt); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordRunFinish writes the final run record with its manifest. It
// upserts rather than updates so a finish survives even when the start
// row is gone.
func (s *Store) RecordRunFinish(ctx context.Context, res *core.RunResult) error {
	manifest, err := json.Marshal(res.Manifest)
	if err != nil {
		return fmt.Errorf("record run finish: encode manifest: %w", err)
	}
	var failures []byte
	if len(res.Failures) > 0 {
		failures, err = json.Marshal(res.Failures)
		if err != nil {
			return fmt.Errorf("record run finish: encode failures: %w", err)
		}
	}

	const query = `
INSERT INTO merge_runs (
	run_id, trigger_kind, dry_run, status, started_at, finished_at,
	sources, read_rows, normalized_rows, unified_rows, duplicate_rows,
	filtered_rows, inserted_rows, export_key, manifest, failures, error_text
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	sources = EXCLUDED.sources,
	read_rows = EXCLUDED.read_rows,
	normalized_rows = EXCLUDED.normalized_rows,
	unified_rows = EXCLUDED.unified_rows,
	duplicate_rows = EXCLUDED.duplicate_rows,
	filtered_rows = EXCLUDED.filtered_rows,
	inserted_rows = EXCLUDED.inserted_rows,
	export_key = EXCLUDED.export_key,
	manifest = EXCLUDED.manifest,
	failures = EXCLUDED.failures,
	error_text = EXCLUDED.error_text`

	finishedAt := pgtype.Timestamptz{Time: res.FinishedAt, Valid: !res.FinishedAt.IsZero()}
	if _, err := s.pool.Exec(ctx, query,
		res.RunID, res.Trigger, res.DryRun, res.Status, res.StartedAt, finishedAt,
		res.Sources, res.Read, res.Normalized, res.Unified, res.Duplicates,
		res.Filtered, res.Inserted, res.ExportKey, manifest, failures, res.Error); err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

const selectRun = `
SELECT run_id, trigger_kind, dry_run, status, started_at, finished_at,
       sources, read_rows, normalized_rows, unified_rows, duplicate_rows,
       filtered_rows, inserted_rows, export_key, manifest, failures, error_text
FROM merge_runs`

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]core.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, selectRun+" ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []core.RunResult
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// GetRun returns one run record, or core.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*core.RunResult, error) {
	// A malformed id cannot match anything; skip the round trip that
	// would fail the uuid cast.
	if uuid.Validate(runID) != nil {
		return nil, core.ErrRunNotFound
	}

	res, err := scanRun(s.pool.QueryRow(ctx, selectRun+" WHERE run_id = $1", runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return res, nil
}

func scanRun(row pgx.Row) (*core.RunResult, error) {
	var (
		res        core.RunResult
		finishedAt pgtype.Timestamptz
		manifest   []byte
		failures   []byte
	)
	if err := row.Scan(
		&res.RunID, &res.Trigger, &res.DryRun, &res.Status, &res.StartedAt, &finishedAt,
		&res.Sources, &res.Read, &res.Normalized, &res.Unified, &res.Duplicates,
		&res.Filtered, &res.Inserted, &res.ExportKey, &manifest, &failures, &res.Error,
	); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		res.FinishedAt = finishedAt.Time
	}
	if len(manifest) > 0 {
		if err := json.Unmarshal(manifest, &res.Manifest); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &res.Failures); err != nil {
			return nil, fmt.Errorf("decode failures: %w", err)
		}
	}
	return &res, nil
}
