// Package store persists merge output in PostgreSQL: the canonical
// branch table named by the schema, the per-source catalog, and the
// merge-run registry. All SQL lives here; the engine above it only
// sees the interfaces in internal/core.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchworks/branchmerge/internal/core"
	"github.com/branchworks/branchmerge/internal/schema"
)

// Store wraps a pgx pool with the queries the merge engine needs. The
// branch table layout is derived from the schema, so a schema override
// changes the DDL and the upserts together.
type Store struct {
	pool *pgxpool.Pool
	sch  *schema.Schema
}

var _ core.Store = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool, sch *schema.Schema) *Store {
	return &Store{pool: pool, sch: sch}
}

// Ping reports database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const createSourceCatalog = `
CREATE TABLE IF NOT EXISTS source_catalog (
	label      VARCHAR(200) PRIMARY KEY,
	object_key TEXT NOT NULL DEFAULT '',
	row_count  INT NOT NULL DEFAULT 0,
	fetched_at TIMESTAMPTZ NOT NULL
)`

const createMergeRuns = `
CREATE TABLE IF NOT EXISTS merge_runs (
	run_id          UUID PRIMARY KEY,
	trigger_kind    VARCHAR(20) NOT NULL,
	dry_run         BOOLEAN NOT NULL DEFAULT FALSE,
	status          VARCHAR(20) NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	sources         INT NOT NULL DEFAULT 0,
	read_rows       INT NOT NULL DEFAULT 0,
	normalized_rows INT NOT NULL DEFAULT 0,
	unified_rows    INT NOT NULL DEFAULT 0,
	duplicate_rows  INT NOT NULL DEFAULT 0,
	filtered_rows   INT NOT NULL DEFAULT 0,
	inserted_rows   INT NOT NULL DEFAULT 0,
	export_key      TEXT NOT NULL DEFAULT '',
	manifest        JSONB,
	failures        JSONB,
	error_text      TEXT NOT NULL DEFAULT ''
)`

const createMergeRunsIndex = `
CREATE INDEX IF NOT EXISTS merge_runs_started_at_idx
	ON merge_runs (started_at DESC)`

// EnsureSchema creates the tables when absent and guarantees the
// identity constraint the upserts rely on. A branch table inherited
// from the legacy insert-only loader may hold duplicate identities, so
// the cleanup runs before the unique index is created; on a clean
// database both are no-ops.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		s.branchTableDDL(),
		createSourceCatalog,
		createMergeRuns,
		createMergeRunsIndex,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	deleted, err := s.DeleteDuplicateBranches(ctx)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if deleted > 0 {
		slog.Info("removed duplicate branch rows before constraining identity",
			"table", s.sch.Table,
			"rows_deleted", deleted)
	}

	if _, err := s.pool.Exec(ctx, s.identityIndexDDL()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// branchTableDDL renders the canonical table from the schema: one
// VARCHAR column per field sized by its limit, a surrogate id, and an
// update timestamp. The identity constraint is a separate index so it
// can be added to a pre-existing table.
func (s *Store) branchTableDDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdentifier(s.sch.Table))
	b.WriteString("\tid BIGSERIAL PRIMARY KEY,\n")
	for _, fd := range s.sch.Fields {
		fmt.Fprintf(&b, "\t%s VARCHAR(%d) NOT NULL DEFAULT '',\n", quoteIdentifier(string(fd.Name)), fd.Limit)
	}
	b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String()
}

func (s *Store) identityIndexDDL() string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdentifier(s.sch.Table+"_identity_idx"),
		quoteIdentifier(s.sch.Table),
		joinQuoted(s.sch.Identity))
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func joinQuoted(fields []schema.Field) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteIdentifier(string(f))
	}
	return strings.Join(quoted, ", ")
}
