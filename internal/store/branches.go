package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/branchworks/branchmerge/internal/core"
	"github.com/branchworks/branchmerge/internal/schema"
)

// UpsertPage writes one page of merged records in a single batch. The
// batch runs in one implicit transaction, so a page either lands whole
// or not at all and the coordinator can retry it safely. On identity
// conflict every non-key column is replaced; the deduplicator has
// already guaranteed no two records in a run share an identity.
func (s *Store) UpsertPage(ctx context.Context, columns []schema.Field, records []core.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	sql, err := s.upsertSQL(columns)
	if err != nil {
		return 0, err
	}

	b := &pgx.Batch{}
	for _, rec := range records {
		args := make([]interface{}, len(columns))
		for i := range columns {
			if i < len(rec) {
				args[i] = rec[i]
			} else {
				args[i] = ""
			}
		}
		b.Queue(sql, args...)
	}

	var affected int64
	br := s.pool.SendBatch(ctx, b)
	for range records {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("upsert page: %w", err)
		}
		affected += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("upsert page: %w", err)
	}
	return affected, nil
}

// upsertSQL renders the page statement for a column layout. The layout
// must carry the full identity; other schema fields are optional and
// keep their stored value's default when a source never produced them.
func (s *Store) upsertSQL(columns []schema.Field) (string, error) {
	for _, id := range s.sch.Identity {
		if !containsField(columns, id) {
			return "", fmt.Errorf("upsert layout is missing identity field %q", id)
		}
	}

	names := make([]string, len(columns))
	params := make([]string, len(columns))
	var assigns []string
	for i, col := range columns {
		names[i] = quoteIdentifier(string(col))
		params[i] = fmt.Sprintf("$%d", i+1)
		if !s.sch.IsIdentity(col) {
			assigns = append(assigns, fmt.Sprintf("%s = EXCLUDED.%s", names[i], names[i]))
		}
	}
	assigns = append(assigns, "updated_at = now()")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quoteIdentifier(s.sch.Table),
		strings.Join(names, ", "),
		strings.Join(params, ", "),
		joinQuoted(s.sch.Identity),
		strings.Join(assigns, ", "),
	), nil
}

// CountBranches returns the stored branch row count.
func (s *Store) CountBranches(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentifier(s.sch.Table))
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count branches: %w", err)
	}
	return n, nil
}

// DeleteDuplicateBranches removes rows sharing an identity, keeping the
// earliest-inserted row of each group. Idempotent; with the identity
// index in place it finds nothing.
func (s *Store) DeleteDuplicateBranches(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.deleteDuplicatesSQL())
	if err != nil {
		return 0, fmt.Errorf("delete duplicate branches: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) deleteDuplicatesSQL() string {
	table := quoteIdentifier(s.sch.Table)
	conds := make([]string, 0, len(s.sch.Identity)+1)
	for _, f := range s.sch.Identity {
		q := quoteIdentifier(string(f))
		conds = append(conds, fmt.Sprintf("a.%s = b.%s", q, q))
	}
	conds = append(conds, "a.id > b.id")
	return fmt.Sprintf("DELETE FROM %s a USING %s b WHERE %s",
		table, table, strings.Join(conds, " AND "))
}

func containsField(fields []schema.Field, f schema.Field) bool {
	for _, c := range fields {
		if c == f {
			return true
		}
	}
	return false
}
