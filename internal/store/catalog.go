package store

import (
	"context"
	"fmt"

	"github.com/branchworks/branchmerge/internal/core"
)

// UpsertSourceMeta records what a run fetched for one source: the
// object it read, the row count, and when. One row per label.
func (s *Store) UpsertSourceMeta(ctx context.Context, meta core.SourceMeta) error {
	const query = `
INSERT INTO source_catalog (label, object_key, row_count, fetched_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (label) DO UPDATE SET
	object_key = EXCLUDED.object_key,
	row_count = EXCLUDED.row_count,
	fetched_at = EXCLUDED.fetched_at`

	if _, err := s.pool.Exec(ctx, query, meta.Label, meta.Key, meta.Rows, meta.FetchedAt); err != nil {
		return fmt.Errorf("upsert source meta: %w", err)
	}
	return nil
}

// ListSourceMeta returns the catalog sorted by label.
func (s *Store) ListSourceMeta(ctx context.Context) ([]core.SourceMeta, error) {
	rows, err := s.pool.Query(ctx, `
SELECT label, object_key, row_count, fetched_at
FROM source_catalog
ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("list source meta: %w", err)
	}
	defer rows.Close()

	var out []core.SourceMeta
	for rows.Next() {
		var m core.SourceMeta
		if err := rows.Scan(&m.Label, &m.Key, &m.Rows, &m.FetchedAt); err != nil {
			return nil, fmt.Errorf("list source meta: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list source meta: %w", err)
	}
	return out, nil
}
