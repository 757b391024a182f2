// Package store persists imported concepts in the Postgres catalogue and
// tracks their indexing status.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS concepts (
		aui         TEXT PRIMARY KEY,
		cui         TEXT NOT NULL,
		sui         TEXT NOT NULL DEFAULT '',
		str         TEXT NOT NULL,
		lat         TEXT NOT NULL DEFAULT '',
		sab         TEXT NOT NULL DEFAULT '',
		tty         TEXT NOT NULL DEFAULT '',
		ispref      BOOLEAN NOT NULL DEFAULT FALSE,
		shard_id    INTEGER NOT NULL,
		status      TEXT NOT NULL DEFAULT 'PENDING',
		imported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		indexed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS concepts_cui_idx ON concepts (cui)`,
	`CREATE INDEX IF NOT EXISTS concepts_status_idx ON concepts (status)`,
}

const upsertConcept = `
INSERT INTO concepts (aui, cui, sui, str, lat, sab, tty, ispref, shard_id, status, imported_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING', $10)
ON CONFLICT (aui) DO UPDATE SET
	cui = EXCLUDED.cui,
	sui = EXCLUDED.sui,
	str = EXCLUDED.str,
	lat = EXCLUDED.lat,
	sab = EXCLUDED.sab,
	tty = EXCLUDED.tty,
	ispref = EXCLUDED.ispref,
	shard_id = EXCLUDED.shard_id`

type Store struct {
	db *postgres.Client
}

func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

// Migrate creates the concepts table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, schema...)
}

// UpsertBatch writes events in one transaction. Re-imported concepts keep
// their indexing status.
func (s *Store) UpsertBatch(ctx context.Context, events []ingestion.ConceptEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertConcept)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, ev := range events {
			c := ev.Concept
			if _, err := stmt.ExecContext(ctx,
				c.AUI, c.CUI, c.SUI, c.String, c.Language, c.Source, c.TermType, c.Preferred,
				ev.ShardID, ev.ImportedAt,
			); err != nil {
				return fmt.Errorf("upserting concept %s: %w", c.AUI, err)
			}
		}
		return nil
	})
}

// UpdateStatus sets the indexing status of a concept. indexed_at is stamped
// for every terminal status.
func (s *Store) UpdateStatus(ctx context.Context, aui, status string) error {
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE concepts SET status = $1, indexed_at = NOW() WHERE aui = $2`,
		status, aui,
	)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", aui, err)
	}
	return nil
}

// CountByStatus returns the number of concepts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM concepts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting concepts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
