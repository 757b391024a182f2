// Package aggregator persists periodic snapshots of the analytics totals to
// PostgreSQL.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conceptrank/conceptrank/internal/analytics"
	"github.com/conceptrank/conceptrank/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id            BIGSERIAL PRIMARY KEY,
		total_scores  BIGINT NOT NULL DEFAULT 0,
		total_indexed BIGINT NOT NULL DEFAULT 0,
		data          JSONB NOT NULL,
		captured_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE analytics_snapshots ADD COLUMN IF NOT EXISTS total_scores BIGINT NOT NULL DEFAULT 0`,
	`ALTER TABLE analytics_snapshots ADD COLUMN IF NOT EXISTS total_indexed BIGINT NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_idx ON analytics_snapshots (captured_at DESC)`,
}

// StatsSource is satisfied by *analytics.Aggregator.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

// Store writes snapshots and prunes those older than its retention.
type Store struct {
	db        *postgres.Client
	retention time.Duration
	logger    *slog.Logger

	// Totals of the last saved snapshot; an idle service does not add rows.
	lastScores, lastIndexed int64
	saved                   bool
}

// NewStore keeps snapshots for retention; zero keeps them forever.
func NewStore(db *postgres.Client, retention time.Duration) *Store {
	return &Store{
		db:        db,
		retention: retention,
		logger:    slog.Default().With("component", "analytics-store"),
	}
}

// Migrate creates or upgrades the snapshot table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, schema...)
}

// SaveSnapshot inserts stats and removes expired snapshots in the same
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	var pruned int64
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (total_scores, total_indexed, data, captured_at) VALUES ($1, $2, $3, $4)`,
			stats.TotalScores, stats.TotalIndexed, data, stats.CapturedAt,
		); err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}
		if s.retention <= 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots WHERE captured_at < $1`,
			stats.CapturedAt.Add(-s.retention),
		)
		if err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.lastScores, s.lastIndexed, s.saved = stats.TotalScores, stats.TotalIndexed, true
	s.logger.Info("analytics snapshot saved",
		"total_scores", stats.TotalScores,
		"total_indexed", stats.TotalIndexed,
		"pruned", pruned,
	)
	return nil
}

// LatestSnapshot returns nil, nil when no snapshot exists yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	list, err := s.ListSnapshots(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListSnapshots returns the last limit snapshots, newest first. Rows whose
// payload no longer decodes are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, data FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.AggregatedStats
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping undecodable snapshot", "id", id, "error", err)
			continue
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	return out, nil
}

// RunPeriodicSave snapshots src every interval while its totals move, and
// once more when ctx ends. It blocks until that final save is done.
func (s *Store) RunPeriodicSave(ctx context.Context, src StatsSource, interval time.Duration) {
	s.logger.Info("periodic snapshot started", "interval", interval, "retention", s.retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := src.Stats()
			if !s.changed(stats) {
				continue
			}
			if err := s.SaveSnapshot(ctx, stats); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.SaveSnapshot(final, src.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			return
		}
	}
}

func (s *Store) changed(stats analytics.AggregatedStats) bool {
	return !s.saved || stats.TotalScores != s.lastScores || stats.TotalIndexed != s.lastIndexed
}
