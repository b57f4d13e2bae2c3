package resultsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/boristopalov/mapd/pkg/experiment"
	"github.com/boristopalov/mapd/pkg/messaging"
)

// Run describes a benchmark run
type Run struct {
	RunID     string
	Name      string
	Seed      int64
	Agents    int
	Episodes  int
	StartedAt time.Time
}

// SQLiteIndex stores runs, episodes and summaries for later querying
type SQLiteIndex struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			seed INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			episodes INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			episode_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			idx INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			global_reward REAL NOT NULL,
			collisions INTEGER NOT NULL,
			occupied INTEGER NOT NULL,
			min_dists REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_run_idx ON episodes(run_id, idx);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			run_id TEXT PRIMARY KEY REFERENCES runs(run_id),
			mean_global_reward REAL NOT NULL,
			std_global_reward REAL NOT NULL,
			mean_collisions REAL NOT NULL,
			mean_occupied REAL NOT NULL,
			occupancy_rate REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// RecordRun inserts or replaces a run row; episodes reference it
func (s *SQLiteIndex) RecordRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, name, seed, agents, episodes, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Name, r.Seed, r.Agents, r.Episodes, r.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.RunID, err)
	}
	return nil
}

func (s *SQLiteIndex) RecordEpisode(ctx context.Context, res experiment.EpisodeResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (episode_id, run_id, idx, seed, global_reward, collisions, occupied, min_dists, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.EpisodeID, res.RunID, res.Index, int64(res.Seed), res.GlobalReward, res.Collisions, res.Occupied, res.MinDists, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to record episode %d of %s: %w", res.Index, res.RunID, err)
	}
	return nil
}

func (s *SQLiteIndex) RecordSummary(ctx context.Context, sum experiment.Summary) error {
	raw, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO summaries (run_id, mean_global_reward, std_global_reward, mean_collisions, mean_occupied, occupancy_rate, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.MeanGlobalReward, sum.StdGlobalReward, sum.MeanCollisions, sum.MeanOccupied, sum.OccupancyRate, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to record summary of %s: %w", sum.RunID, err)
	}
	return nil
}

// EpisodeCount returns how many episodes are stored for runID
func (s *SQLiteIndex) EpisodeCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// Summary loads the stored summary of runID
func (s *SQLiteIndex) Summary(ctx context.Context, runID string) (experiment.Summary, error) {
	var raw string
	var sum experiment.Summary
	err := s.db.QueryRowContext(ctx, `SELECT raw_json FROM summaries WHERE run_id = ?`, runID).Scan(&raw)
	if err != nil {
		return sum, err
	}
	err = json.Unmarshal([]byte(raw), &sum)
	return sum, err
}

// BestEpisodes returns up to n episodes of runID ordered by global reward, best first
func (s *SQLiteIndex) BestEpisodes(ctx context.Context, runID string, n int) ([]experiment.EpisodeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_json FROM episodes WHERE run_id = ? ORDER BY global_reward DESC, idx ASC LIMIT ?`, runID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []experiment.EpisodeResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var res experiment.EpisodeResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Consume indexes episode and summary messages from ch until ch is closed or
// ctx is done
func (s *SQLiteIndex) Consume(ctx context.Context, ch <-chan messaging.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var err error
			switch c := msg.Content.(type) {
			case experiment.EpisodeResult:
				err = s.RecordEpisode(ctx, c)
			case experiment.Summary:
				err = s.RecordSummary(ctx, c)
			}
			if err != nil {
				return err
			}
		}
	}
}
