// Package history keeps finished watcher cycles in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kaustavdm/watchme/internal/types"
)

var ErrNotFound = errors.New("cycle not found")

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id       TEXT PRIMARY KEY,
	watcher  TEXT NOT NULL,
	started  TEXT NOT NULL,
	finished TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_results (
	cycle_id  TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	task_id   TEXT NOT NULL,
	type      TEXT NOT NULL,
	status    TEXT NOT NULL,
	files     TEXT NOT NULL,
	warnings  TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	duration  REAL NOT NULL,
	error     TEXT NOT NULL,
	PRIMARY KEY (cycle_id, position)
);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started);
`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and creates if needed) the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	logger.Named("history").Debug("history store opened", zap.String("path", path))
	return &Store{db: db, logger: logger.Named("history")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCycle inserts or replaces a cycle with all its task results.
func (s *Store) SaveCycle(ctx context.Context, summary types.CycleSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE cycle_id = ?`, summary.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cycles (id, watcher, started, finished) VALUES (?, ?, ?, ?)`,
		summary.ID, summary.Watcher, formatTime(summary.Started), formatTime(summary.Finished)); err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}

	for i, r := range summary.Results {
		files, err := json.Marshal(orEmpty(r.Files))
		if err != nil {
			return err
		}
		warnings, err := json.Marshal(orEmpty(r.Warnings))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_results (cycle_id, position, task_id, type, status, files, warnings, timestamp, duration, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			summary.ID, i, r.TaskID, r.Type, r.Status, string(files), string(warnings),
			formatTime(r.Timestamp), r.Duration, r.Error); err != nil {
			return fmt.Errorf("inserting result for %s: %w", r.TaskID, err)
		}
	}
	return tx.Commit()
}

// ListCycles returns the most recent cycles first, with their results.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]types.CycleSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, watcher, started, finished FROM cycles ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var cycles []types.CycleSummary
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cycles {
		if cycles[i].Results, err = s.loadResults(ctx, cycles[i].ID); err != nil {
			return nil, err
		}
	}
	return cycles, nil
}

// GetCycle returns one cycle, or ErrNotFound.
func (s *Store) GetCycle(ctx context.Context, id string) (*types.CycleSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, watcher, started, finished FROM cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Results, err = s.loadResults(ctx, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// Prune deletes cycles that started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.logger.Info("pruned cycles", zap.Int64("count", n))
	}
	return n, err
}

func (s *Store) loadResults(ctx context.Context, cycleID string) ([]types.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, type, status, files, warnings, timestamp, duration, error
		 FROM task_results WHERE cycle_id = ? ORDER BY position`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TaskResult
	for rows.Next() {
		var (
			r                   types.TaskResult
			files, warnings, ts string
		)
		if err := rows.Scan(&r.TaskID, &r.Type, &r.Status, &files, &warnings, &ts, &r.Duration, &r.Error); err != nil {
			return nil, err
		}
		r.CycleID = cycleID
		if err := json.Unmarshal([]byte(files), &r.Files); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return nil, err
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if len(r.Files) == 0 {
			r.Files = nil
		}
		if len(r.Warnings) == 0 {
			r.Warnings = nil
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (types.CycleSummary, error) {
	var (
		c                 types.CycleSummary
		started, finished string
	)
	if err := row.Scan(&c.ID, &c.Watcher, &started, &finished); err != nil {
		return c, err
	}
	var err error
	if c.Started, err = parseTime(started); err != nil {
		return c, err
	}
	if c.Finished, err = parseTime(finished); err != nil {
		return c, err
	}
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
