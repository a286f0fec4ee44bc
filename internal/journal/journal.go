// Package journal keeps a queryable SQLite history of tool events and
// orchestration runs.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/logging"
)

// Journal implements event.Sink.
var _ event.Sink = (*Journal)(nil)

type Journal struct {
	db        *sql.DB
	path      string
	workspace string
	log       *logging.Logger
}

// Open creates or opens <dataDir>/journal.db. Events are tagged with the
// workspace so one data dir can serve several projects.
func Open(dataDir, workspace string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "journal.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &Journal{db: db, path: dbPath, workspace: workspace, log: logging.New("journal")}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		workspace TEXT NOT NULL,
		kind TEXT NOT NULL,
		tool TEXT NOT NULL,
		call_id TEXT,
		worker TEXT,
		status TEXT,
		decision TEXT,
		duration REAL NOT NULL DEFAULT 0,
		error TEXT,
		payload_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_workspace ON events(workspace, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_call ON events(call_id);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workspace TEXT NOT NULL,
		goal TEXT NOT NULL,
		status TEXT NOT NULL,
		phase TEXT,
		review_status TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace, created_at DESC);
	`
	_, err := j.db.Exec(schema)
	return err
}

func (j *Journal) Path() string { return j.path }

func (j *Journal) Close() error {
	return j.db.Close()
}

// Handle records ev. Output lines are skipped; they are already in the
// process log and would swamp the table.
func (j *Journal) Handle(ev domain.ToolEvent) {
	if ev.Kind == domain.EventOutputLine {
		return
	}
	if err := j.Record(context.Background(), ev); err != nil {
		j.log.Warn("journal write failed", zap.String("event", ev.ID), zap.Error(err))
	}
}

func (j *Journal) Record(ctx context.Context, ev domain.ToolEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, workspace, kind, tool, call_id, worker, status, decision, duration, error, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, j.workspace, string(ev.Kind), ev.Tool, ev.CallID, ev.Worker, ev.Status, ev.Decision, ev.Duration, ev.Error, string(payload), ev.Timestamp.UTC())
	return err
}

// Recent returns the newest events for this workspace, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.ToolEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT payload_json FROM (
			SELECT payload_json, created_at, rowid FROM events
			WHERE workspace = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rowid ASC
	`, j.workspace, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ByCall returns every recorded event of one tool call in order.
func (j *Journal) ByCall(ctx context.Context, callID string) ([]domain.ToolEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT payload_json FROM events WHERE call_id = ? ORDER BY created_at ASC, rowid ASC
	`, callID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Stats counts finished calls per status since t.
func (j *Journal) Stats(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM events
		WHERE workspace = ? AND kind IN (?, ?) AND created_at >= ?
		GROUP BY status
	`, j.workspace, string(domain.EventFinished), string(domain.EventRejected), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status sql.NullString
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status.String] = n
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]domain.ToolEvent, error) {
	defer rows.Close()
	var out []domain.ToolEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.ToolEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
