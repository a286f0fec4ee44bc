package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/codecrew/internal/orchestrator"
)

var _ orchestrator.RunStore = (*Journal)(nil)

// Run is one recorded orchestration run.
type Run struct {
	ID           string        `json:"id"`
	Goal         string        `json:"goal"`
	Status       string        `json:"status"` // running, completed, failed
	Phase        string        `json:"phase,omitempty"`
	ReviewStatus string        `json:"review_status,omitempty"`
	Iterations   int           `json:"iterations"`
	Turns        int           `json:"turns"`
	Reason       string        `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// StartRun creates a run record in the running state.
func (j *Journal) StartRun(ctx context.Context, goal string) (string, error) {
	id := ulid.Make().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, workspace, goal, status, created_at)
		VALUES (?, ?, ?, 'running', ?)
	`, id, j.workspace, goal, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run with its summary.
func (j *Journal) FinishRun(ctx context.Context, id string, sum orchestrator.RunSummary) error {
	status := "completed"
	if sum.Err != "" {
		status = "failed"
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, phase = ?, review_status = ?, iterations = ?, turns = ?,
			reason = ?, error = ?, duration_ms = ?, completed_at = ?
		WHERE id = ?
	`, status, string(sum.Phase), string(sum.ReviewStatus), sum.Iterations, sum.Turns,
		sum.Reason, sum.Err, sum.Duration.Milliseconds(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Runs returns the newest runs for this workspace, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, goal, status, phase, review_status, iterations, turns, reason, error,
			duration_ms, created_at, completed_at
		FROM runs WHERE workspace = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, j.workspace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                             Run
			phase, review, reason, errMsg sql.NullString
			durationMs                    int64
			completed                     sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Goal, &r.Status, &phase, &review, &r.Iterations, &r.Turns,
			&reason, &errMsg, &durationMs, &r.CreatedAt, &completed); err != nil {
			return nil, err
		}
		r.Phase, r.ReviewStatus = phase.String, review.String
		r.Reason, r.Error = reason.String, errMsg.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
