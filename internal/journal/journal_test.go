package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/orchestrator"
)

func openJournal(t *testing.T, workspace string) *Journal {
	t.Helper()
	j, err := Open(t.TempDir(), workspace)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openJournal(t, "/ws")
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, kind := range []domain.EventKind{domain.EventStarted, domain.EventFinished, domain.EventRejected} {
		require.NoError(t, j.Record(ctx, domain.ToolEvent{
			ID:        string(kind),
			Kind:      kind,
			Tool:      "shell",
			CallID:    "call-1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventStarted, all[0].Kind)
	assert.Equal(t, domain.EventRejected, all[2].Kind)

	last, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, domain.EventFinished, last[0].Kind)
}

func TestRecord_DuplicateIDIgnored(t *testing.T) {
	j := openJournal(t, "/ws")
	ev := domain.ToolEvent{ID: "same", Kind: domain.EventStarted, Tool: "read_file", Timestamp: time.Now()}
	require.NoError(t, j.Record(context.Background(), ev))
	require.NoError(t, j.Record(context.Background(), ev))

	all, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHandle_SkipsOutputLines(t *testing.T) {
	j := openJournal(t, "/ws")
	j.Handle(domain.ToolEvent{ID: "a", Kind: domain.EventOutputLine, Tool: "shell", Line: "hi", Timestamp: time.Now()})
	j.Handle(domain.ToolEvent{ID: "b", Kind: domain.EventFinished, Tool: "shell", Status: domain.StatusCompleted, Timestamp: time.Now()})

	all, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestByCallAndStats(t *testing.T) {
	j := openJournal(t, "/ws")
	ctx := context.Background()
	now := time.Now()

	events := []domain.ToolEvent{
		{ID: "1", Kind: domain.EventStarted, Tool: "shell", CallID: "x", Timestamp: now},
		{ID: "2", Kind: domain.EventFinished, Tool: "shell", CallID: "x", Status: domain.StatusCompleted, Timestamp: now.Add(time.Millisecond)},
		{ID: "3", Kind: domain.EventFinished, Tool: "shell", CallID: "y", Status: domain.StatusFailed, Timestamp: now},
		{ID: "4", Kind: domain.EventRejected, Tool: "write_file", Status: domain.StatusRejected, Timestamp: now},
	}
	for _, ev := range events {
		require.NoError(t, j.Record(ctx, ev))
	}

	call, err := j.ByCall(ctx, "x")
	require.NoError(t, err)
	require.Len(t, call, 2)
	assert.Equal(t, domain.EventStarted, call[0].Kind)

	stats, err := j.Stats(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"completed": 1, "failed": 1, "rejected": 1}, stats)
}

func TestRuns_Lifecycle(t *testing.T) {
	j := openJournal(t, "/ws")
	ctx := context.Background()

	first, err := j.StartRun(ctx, "build a todo app")
	require.NoError(t, err)
	second, err := j.StartRun(ctx, "fix the delete button")
	require.NoError(t, err)

	require.NoError(t, j.FinishRun(ctx, first, orchestrator.RunSummary{
		Phase:        domain.PhaseDone,
		ReviewStatus: domain.ReviewPassed,
		Iterations:   1,
		Turns:        5,
		Reason:       "review passed",
		Duration:     1500 * time.Millisecond,
	}))
	require.NoError(t, j.FinishRun(ctx, second, orchestrator.RunSummary{Reason: "error", Err: "Planner turn: boom"}))

	runs, err := j.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Equal(t, "Planner turn: boom", runs[0].Error)

	done := runs[1]
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, "build a todo app", done.Goal)
	assert.Equal(t, "passed", done.ReviewStatus)
	assert.Equal(t, 5, done.Turns)
	assert.Equal(t, 1500*time.Millisecond, done.Duration)
	require.NotNil(t, done.CompletedAt)

	other := openJournal(t, "/elsewhere")
	none, err := other.Runs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFinishRun_Unknown(t *testing.T) {
	j := openJournal(t, "/ws")
	err := j.FinishRun(context.Background(), "nope", orchestrator.RunSummary{})
	assert.Error(t, err)
}
