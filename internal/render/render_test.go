package render

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/journal"
	"github.com/joss/codecrew/internal/orchestrator"
	"github.com/joss/codecrew/internal/permission"
)

func init() {
	color.NoColor = true
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", Truncate("a\nb", 10))
	// Never split a multi-byte rune.
	assert.Equal(t, "ab...", Truncate("abéééééé", 6))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
}

func TestRenderer_EventsPlain(t *testing.T) {
	ts := time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	out := New(false).Events([]domain.ToolEvent{
		{Kind: domain.EventFinished, Tool: "shell", Worker: "Coder", Status: domain.StatusCompleted,
			Decision: domain.DecisionAllowPattern, Timestamp: ts},
	})
	assert.Equal(t, "[10:00:00] Coder finished shell completed allow_pattern\n", out)
	assert.Equal(t, "No events found\n", New(true).Events(nil))
}

func TestRenderer_Runs(t *testing.T) {
	runs := []journal.Run{{
		ID: "01J", Goal: "build a todo app", Status: "failed", Turns: 3, Iterations: 1,
		Reason: "error", Error: "Planner turn: boom", Duration: 2 * time.Second, CreatedAt: time.Now(),
	}}
	out := New(true).Runs(runs)
	assert.Contains(t, out, "build a todo app")
	assert.Contains(t, out, "3 turns, 1 fix rounds, 2.0s: error")
	assert.Contains(t, out, "Planner turn: boom")

	plain := New(false).Runs(runs)
	assert.Contains(t, plain, `turns=3 iter=1 reason="error"`)
}

func TestRenderer_ToolSets(t *testing.T) {
	out := New(false).ToolSets(map[string][]string{
		"Planner":  {"submit_plan", "read_file"},
		"Reviewer": {"shell"},
	}, []string{"Planner", "Reviewer"})
	assert.Equal(t, "Planner: read_file,submit_plan\nReviewer: shell\n", out)
}

func TestConsole_HandleEvents(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)

	c.Handle(domain.ToolEvent{Kind: domain.EventStarted, Tool: "shell", Worker: "Coder",
		Args: map[string]any{"command": "go test ./..."}})
	c.Handle(domain.ToolEvent{Kind: domain.EventOutputLine, Line: "ok"})
	c.Handle(domain.ToolEvent{Kind: domain.EventFinished, Tool: "shell", Status: domain.StatusFailed,
		Error: "command failed (code 1)", Duration: 0.5})

	out := buf.String()
	assert.Contains(t, out, "▶ Coder shell command=go test ./...")
	assert.NotContains(t, out, "│ ok", "output lines need verbose")
	assert.Contains(t, out, "✗ shell 500ms command failed (code 1)")

	buf.Reset()
	NewConsole(&buf, true).Handle(domain.ToolEvent{Kind: domain.EventOutputLine, Line: "ok"})
	assert.Contains(t, buf.String(), "│ ok")
}

func TestConsole_ObservePanels(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)

	s := domain.NewState(5)
	s.Phase = domain.PhasePlanning
	c.Observe(orchestrator.Decision{Next: "Planner", Reason: "first user message"}, s)

	s.Phase = domain.PhaseCoding
	s.Plan = &domain.Plan{Summary: "todo app", Tasks: []domain.Task{
		{ID: 1, Description: "scaffold"},
		{ID: 2, Description: "handlers", DependsOn: []int{1}},
	}}
	c.Observe(orchestrator.Decision{Next: "Coder", Reason: "plan submitted"}, s)
	out := buf.String()
	assert.Contains(t, out, "Plan: todo app")
	assert.Contains(t, out, "2. handlers (after 1)")

	s.Phase = domain.PhaseReviewing
	c.Observe(orchestrator.Decision{Next: "Reviewer", Reason: "coding done"}, s)

	buf.Reset()
	s.Phase = domain.PhaseCoding
	s.ReviewStatus = domain.ReviewNeedsFixes
	s.IssuesFound = []string{"main.go:3 - missing import"}
	c.Observe(orchestrator.Decision{Next: "Coder", Reason: "review needs fixes"}, s)
	out = buf.String()
	assert.Contains(t, out, "Review: needs_fixes")
	assert.Contains(t, out, "1. main.go:3 - missing import")

	buf.Reset()
	c.Observe(orchestrator.Decision{Next: orchestrator.Finish, Reason: "review passed"}, s)
	assert.Contains(t, buf.String(), "finished: review passed")
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want permission.Decision
	}{
		{"y\n", permission.Decision{Action: permission.ActionApprove}},
		{"YES", permission.Decision{Action: permission.ActionApprove}},
		{"n too risky\n", permission.Decision{Action: permission.ActionReject, Reason: "too risky"}},
		{"a\n", permission.Decision{Action: permission.ActionAllowPattern, Pattern: "shell"}},
		{"a shell(go test*)", permission.Decision{Action: permission.ActionAllowPattern, Pattern: "shell(go test*)"}},
		{"maybe", permission.Decision{Action: permission.ActionReject, Reason: "maybe"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAnswer(tt.in, "shell"), tt.in)
	}
}

type recordingResumer struct {
	mu   sync.Mutex
	got  map[string]permission.Decision
	done chan struct{}
}

func (r *recordingResumer) Resume(id string, d permission.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got[id] = d
	close(r.done)
	return nil
}

func TestPrompter_NotifyResumesGate(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(bufio.NewReader(strings.NewReader("n not now\n")), &out, ApprovalAsk)
	r := &recordingResumer{got: map[string]permission.Decision{}, done: make(chan struct{})}
	p.Bind(r)

	p.Notify(permission.PendingApproval{ID: "A1", Worker: "Coder",
		Interrupt: permission.Interrupt{Tool: "shell", Args: map[string]any{"command": "rm -rf build"}}})

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("approval was not delivered")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, permission.Decision{Action: permission.ActionReject, Reason: "not now"}, r.got["A1"])
	assert.Contains(t, out.String(), `Coder wants to run shell({"command":"rm -rf build"})`)
}

func TestPrompter_Modes(t *testing.T) {
	pa := permission.PendingApproval{Interrupt: permission.Interrupt{Tool: "shell"}}
	assert.Equal(t, permission.ActionApprove, NewPrompter(nil, nil, ApprovalAuto).Decide(pa).Action)
	assert.Equal(t, permission.ActionReject, NewPrompter(nil, nil, ApprovalDeny).Decide(pa).Action)

	eof := NewPrompter(bufio.NewReader(strings.NewReader("")), &bytes.Buffer{}, ApprovalAsk)
	d := eof.Decide(pa)
	require.Equal(t, permission.ActionReject, d.Action)
	assert.Equal(t, "no answer", d.Reason)
}
