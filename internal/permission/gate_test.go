package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/tool"
)

type echoTool struct {
	mu    sync.Mutex
	calls int
}

func (e *echoTool) Info() tool.Info {
	return tool.Info{Name: "shell", Description: "Run a shell command"}
}

func (e *echoTool) Execute(_ context.Context, args map[string]any) (tool.Output, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return tool.Text("ran " + args["command"].(string)), nil
}

func (e *echoTool) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type memBus struct {
	mu     sync.Mutex
	events []domain.ToolEvent
}

func (b *memBus) Publish(ev domain.ToolEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return true
}

func (b *memBus) kinds() []domain.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventKind, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (b *memBus) last(kind domain.EventKind) domain.ToolEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Kind == kind {
			return b.events[i]
		}
	}
	return domain.ToolEvent{}
}

type countingRecorder struct {
	mu        sync.Mutex
	calls     map[string]int
	approvals map[string]int
}

func newRecorder() *countingRecorder {
	return &countingRecorder{calls: map[string]int{}, approvals: map[string]int{}}
}

func (r *countingRecorder) ToolCall(tool, status string, _ time.Duration) {
	r.mu.Lock()
	r.calls[tool+"/"+status]++
	r.mu.Unlock()
}

func (r *countingRecorder) Approval(decision string) {
	r.mu.Lock()
	r.approvals[decision]++
	r.mu.Unlock()
}

// autoAnswer resumes every pending approval with d.
func autoAnswer(g **Gate, d Decision) Option {
	return WithNotify(func(p PendingApproval) {
		go func() { _ = (*g).Resume(p.ID, d) }()
	})
}

func newGate(t *testing.T, set PatternSet, opts ...Option) (*Gate, *memBus) {
	t.Helper()
	bus := &memBus{}
	runner := tool.NewRunner(tool.Policy{Timeout: 5 * time.Second})
	return NewGate(NewMemoryStore(set), runner, bus, opts...), bus
}

func workerCtx() context.Context {
	return event.WithWorker(context.Background(), "Coder")
}

func TestGate_AllowPatternSkipsConfirmation(t *testing.T) {
	g, bus := newGate(t, PatternSet{Allow: []string{"shell(git *)"}})
	echo := &echoTool{}

	res, err := g.Execute(workerCtx(), echo, map[string]any{"command": "git status"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ran git status", res.Output)

	assert.Equal(t, []domain.EventKind{domain.EventStarted, domain.EventFinished}, bus.kinds())
	fin := bus.last(domain.EventFinished)
	assert.Equal(t, domain.DecisionAllowPattern, fin.Decision)
	assert.Equal(t, domain.StatusCompleted, fin.Status)
	assert.Equal(t, "Coder", fin.Worker)
	assert.NotEmpty(t, fin.CallID)
	assert.Equal(t, bus.last(domain.EventStarted).CallID, fin.CallID)
	assert.Equal(t, "ran git status", fin.ResultPreview)
}

func TestGate_ApproveRunsOnceWithoutPersisting(t *testing.T) {
	var g *Gate
	g, bus := newGate(t, PatternSet{}, autoAnswer(&g, Decision{Action: ActionApprove}))
	echo := &echoTool{}

	res, err := g.Execute(workerCtx(), echo, map[string]any{"command": "make"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, echo.count())

	assert.Equal(t, []domain.EventKind{domain.EventConfirmationRequested, domain.EventStarted, domain.EventFinished}, bus.kinds())
	req := bus.last(domain.EventConfirmationRequested)
	assert.NotEmpty(t, req.ApprovalID)
	assert.Equal(t, "Run a shell command", req.Description)
	assert.Equal(t, domain.DecisionUserApproved, bus.last(domain.EventFinished).Decision)
	assert.Empty(t, g.Store().Snapshot().Allow)
	assert.Empty(t, g.Pending())
}

func TestGate_RejectReturnsMessage(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"with reason", "too risky", "Tool call shell rejected by user. Reason: too risky"},
		{"without reason", "", "Tool call shell rejected by user."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g *Gate
			rec := newRecorder()
			g, bus := newGate(t, PatternSet{}, autoAnswer(&g, Decision{Action: ActionReject, Reason: tt.reason}), WithRecorder(rec))
			echo := &echoTool{}

			res, err := g.Execute(workerCtx(), echo, map[string]any{"command": "rm -rf /"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.True(t, res.Rejected())
			assert.Equal(t, tt.want, res.Output)
			assert.Zero(t, echo.count())

			rej := bus.last(domain.EventRejected)
			assert.Equal(t, domain.StatusRejected, rej.Status)
			assert.Equal(t, domain.DecisionUserRejected, rej.Decision)
			assert.Equal(t, 1, rec.approvals["reject"])
		})
	}
}

func TestGate_AllowPatternDecisionIsLearned(t *testing.T) {
	var g *Gate
	prompts := 0
	g, bus := newGate(t, PatternSet{}, WithNotify(func(p PendingApproval) {
		prompts++
		go func() { _ = g.Resume(p.ID, Decision{Action: ActionAllowPattern, Pattern: "shell(go test*)"}) }()
	}))
	echo := &echoTool{}

	_, err := g.Execute(workerCtx(), echo, map[string]any{"command": "go test ./..."})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSessionAllow, bus.last(domain.EventFinished).Decision)

	_, err = g.Execute(workerCtx(), echo, map[string]any{"command": "go test ./internal/..."})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAllowPattern, bus.last(domain.EventFinished).Decision)

	assert.Equal(t, 1, prompts)
	assert.Equal(t, 2, echo.count())
	assert.Equal(t, []string{"shell(go test*)"}, g.Store().Snapshot().Allow)
}

func TestGate_DenyPatternRejectsWithoutPrompt(t *testing.T) {
	prompted := false
	g, bus := newGate(t, PatternSet{Allow: []string{"shell"}, Deny: []string{"shell(rm *)"}},
		WithNotify(func(PendingApproval) { prompted = true }))
	echo := &echoTool{}

	res, err := g.Execute(workerCtx(), echo, map[string]any{"command": "rm -rf build"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "denied by pattern shell(rm *)")
	assert.True(t, res.Rejected())
	assert.False(t, prompted)
	assert.Zero(t, echo.count())
	assert.Equal(t, domain.DecisionDenyPattern, bus.last(domain.EventRejected).Decision)
}

func TestGate_UnknownAction(t *testing.T) {
	var g *Gate
	g, _ = newGate(t, PatternSet{}, autoAnswer(&g, Decision{Action: "maybe"}))
	res, err := g.Execute(workerCtx(), &echoTool{}, map[string]any{"command": "ls"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown decision action: maybe", res.Output)
}

func TestGate_PendingAndResume(t *testing.T) {
	g, _ := newGate(t, PatternSet{})
	echo := &echoTool{}

	type outcome struct {
		res tool.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.Execute(workerCtx(), echo, map[string]any{"command": "npm install"})
		done <- outcome{res, err}
	}()

	var pending []PendingApproval
	require.Eventually(t, func() bool {
		pending = g.Pending()
		return len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	p := pending[0]
	assert.Equal(t, "tool_confirmation", p.Interrupt.Type)
	assert.Equal(t, "shell", p.Interrupt.Tool)
	assert.Equal(t, "npm install", p.Interrupt.Args["command"])
	assert.Equal(t, "Coder", p.Worker)

	assert.ErrorIs(t, g.Resume("nope", Decision{Action: ActionApprove}), ErrUnknownApproval)
	require.NoError(t, g.Resume(p.ID, Decision{Action: ActionApprove}))

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.res.Success)
	assert.ErrorIs(t, g.Resume(p.ID, Decision{Action: ActionApprove}), ErrUnknownApproval)
}

func TestGate_CancelAbandonsWait(t *testing.T) {
	g, _ := newGate(t, PatternSet{})
	ctx, cancel := context.WithCancel(workerCtx())

	done := make(chan error, 1)
	go func() {
		_, err := g.Execute(ctx, &echoTool{}, map[string]any{"command": "sleep 1"})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(g.Pending()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not return after cancel")
	}
	assert.Empty(t, g.Pending())
}

func TestGate_PlanSubmissionIsControlFlow(t *testing.T) {
	g, bus := newGate(t, PatternSet{Allow: []string{"submit_plan"}})
	res, err := g.Execute(workerCtx(), tool.NewSubmitPlan(), map[string]any{
		"plan": map[string]any{"summary": "s", "tasks": []any{map[string]any{"id": 1, "description": "d"}}},
	})
	require.NoError(t, err)
	assert.True(t, res.PlanSubmitted())
	assert.Equal(t, domain.StatusControlFlow, bus.last(domain.EventFinished).Status)
}

func TestGate_FailedToolReportsError(t *testing.T) {
	g, bus := newGate(t, PatternSet{Allow: []string{"*"}})
	res, err := g.Execute(workerCtx(), tool.NewSubmitPlan(), map[string]any{"plan": "not json"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	fin := bus.last(domain.EventFinished)
	assert.Equal(t, domain.StatusFailed, fin.Status)
	assert.Contains(t, fin.Error, "invalid arguments")
	assert.NotContains(t, fin.Error, "Error: ")
}

type chattyTool struct {
	events event.Publisher
	lines  int
}

func (c *chattyTool) Info() tool.Info { return tool.Info{Name: "shell"} }

func (c *chattyTool) Execute(ctx context.Context, _ map[string]any) (tool.Output, error) {
	for i := 0; i < c.lines; i++ {
		c.events.Publish(domain.ToolEvent{Kind: domain.EventOutputLine, Tool: "shell", CallID: event.CallIDFrom(ctx), Stream: "stdout"})
	}
	return tool.Text("done"), nil
}

func TestGate_LifecycleSurvivesOutputFlood(t *testing.T) {
	bus := event.NewBus(16)
	runner := tool.NewRunner(tool.Policy{Timeout: 5 * time.Second})
	g := NewGate(NewMemoryStore(PatternSet{Allow: []string{"shell"}}), runner, bus)

	res, err := g.Execute(workerCtx(), &chattyTool{events: bus, lines: 2000}, map[string]any{"command": "seq 1 2000"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	evs := bus.Drain(0)
	require.Len(t, evs, 18)
	assert.Equal(t, domain.EventStarted, evs[0].Kind)
	assert.Equal(t, domain.EventFinished, evs[len(evs)-1].Kind)
	assert.Equal(t, domain.StatusCompleted, evs[len(evs)-1].Status)
	assert.EqualValues(t, 2000-16, bus.Dropped())
}
