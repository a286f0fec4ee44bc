package permission

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/tool"
)

var ErrUnknownApproval = errors.New("unknown approval")

const previewLimit = 400

// Action is the observer's answer to a confirmation request.
type Action string

const (
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionAllowPattern Action = "allow_pattern"
)

// Decision resumes a suspended call.
type Decision struct {
	Action  Action `json:"action"`
	Pattern string `json:"pattern,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Interrupt is the payload surfaced to the observer while a call waits.
type Interrupt struct {
	Type        string         `json:"type"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
}

// PendingApproval is a suspended call. Its ID is the continuation token
// passed back to Resume.
type PendingApproval struct {
	ID        string
	Worker    string
	Interrupt Interrupt
	Created   time.Time

	decision chan Decision
}

// Recorder receives gate outcomes for metrics.
type Recorder interface {
	ToolCall(tool, status string, d time.Duration)
	Approval(decision string)
}

// Option configures a Gate.
type Option func(*Gate)

// WithNotify is called with every new pending approval, before the call
// blocks. It must not block; answer through Resume.
func WithNotify(fn func(PendingApproval)) Option {
	return func(g *Gate) { g.notify = fn }
}

func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.rec = r }
}

// Gate sits in front of every tool call.
type Gate struct {
	store  *Store
	runner *tool.Runner
	events event.Publisher
	notify func(PendingApproval)
	rec    Recorder
	log    *logging.Logger

	mu      sync.Mutex
	pending map[string]*PendingApproval
	// promptMu serializes confirmations so only one is outstanding.
	promptMu sync.Mutex
}

func NewGate(store *Store, runner *tool.Runner, events event.Publisher, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		runner:  runner,
		events:  events,
		log:     logging.New("permission"),
		pending: make(map[string]*PendingApproval),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Store() *Store { return g.store }

// Pending lists the outstanding approvals, oldest first.
func (g *Gate) Pending() []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingApproval, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resume delivers d to the pending approval id.
func (g *Gate) Resume(id string, d Decision) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApproval, id)
	}
	p.decision <- d
	return nil
}

// Execute runs t behind the pattern check and, when needed, a human
// decision. Rejections come back as results the worker can read. The
// only error is ctx ending while a decision is awaited.
func (g *Gate) Execute(ctx context.Context, t tool.Tool, args map[string]any) (tool.Result, error) {
	info := t.Info()
	snapshot := maps.Clone(args)
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	worker := event.WorkerFrom(ctx)
	log := g.log.WithWorker(worker)

	verdict, pattern := g.store.Evaluate(info.Name, snapshot)
	switch verdict {
	case VerdictDeny:
		log.Info("tool denied by pattern", zap.String("tool", info.Name), zap.String("pattern", pattern))
		g.reject(info.Name, worker, snapshot, domain.DecisionDenyPattern)
		return rejected(fmt.Sprintf("Tool call %s denied by pattern %s.", info.Name, pattern)), nil
	case VerdictAllow:
		log.Info("tool allowed by pattern", zap.String("tool", info.Name), zap.String("pattern", pattern))
		return g.run(ctx, t, snapshot, worker, domain.DecisionAllowPattern), nil
	}

	log.Info("tool needs confirmation", zap.String("tool", info.Name))
	d, err := g.await(ctx, info, snapshot, worker)
	if err != nil {
		return tool.Result{Output: "Error: " + err.Error()}, err
	}

	switch d.Action {
	case ActionApprove:
		return g.run(ctx, t, snapshot, worker, domain.DecisionUserApproved), nil
	case ActionReject:
		g.reject(info.Name, worker, snapshot, domain.DecisionUserRejected)
		if d.Reason != "" {
			return rejected(fmt.Sprintf("Tool call %s rejected by user. Reason: %s", info.Name, d.Reason)), nil
		}
		return rejected(fmt.Sprintf("Tool call %s rejected by user.", info.Name)), nil
	case ActionAllowPattern:
		if d.Pattern != "" {
			if _, err := g.store.Add(KindAllow, d.Pattern); err != nil {
				log.Error("persist allow pattern", zap.String("pattern", d.Pattern), zap.Error(err))
			}
		}
		return g.run(ctx, t, snapshot, worker, domain.DecisionSessionAllow), nil
	default:
		return tool.Result{Output: fmt.Sprintf("Unknown decision action: %s", d.Action)}, nil
	}
}

// await registers a pending approval, announces it and blocks for the
// decision or ctx.
func (g *Gate) await(ctx context.Context, info tool.Info, args map[string]any, worker string) (Decision, error) {
	g.promptMu.Lock()
	defer g.promptMu.Unlock()

	p := &PendingApproval{
		ID:     ulid.Make().String(),
		Worker: worker,
		Interrupt: Interrupt{
			Type:        "tool_confirmation",
			Tool:        info.Name,
			Args:        args,
			Description: info.Description,
		},
		Created:  time.Now(),
		decision: make(chan Decision, 1),
	}
	g.mu.Lock()
	g.pending[p.ID] = p
	g.mu.Unlock()

	g.publish(domain.ToolEvent{
		Kind:        domain.EventConfirmationRequested,
		Tool:        info.Name,
		Worker:      worker,
		Args:        args,
		Description: info.Description,
		ApprovalID:  p.ID,
	})
	if g.notify != nil {
		g.notify(*p)
	}

	select {
	case d := <-p.decision:
		g.record(string(d.Action))
		return d, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, p.ID)
		g.mu.Unlock()
		return Decision{}, fmt.Errorf("approval for %s abandoned: %w", info.Name, ctx.Err())
	}
}

func (g *Gate) run(ctx context.Context, t tool.Tool, args map[string]any, worker, decision string) tool.Result {
	name := t.Info().Name
	callID := uuid.NewString()
	ctx = event.WithCallID(ctx, callID)

	g.publish(domain.ToolEvent{
		Kind:     domain.EventStarted,
		Tool:     name,
		CallID:   callID,
		Worker:   worker,
		Args:     args,
		Decision: decision,
	})

	res := g.runner.Run(ctx, t, args)

	finished := domain.ToolEvent{
		Kind:     domain.EventFinished,
		Tool:     name,
		CallID:   callID,
		Worker:   worker,
		Args:     args,
		Decision: decision,
		Duration: res.Duration.Seconds(),
	}
	switch {
	case res.PlanSubmitted():
		finished.Status = domain.StatusControlFlow
		finished.ResultPreview = truncate("Control flow: "+res.Output, previewLimit)
	case res.Success:
		finished.Status = domain.StatusCompleted
		finished.ResultPreview = truncate(res.Output, previewLimit)
	default:
		finished.Status = domain.StatusFailed
		finished.Error = truncate(strings.TrimPrefix(res.Output, "Error: "), previewLimit)
	}
	g.publish(finished)
	if g.rec != nil {
		g.rec.ToolCall(name, finished.Status, res.Duration)
	}
	return res
}

func (g *Gate) reject(name, worker string, args map[string]any, decision string) {
	g.publish(domain.ToolEvent{
		Kind:     domain.EventRejected,
		Tool:     name,
		Worker:   worker,
		Args:     args,
		Status:   domain.StatusRejected,
		Decision: decision,
	})
	if decision == domain.DecisionDenyPattern {
		g.record(decision)
	}
	if g.rec != nil {
		g.rec.ToolCall(name, domain.StatusRejected, 0)
	}
}

func rejected(msg string) tool.Result {
	return tool.Result{Output: msg, Signal: tool.SignalRejected}
}

func (g *Gate) record(decision string) {
	if g.rec != nil {
		g.rec.Approval(decision)
	}
}

func (g *Gate) publish(ev domain.ToolEvent) {
	if g.events != nil {
		g.events.Publish(ev)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
