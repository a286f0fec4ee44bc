// Package agent runs one worker turn: it prepares the worker's context,
// drives the model's tool-call loop through the permission gate and turns
// the result into a state patch.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/tokens"
	"github.com/joss/codecrew/internal/tool"
	"github.com/joss/codecrew/pkg/llm"
)

// Limits bound the context and the length of a worker turn.
type Limits struct {
	TokenBudget     int
	KeepLast        int
	KeepLastPlanner int
	MaxSteps        int
}

func DefaultLimits() Limits {
	return Limits{
		TokenBudget:     100000,
		KeepLast:        30,
		KeepLastPlanner: 50,
		MaxSteps:        50,
	}
}

// Executor runs a tool call behind the permission check. The only error
// is ctx ending while a decision is awaited.
type Executor interface {
	Execute(ctx context.Context, t tool.Tool, args map[string]any) (tool.Result, error)
}

// StopReason says why a tool loop ended.
type StopReason string

const (
	StopNoToolCalls   StopReason = "no_tool_calls"
	StopPlanSubmitted StopReason = "plan_submitted"
	StopStepCap       StopReason = "step_cap"
)

// Outcome is a worker's contribution to the shared state.
type Outcome struct {
	Patch domain.Patch
	Steps int
	Stop  StopReason
	Usage llm.Usage
}

// Messages returns the messages the worker produced.
func (o Outcome) Messages() []domain.Message { return o.Patch.Messages }

type Option func(*Runtime)

func WithLimits(l Limits) Option {
	return func(r *Runtime) { r.limits = l }
}

func WithEstimator(e tokens.Estimator) Option {
	return func(r *Runtime) { r.est = e }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// Runtime executes worker turns. It holds no per-turn state and is safe
// for sequential reuse.
type Runtime struct {
	invoker llm.Invoker
	exec    Executor
	tools   *tool.Registry
	limits  Limits
	est     tokens.Estimator
	log     *logging.Logger
}

func New(invoker llm.Invoker, exec Executor, tools *tool.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		invoker: invoker,
		exec:    exec,
		tools:   tools,
		limits:  DefaultLimits(),
		est:     tokens.Chars{},
		log:     logging.New("agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limits.MaxSteps <= 0 {
		r.limits.MaxSteps = DefaultLimits().MaxSteps
	}
	return r
}

// recordedCall is a tool call the worker asked for during the turn.
type recordedCall struct {
	domain.ToolCall
	rejected bool
}

// turn collects what happened during one Run.
type turn struct {
	messages []domain.Message
	calls    []recordedCall
	plan     *domain.Plan
}

func (t *turn) callNames() []string {
	names := make([]string, 0, len(t.calls))
	for _, c := range t.calls {
		names = append(names, c.Name)
	}
	return names
}

// Context builds the message list a role is invoked with: its system
// prompt, its briefing, then the trimmed history.
func (r *Runtime) Context(role Role, s domain.State) []domain.Message {
	log := r.log.WithWorker(role.Name())
	history, _ := Trim(s.Messages, r.limits.TokenBudget, role.keepLast(r.limits), r.est, log)

	out := make([]domain.Message, 0, len(history)+2)
	out = append(out, domain.SystemMessage(role.systemPrompt()))
	if b := role.briefing(s); b != "" {
		out = append(out, domain.SystemMessage(b))
		log.Debug("briefing injected", zap.Int("user_messages", s.UserMessageCount()))
	}
	return append(out, history...)
}

// Run drives one worker turn until the model stops asking for tools, a
// plan is submitted or the step cap is hit. Business failures such as a
// bad plan or an unreadable verdict come back as patch values; an error
// means the model could not be reached or ctx ended.
func (r *Runtime) Run(ctx context.Context, role Role, s domain.State) (Outcome, error) {
	name := role.Name()
	log := r.log.WithWorker(name)
	ctx = event.WithWorker(ctx, name)
	start := time.Now()

	prompt := r.Context(role, s)
	allowed := role.Tools(r.tools)
	specs := Specs(allowed)

	t := &turn{}
	out := Outcome{Stop: StopStepCap}
	log.Info("worker started", zap.Int("history", len(s.Messages)), zap.Int("tools", len(specs)))

loop:
	for out.Steps < r.limits.MaxSteps {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		out.Steps++

		req := &llm.Request{
			Role:     name,
			Messages: append(append([]domain.Message(nil), prompt...), t.messages...),
			Tools:    specs,
		}
		resp, err := r.invoker.Invoke(ctx, req)
		if err != nil {
			return Outcome{}, fmt.Errorf("%s: invoke model: %w", name, err)
		}
		out.Usage.InputTokens += resp.Usage.InputTokens
		out.Usage.OutputTokens += resp.Usage.OutputTokens
		t.messages = append(t.messages, resp.Messages...)

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			out.Stop = StopNoToolCalls
			break
		}
		for i, call := range calls {
			res, err := r.call(ctx, allowed, call, name)
			if err != nil {
				return Outcome{}, err
			}
			t.calls = append(t.calls, recordedCall{ToolCall: call, rejected: res.Rejected()})
			t.messages = append(t.messages, domain.ToolMessage(call.ID, call.Name, res.Output))

			if res.PlanSubmitted() {
				t.plan = res.Plan
				for _, skipped := range calls[i+1:] {
					t.messages = append(t.messages, domain.ToolMessage(skipped.ID, skipped.Name,
						"Skipped: a plan was already submitted."))
				}
				out.Stop = StopPlanSubmitted
				break loop
			}
		}
	}
	if out.Stop == StopStepCap {
		log.Warn("step cap reached", zap.Int("steps", out.Steps))
	}

	out.Patch = role.finish(t, log)
	log.Info("worker completed",
		zap.String("stop", string(out.Stop)),
		zap.Int("steps", out.Steps),
		zap.Int("messages", len(out.Patch.Messages)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (r *Runtime) call(ctx context.Context, allowed *tool.Registry, call domain.ToolCall, worker string) (tool.Result, error) {
	t, ok := allowed.Get(call.Name)
	if !ok {
		r.log.WithWorker(worker).Warn("model asked for an unavailable tool", zap.String("tool", call.Name))
		return tool.Result{Output: fmt.Sprintf("Error: tool %s is not available to %s", call.Name, worker)}, nil
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return r.exec.Execute(ctx, t, args)
}

// Specs describes a registry's tools to the model.
func Specs(reg *tool.Registry) []llm.ToolSpec {
	infos := reg.Infos()
	specs := make([]llm.ToolSpec, 0, len(infos))
	for _, info := range infos {
		specs = append(specs, llm.ToolSpec{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.Parameters,
		})
	}
	return specs
}
