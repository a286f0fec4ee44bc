// Package orchestrator drives the planner, coder and reviewer through a
// shared state until the supervisor decides to finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/agent"
	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
)

// ErrBusy is returned when a message arrives while a run is in flight.
var ErrBusy = errors.New("session is busy")

// Workers runs one worker turn. *agent.Runtime implements it.
type Workers interface {
	Run(ctx context.Context, role agent.Role, s domain.State) (agent.Outcome, error)
}

var _ Workers = (*agent.Runtime)(nil)

// TurnRecorder counts worker turns for metrics.
type TurnRecorder interface {
	Turn(worker string)
}

// RunStore persists a summary of each run.
type RunStore interface {
	StartRun(ctx context.Context, goal string) (string, error)
	FinishRun(ctx context.Context, id string, sum RunSummary) error
}

// RunSummary is what a finished run leaves behind.
type RunSummary struct {
	Phase        domain.Phase
	ReviewStatus domain.ReviewStatus
	Iterations   int
	Turns        int
	Reason       string
	Err          string
	Duration     time.Duration
}

// Result describes one Run.
type Result struct {
	State  domain.State
	Turns  int
	Reason string
}

type Option func(*Orchestrator)

func WithTurnRecorder(r TurnRecorder) Option {
	return func(o *Orchestrator) { o.turns = r }
}

func WithRunStore(s RunStore) Option {
	return func(o *Orchestrator) { o.runs = s }
}

// WithObserver is called after every decision with the decision and the
// state it produced. Planner output is never observed before the decision
// that moves it out of planning.
func WithObserver(fn func(Decision, domain.State)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator alternates supervisor decisions and worker turns.
type Orchestrator struct {
	workers Workers
	turns   TurnRecorder
	runs    RunStore
	observe func(Decision, domain.State)
	log     *logging.Logger
}

func New(workers Workers, opts ...Option) *Orchestrator {
	o := &Orchestrator{workers: workers, log: logging.New("orchestrator")}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run loops until Decide returns Finish. Each worker patch is applied
// together with the decision that follows it. On error the last
// consistent state is returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, s domain.State) (Result, error) {
	start := time.Now()
	runID := o.startRun(ctx, s)

	dec := Decide(s)
	state := s.Apply(dec.Patch)
	o.notify(dec, state)

	res := Result{State: state}
	var runErr error
	for !dec.Finished() {
		role, ok := agent.ByName(dec.Next)
		if !ok {
			runErr = fmt.Errorf("unknown worker %q", dec.Next)
			break
		}
		out, err := o.workers.Run(ctx, role, state)
		if err != nil {
			runErr = fmt.Errorf("%s turn: %w", role.Name(), err)
			break
		}
		res.Turns++
		if o.turns != nil {
			o.turns.Turn(role.Name())
		}

		next := state.Apply(out.Patch)
		dec = Decide(next)
		state = next.Apply(dec.Patch)
		o.notify(dec, state)
	}

	res.State = state
	res.Reason = dec.Reason
	if runErr != nil {
		res.Reason = "error"
	}
	o.finishRun(runID, res, runErr, time.Since(start))
	o.log.Info("run finished",
		zap.String("reason", res.Reason),
		zap.Int("turns", res.Turns),
		zap.String("phase", string(state.Phase)),
		zap.Int("iteration", state.IterationCount))
	return res, runErr
}

func (o *Orchestrator) notify(d Decision, s domain.State) {
	o.log.Debug("decision", zap.String("next", d.Next), zap.String("reason", d.Reason))
	if o.observe != nil {
		o.observe(d, s)
	}
}

func (o *Orchestrator) startRun(ctx context.Context, s domain.State) string {
	if o.runs == nil {
		return ""
	}
	goal := ""
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == domain.RoleUser {
			goal = s.Messages[i].Content
			break
		}
	}
	id, err := o.runs.StartRun(ctx, goal)
	if err != nil {
		o.log.Warn("record run start", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) finishRun(id string, res Result, runErr error, d time.Duration) {
	if o.runs == nil || id == "" {
		return
	}
	sum := RunSummary{
		Phase:        res.State.Phase,
		ReviewStatus: res.State.ReviewStatus,
		Iterations:   res.State.IterationCount,
		Turns:        res.Turns,
		Reason:       res.Reason,
		Duration:     d,
	}
	if runErr != nil {
		sum.Err = runErr.Error()
	}
	// The run context may already be cancelled; the summary still matters.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.runs.FinishRun(ctx, id, sum); err != nil {
		o.log.Warn("record run finish", zap.String("run", id), zap.Error(err))
	}
}

// Session is a conversation: every Send appends a user message to the
// same state and runs the orchestrator on it.
type Session struct {
	orch *Orchestrator

	mu      sync.Mutex
	state   domain.State
	running bool
}

func NewSession(o *Orchestrator, maxIterations int) *Session {
	return &Session{orch: o, state: domain.NewState(maxIterations)}
}

// Send runs one user turn. Concurrent calls fail with ErrBusy.
func (s *Session) Send(ctx context.Context, text string) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrBusy
	}
	s.running = true
	state := s.state
	state.Messages = append(append([]domain.Message(nil), state.Messages...), domain.UserMessage(text))
	s.mu.Unlock()

	res, err := s.orch.Run(ctx, state)

	s.mu.Lock()
	s.state = res.State
	s.running = false
	s.mu.Unlock()
	return res, err
}

// State returns the state after the last completed Send.
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
