// Package tool defines the tool contract, the execution wrapper and the
// builtin tools workers can call.
package tool

import (
	"context"
	"time"

	"github.com/joss/codecrew/internal/domain"
)

// JSONSchema describes tool parameters.
type JSONSchema map[string]any

// Info is the static description of a tool.
type Info struct {
	Name        string
	Description string
	Parameters  JSONSchema
	// Timeout overrides the runner default when non-zero.
	Timeout time.Duration
}

// Tool is implemented by every tool.
type Tool interface {
	Info() Info
	Execute(ctx context.Context, args map[string]any) (Output, error)
}

// Output is what a tool body returns. Plan is set only by submit_plan.
type Output struct {
	Text string
	Plan *domain.Plan
}

// Text wraps a plain string output.
func Text(s string) Output { return Output{Text: s} }

// Signal tags a Result that must alter control flow.
type Signal int

const (
	SignalNone Signal = iota
	// SignalPlanSubmitted stops the worker loop immediately.
	SignalPlanSubmitted
	// SignalRejected marks a call the permission gate refused to run.
	SignalRejected
)

// Result is the normalized outcome of one tool call.
type Result struct {
	Success  bool
	Output   string
	Duration time.Duration
	Signal   Signal
	Plan     *domain.Plan
}

func (r Result) PlanSubmitted() bool { return r.Signal == SignalPlanSubmitted }

func (r Result) Rejected() bool { return r.Signal == SignalRejected }
