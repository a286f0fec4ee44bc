package tool

import (
	"context"
	"fmt"

	"github.com/joss/codecrew/internal/domain"
)

// SubmitPlan hands the planner's plan back to the worker loop. A
// successful call yields Output.Plan, which the runner turns into
// SignalPlanSubmitted.
type SubmitPlan struct{}

func NewSubmitPlan() *SubmitPlan { return &SubmitPlan{} }

func (t *SubmitPlan) Info() Info {
	task := object(map[string]any{
		"id":                  prop("integer", "Task number, unique within the plan"),
		"description":         prop("string", "What to implement"),
		"status":              map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
		"depends_on":          map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		"priority":            prop("integer", "Higher is more important"),
		"acceptance_criteria": prop("string", "How the reviewer can verify the task"),
		"phase":               map[string]any{"type": "string", "enum": []string{"scaffold", "core", "polish"}},
	}, "id", "description")
	plan := object(map[string]any{
		"summary": prop("string", "One paragraph overview of the approach"),
		"tasks":   map[string]any{"type": "array", "items": task},
	}, "summary", "tasks")

	return Info{
		Name: "submit_plan",
		Description: "Submit the finalized project plan. After calling this tool the Coder takes over; " +
			"do not call any other tool afterwards.",
		Parameters: object(map[string]any{"plan": plan}, "plan"),
	}
}

func (t *SubmitPlan) Execute(ctx context.Context, args map[string]any) (Output, error) {
	var raw any = args
	if p, ok := args["plan"]; ok {
		raw = p
	}
	plan, err := domain.ParsePlan(raw)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return Output{
		Text: fmt.Sprintf("Plan submitted with %d tasks", len(plan.Tasks)),
		Plan: plan,
	}, nil
}
