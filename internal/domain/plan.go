package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

type TaskPhase string

const (
	TaskPhaseScaffold TaskPhase = "scaffold"
	TaskPhaseCore     TaskPhase = "core"
	TaskPhasePolish   TaskPhase = "polish"
)

// Task is one unit of work inside a Plan. Only Status changes after submission.
type Task struct {
	ID                 int        `json:"id"`
	Description        string     `json:"description"`
	Status             TaskStatus `json:"status"`
	DependsOn          []int      `json:"depends_on"`
	Priority           int        `json:"priority"`
	AcceptanceCriteria string     `json:"acceptance_criteria"`
	Phase              TaskPhase  `json:"phase"`
}

type taskFields Task

// UnmarshalJSON accepts ids and depends_on entries written either as
// numbers or as numeric strings.
func (t *Task) UnmarshalJSON(data []byte) error {
	var aux struct {
		taskFields
		ID        looseInt   `json:"id"`
		DependsOn []looseInt `json:"depends_on"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Task(aux.taskFields)
	t.ID = int(aux.ID)
	if aux.DependsOn != nil {
		t.DependsOn = make([]int, len(aux.DependsOn))
		for i, d := range aux.DependsOn {
			t.DependsOn[i] = int(d)
		}
	}
	return nil
}

type looseInt int

func (n *looseInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*n = looseInt(i)
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("task id %q is not an integer", s)
	}
	*n = looseInt(i)
	return nil
}

// Plan is produced once per planning round and replaced wholesale.
type Plan struct {
	Summary string `json:"summary"`
	Tasks   []Task `json:"tasks"`
}

var ErrInvalidPlan = errors.New("invalid plan")

// ParsePlan accepts a Plan value, a decoded JSON object, or a serialized string.
func ParsePlan(v any) (*Plan, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPlan)
	case *Plan:
		if p == nil {
			return nil, fmt.Errorf("%w: empty payload", ErrInvalidPlan)
		}
		cp := *p
		cp.Tasks = append([]Task(nil), p.Tasks...)
		return &cp, cp.normalize()
	case Plan:
		return &p, p.normalize()
	case string:
		raw = []byte(strings.TrimSpace(p))
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	case map[string]any:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %T", ErrInvalidPlan, v)
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := plan.normalize(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Plan) normalize() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidPlan)
	}
	seen := make(map[int]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("%w: task %d has no description", ErrInvalidPlan, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate task id %d", ErrInvalidPlan, t.ID)
		}
		seen[t.ID] = true
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.Phase == "" {
			t.Phase = TaskPhaseCore
		}
		if t.DependsOn == nil {
			t.DependsOn = []int{}
		}
	}
	return nil
}

// TaskList renders tasks as "- Task N: description" lines.
func (p *Plan) TaskList() string {
	var b strings.Builder
	for _, t := range p.Tasks {
		fmt.Fprintf(&b, "- Task %d: %s\n", t.ID, t.Description)
	}
	return b.String()
}
