package domain

type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseCoding    Phase = "coding"
	PhaseReviewing Phase = "reviewing"
	PhaseDone      Phase = "done"
)

type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewPassed     ReviewStatus = "passed"
	ReviewNeedsFixes ReviewStatus = "needs_fixes"
)

// DefaultMaxIterations bounds the coder/reviewer feedback loop.
const DefaultMaxIterations = 10

// State is the single record threaded through every orchestration turn.
// PreviousPlan holds the last plan while a follow-up is being planned, so
// Plan stays nil for as long as Phase is planning.
type State struct {
	Messages       []Message    `json:"messages"`
	Phase          Phase        `json:"phase"`
	Plan           *Plan        `json:"plan,omitempty"`
	PreviousPlan   *Plan        `json:"previous_plan,omitempty"`
	IterationCount int          `json:"iteration_count"`
	MaxIterations  int          `json:"max_iterations"`
	ReviewStatus   ReviewStatus `json:"review_status"`
	IssuesFound    []string     `json:"issues_found"`
}

func NewState(maxIterations int) State {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return State{
		Phase:         PhasePlanning,
		MaxIterations: maxIterations,
		ReviewStatus:  ReviewPending,
		IssuesFound:   []string{},
	}
}

// LatestPlan returns the plan in force, or the stashed one while a
// follow-up is being planned.
func (s State) LatestPlan() *Plan {
	if s.Plan != nil {
		return s.Plan
	}
	return s.PreviousPlan
}

// LastIsUser reports whether the newest message came from the user.
func (s State) LastIsUser() bool {
	if len(s.Messages) == 0 {
		return false
	}
	return s.Messages[len(s.Messages)-1].Role == RoleUser
}

func (s State) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Patch describes a change to State. Nil fields are left untouched and
// Messages are appended.
type Patch struct {
	Messages       []Message
	Phase          *Phase
	Plan           *Plan
	ClearPlan      bool // drops Plan and PreviousPlan
	StashPlan      bool // moves Plan to PreviousPlan
	IterationCount *int
	ReviewStatus   *ReviewStatus
	IssuesFound    *[]string
}

func Ptr[T any](v T) *T { return &v }

// Merge layers other on top of p.
func (p Patch) Merge(other Patch) Patch {
	p.Messages = append(append([]Message(nil), p.Messages...), other.Messages...)
	if other.Phase != nil {
		p.Phase = other.Phase
	}
	if other.ClearPlan {
		p.Plan = nil
		p.ClearPlan = true
	}
	if other.StashPlan {
		p.StashPlan = true
	}
	if other.Plan != nil {
		p.Plan = other.Plan
		p.ClearPlan = false
	}
	if other.IterationCount != nil {
		p.IterationCount = other.IterationCount
	}
	if other.ReviewStatus != nil {
		p.ReviewStatus = other.ReviewStatus
	}
	if other.IssuesFound != nil {
		p.IssuesFound = other.IssuesFound
	}
	return p
}

// Apply returns a copy of s with p applied.
func (s State) Apply(p Patch) State {
	next := s
	next.Messages = append(append(make([]Message, 0, len(s.Messages)+len(p.Messages)), s.Messages...), p.Messages...)
	if p.Phase != nil {
		next.Phase = *p.Phase
	}
	if p.ClearPlan {
		next.Plan = nil
		next.PreviousPlan = nil
	}
	if p.StashPlan && next.Plan != nil {
		next.PreviousPlan = next.Plan
		next.Plan = nil
	}
	if p.Plan != nil {
		next.Plan = p.Plan
	}
	if p.IterationCount != nil {
		next.IterationCount = *p.IterationCount
	}
	if p.ReviewStatus != nil {
		next.ReviewStatus = *p.ReviewStatus
	}
	if p.IssuesFound != nil {
		next.IssuesFound = append([]string{}, (*p.IssuesFound)...)
	}
	return next
}
