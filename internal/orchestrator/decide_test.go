package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/codecrew/internal/agent"
	"github.com/joss/codecrew/internal/domain"
)

func threeTaskPlan() *domain.Plan {
	return &domain.Plan{Summary: "todo app", Tasks: []domain.Task{
		{ID: 1, Description: "scaffold"},
		{ID: 2, Description: "handlers"},
		{ID: 3, Description: "tests"},
	}}
}

func midRun(phase domain.Phase) domain.State {
	s := domain.NewState(5)
	s.Messages = []domain.Message{
		domain.UserMessage("build a todo app"),
		domain.AssistantMessage(agent.PlannerName, "planning"),
	}
	s.Phase = phase
	return s
}

func TestDecide_FirstUserMessageResets(t *testing.T) {
	s := domain.NewState(5)
	s.Plan = threeTaskPlan()
	s.IterationCount = 3
	s.IssuesFound = []string{"old"}
	s.Phase = domain.PhaseDone
	s.Messages = []domain.Message{domain.UserMessage("build a todo app")}

	d := Decide(s)
	assert.Equal(t, agent.PlannerName, d.Next)

	next := s.Apply(d.Patch)
	assert.Equal(t, domain.PhasePlanning, next.Phase)
	assert.Nil(t, next.Plan)
	assert.Nil(t, next.PreviousPlan)
	assert.Zero(t, next.IterationCount)
	assert.Equal(t, domain.ReviewPending, next.ReviewStatus)
	assert.Empty(t, next.IssuesFound)
}

func TestDecide_FollowUpKeepsPlanForPlanner(t *testing.T) {
	s := midRun(domain.PhaseDone)
	s.Plan = threeTaskPlan()
	s.IterationCount = 2
	s.Messages = append(s.Messages, domain.UserMessage("the delete button is broken"))

	d := Decide(s)
	assert.Equal(t, agent.PlannerName, d.Next)

	next := s.Apply(d.Patch)
	assert.Equal(t, domain.PhasePlanning, next.Phase)
	assert.Nil(t, next.Plan, "a plan never coexists with the planning phase")
	assert.Equal(t, "todo app", next.PreviousPlan.Summary)
	assert.Zero(t, next.IterationCount)
}

func TestDecide_UserInputBeatsIterationLimit(t *testing.T) {
	s := midRun(domain.PhaseDone)
	s.IterationCount = 5
	s.Messages = append(s.Messages, domain.UserMessage("try again"))

	d := Decide(s)
	assert.Equal(t, agent.PlannerName, d.Next)
	assert.Zero(t, s.Apply(d.Patch).IterationCount)
}

// An approved plan hands off to the coder.
func TestDecide_PlanMovesToCoding(t *testing.T) {
	s := midRun(domain.PhasePlanning)
	s.Plan = threeTaskPlan()

	d := Decide(s)
	assert.Equal(t, agent.CoderName, d.Next)
	require.NotNil(t, d.Patch.Phase)
	assert.Equal(t, domain.PhaseCoding, *d.Patch.Phase)
}

func TestDecide_PlanningWithoutPlanFinishes(t *testing.T) {
	d := Decide(midRun(domain.PhasePlanning))
	assert.True(t, d.Finished())
	assert.Equal(t, domain.PhaseDone, *d.Patch.Phase)
}

// A completed coding turn hands off to review.
func TestDecide_CodingMovesToReview(t *testing.T) {
	s := midRun(domain.PhaseCoding)
	s.Plan = threeTaskPlan()
	s.ReviewStatus = domain.ReviewNeedsFixes

	d := Decide(s)
	assert.Equal(t, agent.ReviewerName, d.Next)
	assert.Equal(t, domain.PhaseReviewing, *d.Patch.Phase)
	assert.Equal(t, domain.ReviewPending, *d.Patch.ReviewStatus)
}

// A needs_fixes verdict sends the work back to the coder.
func TestDecide_NeedsFixesLoopsBack(t *testing.T) {
	s := midRun(domain.PhaseReviewing)
	s.Plan = threeTaskPlan()
	s.IterationCount = 1
	s = s.Apply(domain.Patch{
		ReviewStatus: domain.Ptr(domain.ReviewNeedsFixes),
		IssuesFound:  &[]string{"a.py:10 - missing import"},
	})

	d := Decide(s)
	assert.Equal(t, agent.CoderName, d.Next)
	next := s.Apply(d.Patch)
	assert.Equal(t, domain.PhaseCoding, next.Phase)
	assert.Equal(t, 2, next.IterationCount)
	assert.Equal(t, []string{"a.py:10 - missing import"}, next.IssuesFound)
}

func TestDecide_Reviewing(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.ReviewStatus
		iteration int
		next      string
		iterAfter int
	}{
		{"passed", domain.ReviewPassed, 0, Finish, 0},
		{"first unreadable verdict retries", domain.ReviewPending, 0, agent.ReviewerName, 1},
		{"second unreadable verdict finishes", domain.ReviewPending, 1, Finish, 1},
		{"unreadable after a fix round finishes", domain.ReviewPending, 3, Finish, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := midRun(domain.PhaseReviewing)
			s.Plan = threeTaskPlan()
			s.ReviewStatus = tt.status
			s.IterationCount = tt.iteration

			d := Decide(s)
			assert.Equal(t, tt.next, d.Next)
			next := s.Apply(d.Patch)
			assert.Equal(t, tt.iterAfter, next.IterationCount)
			if d.Finished() {
				assert.Equal(t, domain.PhaseDone, next.Phase)
			}
		})
	}
}

// Hitting the iteration limit finishes from any active phase.
func TestDecide_IterationLimitFinishesMidLoop(t *testing.T) {
	for _, phase := range []domain.Phase{domain.PhasePlanning, domain.PhaseCoding, domain.PhaseReviewing} {
		s := midRun(phase)
		s.Plan = threeTaskPlan()
		s.IterationCount = s.MaxIterations
		s.ReviewStatus = domain.ReviewNeedsFixes

		d := Decide(s)
		assert.Equal(t, Finish, d.Next, phase)
		assert.Equal(t, domain.PhaseDone, *d.Patch.Phase, phase)
	}
}

func TestDecide_DoneAndUnknownPhase(t *testing.T) {
	d := Decide(midRun(domain.PhaseDone))
	assert.True(t, d.Finished())
	assert.Nil(t, d.Patch.Phase)

	s := midRun("garbage")
	s.Plan = threeTaskPlan()
	d = Decide(s)
	assert.Equal(t, agent.PlannerName, d.Next)
	next := s.Apply(d.Patch)
	assert.Equal(t, domain.PhasePlanning, next.Phase)
	assert.Nil(t, next.Plan)
}

func TestDecide_IsDeterministic(t *testing.T) {
	s := midRun(domain.PhaseReviewing)
	s.ReviewStatus = domain.ReviewNeedsFixes
	a, b := Decide(s), Decide(s)
	assert.Equal(t, a.Next, b.Next)
	assert.Equal(t, *a.Patch.IterationCount, *b.Patch.IterationCount)
}

// Every sequence of reviewer verdicts ends the run, with at most
// max+2 reviewer turns and the iteration count never passing the limit.
func TestDecide_TerminatesForAnyVerdictSequence(t *testing.T) {
	const maxIter = 3
	verdicts := []domain.ReviewStatus{domain.ReviewPassed, domain.ReviewNeedsFixes, domain.ReviewPending}

	var sequences [][]domain.ReviewStatus
	var build func(prefix []domain.ReviewStatus)
	build = func(prefix []domain.ReviewStatus) {
		if len(prefix) == maxIter+3 {
			sequences = append(sequences, append([]domain.ReviewStatus(nil), prefix...))
			return
		}
		for _, v := range verdicts {
			build(append(prefix, v))
		}
	}
	build(nil)

	for _, seq := range sequences {
		s := domain.NewState(maxIter)
		s.Messages = []domain.Message{domain.UserMessage("build a todo app")}
		d := Decide(s)
		s = s.Apply(d.Patch)
		require.Equal(t, agent.PlannerName, d.Next)
		s = s.Apply(domain.Patch{
			Messages: []domain.Message{domain.AssistantMessage(agent.PlannerName, "plan")},
			Plan:     threeTaskPlan(),
		})

		reviews := 0
		for steps := 0; ; steps++ {
			require.Less(t, steps, 100, "no termination for %v", seq)
			d = Decide(s)
			s = s.Apply(d.Patch)
			require.LessOrEqual(t, s.IterationCount, maxIter, "sequence %v", seq)
			if d.Finished() {
				break
			}
			switch d.Next {
			case agent.CoderName:
				s = s.Apply(domain.Patch{Messages: []domain.Message{domain.AssistantMessage(agent.CoderName, "done")}})
			case agent.ReviewerName:
				require.Less(t, reviews, len(seq), "sequence %v", seq)
				s = s.Apply(domain.Patch{
					Messages:     []domain.Message{domain.AssistantMessage(agent.ReviewerName, "verdict")},
					ReviewStatus: domain.Ptr(seq[reviews]),
				})
				reviews++
			default:
				t.Fatalf("unexpected worker %s for %v", d.Next, seq)
			}
		}
		assert.LessOrEqual(t, reviews, maxIter+2, "sequence %v", seq)
		assert.Equal(t, domain.PhaseDone, s.Phase, "sequence %v", seq)
	}
}
