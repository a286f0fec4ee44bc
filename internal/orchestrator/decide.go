package orchestrator

import (
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/agent"
	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
)

// Finish is the routing target that ends a run.
const Finish = "FINISH"

// Decision is the supervisor's routing verdict for one state.
type Decision struct {
	Next   string
	Reason string
	Patch  domain.Patch
}

func (d Decision) Finished() bool { return d.Next == Finish }

var decideLog = logging.New("orchestrator")

// Decide routes a state to the next worker. It is pure apart from logging:
// the same state always yields the same decision.
//
// New user input is considered before the iteration limit so a capped run
// can always be resumed by talking to it.
func Decide(s domain.State) Decision {
	log := decideLog.With(
		zap.String("phase", string(s.Phase)),
		zap.Int("iteration", s.IterationCount),
		zap.Int("max_iterations", s.MaxIterations),
		zap.String("review", string(s.ReviewStatus)),
	)

	if s.LastIsUser() {
		n := s.UserMessageCount()
		p := domain.Patch{
			Phase:          domain.Ptr(domain.PhasePlanning),
			IterationCount: domain.Ptr(0),
			ReviewStatus:   domain.Ptr(domain.ReviewPending),
			IssuesFound:    &[]string{},
		}
		if n == 1 {
			p.ClearPlan = true
			log.Info("first user message, full reset")
			return Decision{Next: agent.PlannerName, Reason: "first user message", Patch: p}
		}
		p.StashPlan = true
		log.Info("follow-up message, keeping previous plan for the planner", zap.Int("user_message", n))
		return Decision{Next: agent.PlannerName, Reason: "follow-up user message", Patch: p}
	}

	if s.IterationCount >= s.MaxIterations {
		log.Error("max iterations reached, terminating to prevent an infinite loop")
		return finish("iteration limit reached")
	}

	switch s.Phase {
	case domain.PhasePlanning:
		if s.Plan != nil {
			log.Info("plan submitted, moving to coding")
			return Decision{Next: agent.CoderName, Reason: "plan submitted", Patch: domain.Patch{
				Phase: domain.Ptr(domain.PhaseCoding),
			}}
		}
		log.Info("planner finished without a plan")
		return finish("planner produced no plan")

	case domain.PhaseCoding:
		log.Info("coding done, moving to review")
		return Decision{Next: agent.ReviewerName, Reason: "coding done", Patch: domain.Patch{
			Phase:        domain.Ptr(domain.PhaseReviewing),
			ReviewStatus: domain.Ptr(domain.ReviewPending),
		}}

	case domain.PhaseReviewing:
		switch s.ReviewStatus {
		case domain.ReviewNeedsFixes:
			log.Info("review failed, back to the coder")
			return Decision{Next: agent.CoderName, Reason: "review needs fixes", Patch: domain.Patch{
				Phase:          domain.Ptr(domain.PhaseCoding),
				IterationCount: domain.Ptr(s.IterationCount + 1),
			}}
		case domain.ReviewPassed:
			log.Info("review passed")
			return finish("review passed")
		}
		if s.IterationCount > 0 {
			log.Error("review verdict unreadable twice, forcing finish")
			return finish("review verdict unreadable")
		}
		log.Error("review verdict unreadable, retrying the reviewer")
		return Decision{Next: agent.ReviewerName, Reason: "retry unreadable review", Patch: domain.Patch{
			Phase:          domain.Ptr(domain.PhaseReviewing),
			IterationCount: domain.Ptr(s.IterationCount + 1),
		}}

	case domain.PhaseDone:
		return Decision{Next: Finish, Reason: "already done"}
	}

	log.Warn("unknown phase, routing to the planner")
	return Decision{Next: agent.PlannerName, Reason: "unknown phase", Patch: domain.Patch{
		Phase:     domain.Ptr(domain.PhasePlanning),
		StashPlan: true,
	}}
}

func finish(reason string) Decision {
	return Decision{Next: Finish, Reason: reason, Patch: domain.Patch{Phase: domain.Ptr(domain.PhaseDone)}}
}
