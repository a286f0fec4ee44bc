package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/testutil"
	"github.com/joss/codecrew/internal/tokens"
)

func bulky(n int) []domain.Message {
	msgs := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, domain.AssistantMessage(CoderName, strings.Repeat("x", 400)))
	}
	return msgs
}

func TestTrim_UnderBudgetIsUnchanged(t *testing.T) {
	msgs := []domain.Message{domain.UserMessage("hi"), domain.SystemMessage("rules"), domain.AssistantMessage(CoderName, "ok")}
	out, dropped := Trim(msgs, 100000, 1, tokens.Chars{}, nil)
	assert.Equal(t, msgs, out)
	assert.Zero(t, dropped)
}

func TestTrim_OverBudgetKeepsSystemAndTail(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := logging.FromZap(zap.New(core), "agent")

	msgs := append([]domain.Message{domain.SystemMessage("standing rules")}, bulky(20)...)
	msgs = append(msgs, domain.SystemMessage("late rule"))
	last := domain.AssistantMessage(CoderName, "newest")
	msgs = append(msgs, last)

	// Twenty 400-char messages cost about 2000 tokens.
	out, dropped := Trim(msgs, 1000, 5, tokens.Chars{}, log)
	require.Len(t, out, 7)
	assert.Equal(t, 16, dropped)
	assert.Equal(t, "standing rules", out[0].Content)
	assert.Equal(t, "late rule", out[1].Content)
	assert.Equal(t, last.ID, out[6].ID)

	entries := logs.FilterMessage("Dropped old messages").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 16, entries[0].ContextMap()["dropped"])
}

func TestTrim_DropsOrphanedToolResults(t *testing.T) {
	call := domain.AssistantMessage(CoderName, strings.Repeat("y", 4000))
	call.ToolCalls = []domain.ToolCall{{ID: "c1", Name: "read_file"}}
	msgs := []domain.Message{
		domain.UserMessage("go"),
		call,
		domain.ToolMessage("c1", "read_file", "content"),
		domain.AssistantMessage(CoderName, "done"),
	}
	out, dropped := Trim(msgs, 10, 2, tokens.Chars{}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "done", out[0].Content)
	assert.Equal(t, 3, dropped)
}

func TestContext_BriefingPrecedesHistory(t *testing.T) {
	rt := New(testutil.NewMockInvoker(), nil, nil)
	s := domain.NewState(3)
	s.Messages = []domain.Message{domain.UserMessage("build a todo app")}
	s.Plan = samplePlan()
	s.IssuesFound = []string{"main.go:3 - undefined: foo", "no tests"}

	msgs := rt.Context(Coder, s)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, coderPrompt, msgs[0].Content)

	brief := msgs[1].Content
	assert.Equal(t, domain.RoleSystem, msgs[1].Role)
	assert.True(t, strings.HasPrefix(brief, "## Plan to Implement\n\nSummary: todo app\n"))
	assert.Contains(t, brief, "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, brief, "1. main.go:3 - undefined: foo\n2. no tests\n")
	assert.Contains(t, brief, "- Task 1: scaffold\n- Task 2: add handlers\n")
	assert.Contains(t, brief, "Do NOT create a new plan.")
	assert.Equal(t, "build a todo app", msgs[2].Content)
}

func TestContext_CoderWithoutIssues(t *testing.T) {
	rt := New(testutil.NewMockInvoker(), nil, nil)
	s := stateWith(domain.UserMessage("go"))
	s.Plan = samplePlan()
	brief := rt.Context(Coder, s)[1].Content
	assert.NotContains(t, brief, "PREVIOUS ATTEMPT FAILED")
}

func TestContext_ReviewerBriefing(t *testing.T) {
	rt := New(testutil.NewMockInvoker(), nil, nil)
	s := stateWith(domain.UserMessage("go"))
	s.Plan = samplePlan()

	brief := rt.Context(Reviewer, s)[1].Content
	assert.True(t, strings.HasPrefix(brief, "## Review Context\nThe Coder just implemented the following plan:\nSummary: todo app\n\nTasks completed:\n- Task 1: scaffold\n"))
	assert.Contains(t, brief, "Use shell to test if the application runs")
}

func TestContext_PlannerFollowUp(t *testing.T) {
	rt := New(testutil.NewMockInvoker(), nil, nil)

	first := stateWith(domain.UserMessage("build a todo app"))
	assert.Len(t, rt.Context(Planner, first), 2, "no briefing on the first message")

	follow := stateWith(
		domain.UserMessage("build a todo app"),
		domain.AssistantMessage(ReviewerName, "REVIEW: PASSED"),
		domain.UserMessage("the delete button does nothing"),
	)
	follow.PreviousPlan = samplePlan()

	msgs := rt.Context(Planner, follow)
	require.Len(t, msgs, 5)
	brief := msgs[1].Content
	assert.Contains(t, brief, "This is message #2 from the user in this conversation.")
	assert.Contains(t, brief, "Previous plan summary: todo app")
	assert.Contains(t, brief, "DO NOT rebuild from scratch!")
}

func TestContext_NoPlanNoBriefing(t *testing.T) {
	rt := New(testutil.NewMockInvoker(), nil, nil)
	s := stateWith(domain.UserMessage("go"))
	assert.Len(t, rt.Context(Coder, s), 2)
	assert.Len(t, rt.Context(Reviewer, s), 2)
}

func TestRoles(t *testing.T) {
	r, ok := ByName("Reviewer")
	require.True(t, ok)
	assert.Equal(t, Reviewer, r)
	_, ok = ByName("Janitor")
	assert.False(t, ok)

	names := make([]string, 0, 3)
	for _, role := range Roles() {
		names = append(names, role.Name())
	}
	assert.Equal(t, []string{PlannerName, CoderName, ReviewerName}, names)
}
