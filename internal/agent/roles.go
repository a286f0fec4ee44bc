package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/tool"
)

// Worker names. They double as message authors and log fields.
const (
	PlannerName  = "Planner"
	CoderName    = "Coder"
	ReviewerName = "Reviewer"
)

// Role is one of the three fixed workers. The set is closed.
type Role interface {
	Name() string
	// Tools returns the part of all this role may call.
	Tools(all *tool.Registry) *tool.Registry

	systemPrompt() string
	briefing(s domain.State) string
	keepLast(l Limits) int
	finish(t *turn, log *logging.Logger) domain.Patch
}

var (
	Planner  Role = planner{}
	Coder    Role = coder{}
	Reviewer Role = reviewer{}
)

// Roles lists every worker in pipeline order.
func Roles() []Role { return []Role{Planner, Coder, Reviewer} }

// ByName finds a role by its worker name.
func ByName(name string) (Role, bool) {
	for _, r := range Roles() {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

var (
	plannerTools  = []string{"read_file", "list_files", "path_exists", "grep_search", "submit_plan", "web_search"}
	reviewerTools = []string{"read_file", "list_files", "path_exists", "grep_search", "shell", "web_search", "process_manager"}

	// verificationTools are the calls that count as a real review.
	verificationTools = map[string]bool{"shell": true, "read_file": true, "list_files": true}
)

const (
	reviewerWarning = "Reviewer Warning: You must execute verification tools (shell/read_file) " +
		"to validate the implementation. Visual inspection is not sufficient. " +
		"Please run build commands and check actual files."
	skippedVerification = "Reviewer skipped verification tools. Must run shell commands or read files to validate."
)

type planner struct{}

func (planner) Name() string { return PlannerName }

func (planner) Tools(all *tool.Registry) *tool.Registry { return all.Subset(plannerTools) }

func (planner) systemPrompt() string { return plannerPrompt }

func (planner) keepLast(l Limits) int { return l.KeepLastPlanner }

func (planner) briefing(s domain.State) string {
	n := s.UserMessageCount()
	if n <= 1 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Context\n")
	fmt.Fprintf(&b, "This is message #%d from the user in this conversation.\n", n)
	b.WriteString("The user has previously requested work and is now providing FEEDBACK.")
	if p := s.LatestPlan(); p != nil {
		fmt.Fprintf(&b, "\n\nPrevious plan summary: %s", p.Summary)
	}
	b.WriteString(`

MANDATORY WORKFLOW:
1. FIRST: Use list_files(".") to see what exists in the workspace
2. THEN: Use read_file() to check current state
3. FINALLY: Plan INCREMENTAL fixes (not full rebuild!)

The user is likely reporting bugs in existing code, missing features or
requests for changes.

DO NOT rebuild from scratch! Check what exists and plan targeted fixes.
`)
	return b.String()
}

func (planner) finish(t *turn, log *logging.Logger) domain.Patch {
	p := domain.Patch{Messages: t.messages}
	if t.plan != nil {
		p.Plan = t.plan
		p.Messages = append(p.Messages, domain.AssistantMessage(PlannerName, fmt.Sprintf(
			"Plan submitted successfully with %d tasks. The Coder agent will now implement this plan.",
			len(t.plan.Tasks))))
		return p
	}

	// The call may have run without the runtime seeing the signal, for
	// instance when the step cap cut the loop short. Rejected calls stay
	// rejected.
	for _, c := range t.calls {
		if c.Name != "submit_plan" || c.rejected {
			continue
		}
		payload, ok := c.Args["plan"]
		if !ok {
			payload = c.Args
		}
		plan, err := domain.ParsePlan(payload)
		if err != nil {
			log.Error("plan extraction failed", zap.String("call_id", c.ID), zap.Error(err))
			continue
		}
		p.Plan = plan
		log.Info("plan extracted from tool call", zap.Int("tasks", len(plan.Tasks)))
	}
	return p
}

type coder struct{}

func (coder) Name() string { return CoderName }

func (coder) Tools(all *tool.Registry) *tool.Registry { return all.Without("submit_plan") }

func (coder) systemPrompt() string { return coderPrompt }

func (coder) keepLast(l Limits) int { return l.KeepLast }

func (coder) briefing(s domain.State) string {
	if s.Plan == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Plan to Implement\n\nSummary: %s\n", s.Plan.Summary)
	if len(s.IssuesFound) > 0 {
		b.WriteString("\nPREVIOUS ATTEMPT FAILED\nThe Reviewer found these issues with the last implementation:\n")
		for i, issue := range s.IssuesFound {
			fmt.Fprintf(&b, "%d. %s\n", i+1, issue)
		}
		b.WriteString("\nYOU MUST FIX THESE ISSUES. Do not repeat the same mistakes.\n")
	}
	b.WriteString("\nTasks:\n")
	b.WriteString(s.Plan.TaskList())
	b.WriteString(`
CRITICAL WORKFLOW (MANDATORY):
1. RESEARCH FIRST for setups and configs: check the manifest for core
   versions and search "setup <lib> for <framework> <version>". Never guess
   commands.
2. CHECK WORKSPACE: list_files() to see what exists, read_file() to check
   content. If a task is already done correctly, SKIP it.
3. IMPLEMENT: only write or modify files that are missing or incorrect. Use
   str_replace for existing files.
4. STOP immediately after completing the new work.

Implement these tasks using the available tools. Do NOT create a new plan.
`)
	return b.String()
}

func (coder) finish(t *turn, _ *logging.Logger) domain.Patch {
	return domain.Patch{Messages: t.messages}
}

type reviewer struct{}

func (reviewer) Name() string { return ReviewerName }

func (reviewer) Tools(all *tool.Registry) *tool.Registry { return all.Subset(reviewerTools) }

func (reviewer) systemPrompt() string { return reviewerPrompt }

func (reviewer) keepLast(l Limits) int { return l.KeepLast }

func (reviewer) briefing(s domain.State) string {
	if s.Plan == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Review Context\nThe Coder just implemented the following plan:\nSummary: %s\n\nTasks completed:\n", s.Plan.Summary)
	b.WriteString(s.Plan.TaskList())
	b.WriteString(`
Your job is to VERIFY the implementation:
1. Use list_files(".") to check what files exist in the workspace
2. Use read_file to examine the code
3. Use shell to test if the application runs
4. Report any issues found
`)
	return b.String()
}

func (reviewer) finish(t *turn, log *logging.Logger) domain.Patch {
	verified := false
	for _, c := range t.calls {
		if verificationTools[c.Name] {
			verified = true
			break
		}
	}
	if !verified {
		log.Warn("reviewer did not execute any verification tools", zap.Strings("tool_calls", t.callNames()))
		return domain.Patch{
			Messages:     append(t.messages, domain.AssistantMessage(ReviewerName, reviewerWarning)),
			ReviewStatus: domain.Ptr(domain.ReviewPending),
			IssuesFound:  &[]string{skippedVerification},
		}
	}

	p := domain.Patch{Messages: t.messages, ReviewStatus: domain.Ptr(domain.ReviewPending)}
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if m.Role != domain.RoleAssistant {
			continue
		}
		verdict, ok := ParseReview(m.Content)
		if !ok {
			continue
		}
		log.Info("review parsed", zap.String("status", string(verdict.Status)),
			zap.Int("issues", len(verdict.Issues)), zap.Int("files_checked", len(verdict.FilesChecked)))
		p.ReviewStatus = domain.Ptr(verdict.Status)
		issues := append([]string{}, verdict.Issues...)
		p.IssuesFound = &issues
		return p
	}
	log.Warn("review verdict could not be parsed")
	return p
}
