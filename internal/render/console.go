package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/orchestrator"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5F87FF")).
			Padding(0, 1)

	passStyle = panelStyle.BorderForeground(lipgloss.Color("#00AF5F"))
	failStyle = panelStyle.BorderForeground(lipgloss.Color("#D75F00"))

	titleStyle = lipgloss.NewStyle().Bold(true)
)

// Console is the live terminal feed. It is an event bus sink and an
// orchestrator observer; both may call it from different goroutines.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	width   int
	prev    domain.Phase
}

// NewConsole writes to out. Verbose adds streamed shell output lines.
func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{out: out, verbose: verbose, width: 80}
}

// Handle implements event.Sink.
func (c *Console) Handle(ev domain.ToolEvent) {
	var line string
	switch ev.Kind {
	case domain.EventStarted:
		line = fmt.Sprintf("  %s %s %s %s", color.BlueString("▶"), color.HiBlackString(ev.Worker), ev.Tool,
			color.HiBlackString(Truncate(argPreview(ev.Args), 70)))
	case domain.EventFinished:
		d := FormatDuration(time.Duration(ev.Duration * float64(time.Second)))
		line = fmt.Sprintf("  %s %s %s", statusColor(ev.Status), ev.Tool, color.HiBlackString(d))
		if ev.Error != "" {
			line += " " + color.RedString(Truncate(ev.Error, 70))
		}
	case domain.EventRejected:
		line = fmt.Sprintf("  %s %s %s", color.YellowString(StatusIcon(domain.StatusRejected)), ev.Tool,
			color.HiBlackString(ev.Decision))
	case domain.EventOutputLine:
		if !c.verbose {
			return
		}
		line = color.HiBlackString("    │ %s", ev.Line)
	default:
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// Observe is passed to orchestrator.WithObserver.
func (c *Console) Observe(d orchestrator.Decision, s domain.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.prev
	c.prev = s.Phase

	switch {
	case prev == domain.PhasePlanning && s.Phase == domain.PhaseCoding && s.Plan != nil:
		fmt.Fprintln(c.out, PlanPanel(s.Plan, c.width))
	case prev == domain.PhaseReviewing:
		fmt.Fprintln(c.out, VerdictPanel(s.ReviewStatus, s.IssuesFound, c.width))
	}

	if d.Finished() {
		fmt.Fprintf(c.out, "%s %s\n", color.CyanString("■ finished:"), d.Reason)
		c.prev = ""
		return
	}
	fmt.Fprintf(c.out, "%s %s %s\n", color.CyanString("→"), titleStyle.Render(d.Next),
		color.HiBlackString("(%s, iteration %d/%d)", d.Reason, s.IterationCount, s.MaxIterations))
}

// PlanPanel renders a submitted plan.
func PlanPanel(p *domain.Plan, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Plan: "+p.Summary) + "\n")
	for _, t := range p.Tasks {
		fmt.Fprintf(&b, "\n%d. %s", t.ID, t.Description)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(&b, " (after %s)", joinInts(t.DependsOn))
		}
	}
	return panelStyle.Width(width).Render(b.String())
}

// VerdictPanel renders the reviewer's verdict with its issues.
func VerdictPanel(status domain.ReviewStatus, issues []string, width int) string {
	style := failStyle
	title := "Review: " + string(status)
	switch status {
	case domain.ReviewPassed:
		style = passStyle
	case domain.ReviewPending:
		title = "Review: no readable verdict"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for i, issue := range issues {
		fmt.Fprintf(&b, "\n%d. %s", i+1, issue)
	}
	return style.Width(width).Render(b.String())
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
