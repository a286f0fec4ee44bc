package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/journal"
)

// Renderer formats listings. Pretty output is colored; plain output is
// one record per line for piping.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Events formats journal events, oldest first.
func (r *Renderer) Events(events []domain.ToolEvent) string {
	if len(events) == 0 {
		return "No events found\n"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Recent Tool Events\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, e := range events {
		r.formatEvent(&sb, e)
	}
	return sb.String()
}

func (r *Renderer) formatEvent(sb *strings.Builder, e domain.ToolEvent) {
	ts := e.Timestamp.Local().Format("15:04:05")
	worker := e.Worker
	if worker == "" {
		worker = "-"
	}

	if !r.pretty {
		fmt.Fprintf(sb, "[%s] %s %s %s %s %s\n", ts, worker, e.Kind, e.Tool, e.Status, e.Decision)
		return
	}

	var mark, detail string
	switch e.Kind {
	case domain.EventStarted:
		mark = color.BlueString("▶")
		detail = Truncate(argPreview(e.Args), 60)
	case domain.EventFinished:
		mark = statusColor(e.Status)
		detail = fmt.Sprintf("(%s)", FormatDuration(time.Duration(e.Duration*float64(time.Second))))
		if e.Error != "" {
			detail += " " + color.RedString(Truncate(e.Error, 60))
		}
	case domain.EventRejected:
		mark = color.YellowString(StatusIcon(domain.StatusRejected))
		detail = e.Decision
	case domain.EventConfirmationRequested:
		mark = color.MagentaString("?")
		detail = "awaiting approval"
	default:
		mark = "•"
		detail = Truncate(e.Line, 60)
	}
	fmt.Fprintf(sb, "%s %s %-8s %-16s %s\n", mark, color.HiBlackString(ts), worker, e.Tool, detail)
}

// Runs formats recorded orchestration runs, newest first.
func (r *Renderer) Runs(runs []journal.Run) string {
	if len(runs) == 0 {
		return "No runs recorded\n"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Recent Runs\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, run := range runs {
		when := run.CreatedAt.Local().Format("2006-01-02 15:04")
		if !r.pretty {
			fmt.Fprintf(&sb, "%s %s %s turns=%d iter=%d reason=%q goal=%q\n",
				run.ID, when, run.Status, run.Turns, run.Iterations, run.Reason, run.Goal)
			continue
		}
		status := color.GreenString("✓")
		switch run.Status {
		case "failed":
			status = color.RedString("✗")
		case "running":
			status = color.YellowString("…")
		}
		fmt.Fprintf(&sb, "%s %s %s\n", status, color.HiBlackString(when), Truncate(run.Goal, 60))
		fmt.Fprintf(&sb, "    %d turns, %d fix rounds, %s: %s\n",
			run.Turns, run.Iterations, FormatDuration(run.Duration), run.Reason)
		if run.Error != "" {
			fmt.Fprintf(&sb, "    %s\n", color.RedString(Truncate(run.Error, 70)))
		}
	}
	return sb.String()
}

// ToolSets formats the tools each worker may call.
func (r *Renderer) ToolSets(sets map[string][]string, order []string) string {
	var sb strings.Builder
	for _, name := range order {
		tools := append([]string(nil), sets[name]...)
		sort.Strings(tools)
		if r.pretty {
			sb.WriteString(color.CyanString(name) + "\n")
			for _, t := range tools {
				fmt.Fprintf(&sb, "  • %s\n", t)
			}
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", name, strings.Join(tools, ","))
	}
	return sb.String()
}

func statusColor(status string) string {
	icon := StatusIcon(status)
	switch status {
	case domain.StatusCompleted:
		return color.GreenString(icon)
	case domain.StatusFailed:
		return color.RedString(icon)
	case domain.StatusControlFlow:
		return color.CyanString(icon)
	default:
		return color.YellowString(icon)
	}
}

func argPreview(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, " ")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
