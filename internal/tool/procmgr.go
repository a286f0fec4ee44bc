package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joss/codecrew/internal/process"
	"github.com/joss/codecrew/internal/workspace"
)

// ProcessManager exposes list/kill/logs over background commands.
type ProcessManager struct {
	sb    *workspace.Sandbox
	procs *process.Manager
}

func NewProcessManager(sb *workspace.Sandbox, procs *process.Manager) *ProcessManager {
	return &ProcessManager{sb: sb, procs: procs}
}

func (t *ProcessManager) Info() Info {
	return Info{
		Name:        "process_manager",
		Description: "Manage background processes started by shell: list them, kill one, or tail its log.",
		Parameters: object(map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"list", "kill", "logs"},
				"description": "Operation to perform",
			},
			"pid":   prop("integer", "Process ID (required for kill and logs)"),
			"lines": prop("integer", "Number of log lines for logs (default 20)"),
		}, "action"),
	}
}

func (t *ProcessManager) Execute(ctx context.Context, args map[string]any) (Output, error) {
	action, err := requireString(args, "action")
	if err != nil {
		return Output{}, err
	}
	switch action {
	case "list":
		return Text(t.list(ctx)), nil
	case "kill", "logs":
		pid, err := intArg(args, "pid", 0)
		if err != nil {
			return Output{}, err
		}
		if pid <= 0 {
			return Output{}, invalidArgs("PID is required for '%s' action", action)
		}
		if action == "kill" {
			return t.kill(ctx, pid), nil
		}
		lines, err := intArg(args, "lines", 20)
		if err != nil {
			return Output{}, err
		}
		return t.logs(pid, lines), nil
	default:
		return Output{}, invalidArgs("unknown action: %s", action)
	}
}

func (t *ProcessManager) list(ctx context.Context) string {
	active := t.procs.ListActive(ctx)
	if len(active) == 0 {
		return "No active background processes found."
	}
	var b strings.Builder
	b.WriteString("Active Background Processes:\n")
	b.WriteString("PID   | Status  | Started (s) | Command\n")
	b.WriteString(strings.Repeat("-", 60))
	now := time.Now()
	for _, p := range active {
		cmd := p.Command
		if len(cmd) > 30 {
			cmd = cmd[:30] + "..."
		}
		fmt.Fprintf(&b, "\n%-5d | %-7s | %-11d | %s", p.PID, p.Status, int(now.Sub(p.StartTime).Seconds()), cmd)
	}
	return b.String()
}

func (t *ProcessManager) kill(ctx context.Context, pid int) Output {
	if err := t.procs.Kill(ctx, pid); err != nil {
		return Text(fmt.Sprintf("Failed to terminate process %d. It may have already exited or does not exist.", pid))
	}
	return Text(fmt.Sprintf("Successfully terminated process %d.", pid))
}

func (t *ProcessManager) logs(pid, n int) Output {
	lines, path, err := t.procs.TailLog(pid, n)
	switch {
	case errors.Is(err, process.ErrNotFound):
		return Text(fmt.Sprintf("No registered process found with PID: %d", pid))
	case err != nil:
		return Text(fmt.Sprintf("Error reading log file for PID %d: %v", pid, err))
	}
	return Text(fmt.Sprintf("Last %d lines of log for PID %d (%s):\n\n%s", len(lines), pid, t.sb.Rel(path), strings.Join(lines, "\n")))
}
