package render

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/permission"
)

// ApprovalMode selects how confirmation requests are answered.
type ApprovalMode int

const (
	// ApprovalAsk prompts on the terminal.
	ApprovalAsk ApprovalMode = iota
	// ApprovalAuto approves every request.
	ApprovalAuto
	// ApprovalDeny rejects every request.
	ApprovalDeny
)

// Resumer is implemented by *permission.Gate.
type Resumer interface {
	Resume(id string, d permission.Decision) error
}

var _ Resumer = (*permission.Gate)(nil)

// Prompter answers pending approvals. Its Notify method is handed to
// permission.WithNotify; each answer is delivered through Resume on a
// separate goroutine so the gate can still observe cancellation.
type Prompter struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	mode   ApprovalMode
	resume Resumer
	log    *logging.Logger
}

// NewPrompter reads answers from in. The reader is shared with the
// session loop, which only reads between runs.
func NewPrompter(in *bufio.Reader, out io.Writer, mode ApprovalMode) *Prompter {
	return &Prompter{in: in, out: out, mode: mode, log: logging.New("render")}
}

// Bind sets the gate decisions are delivered to. The gate is built after
// the prompter because it takes Notify as an option.
func (p *Prompter) Bind(r Resumer) { p.resume = r }

// Notify implements the permission.WithNotify callback.
func (p *Prompter) Notify(pa permission.PendingApproval) {
	go func() {
		d := p.Decide(pa)
		if p.resume == nil {
			return
		}
		if err := p.resume.Resume(pa.ID, d); err != nil && !errors.Is(err, permission.ErrUnknownApproval) {
			p.log.Error("deliver approval", zap.String("approval", pa.ID), zap.Error(err))
		}
	}()
}

// Decide produces the decision for one request according to the mode.
func (p *Prompter) Decide(pa permission.PendingApproval) permission.Decision {
	switch p.mode {
	case ApprovalAuto:
		return permission.Decision{Action: permission.ActionApprove}
	case ApprovalDeny:
		return permission.Decision{Action: permission.ActionReject, Reason: "running without input"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	call := pa.Interrupt.Tool + "(" + Truncate(permission.ArgString(pa.Interrupt.Args), 200) + ")"
	fmt.Fprintf(p.out, "\n%s %s wants to run %s\n", color.MagentaString("?"), pa.Worker, color.YellowString(call))
	fmt.Fprintf(p.out, "  [y] approve  [n <reason>] reject  [a <pattern>] always allow (default %s)\n> ",
		pa.Interrupt.Tool)

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return permission.Decision{Action: permission.ActionReject, Reason: "no answer"}
	}
	return ParseAnswer(line, pa.Interrupt.Tool)
}

// ParseAnswer maps a typed answer to a decision. Anything unrecognized is
// a rejection.
func ParseAnswer(line, toolName string) permission.Decision {
	line = strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(cmd) {
	case "y", "yes":
		return permission.Decision{Action: permission.ActionApprove}
	case "a", "always":
		if rest == "" {
			rest = toolName
		}
		return permission.Decision{Action: permission.ActionAllowPattern, Pattern: rest}
	case "n", "no":
		return permission.Decision{Action: permission.ActionReject, Reason: rest}
	}
	return permission.Decision{Action: permission.ActionReject, Reason: line}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
