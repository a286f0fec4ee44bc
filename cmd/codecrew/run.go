package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/orchestrator"
	"github.com/joss/codecrew/internal/render"
)

func runCmd(g *globals) *cobra.Command {
	var (
		yes     bool
		noInput bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Start a session in the workspace",
		Long: `Start an interactive session. The goal is the first user message; when
it is omitted the first line read from stdin is used. Every further line is
a follow-up message handled against the same conversation.

Tool calls that no allow pattern covers are confirmed on the terminal:
  y            approve once
  n [reason]   reject, the reason is shown to the agent
  a [pattern]  approve and always allow the pattern (default: the tool)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes && noInput {
				return errors.New("--yes and --no-input are mutually exclusive")
			}
			mode := render.ApprovalAsk
			switch {
			case yes:
				mode = render.ApprovalAuto
			case noInput:
				mode = render.ApprovalDeny
			}

			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			a, err := newApp(g.cfg, appOptions{mode: mode, verbose: verbose, in: in, out: out})
			if err != nil {
				return err
			}
			stop := a.shutdown.ListenForSignals()
			defer stop()
			defer a.Close()

			goal := ""
			if len(args) > 0 {
				goal = args[0]
			}
			return converse(a.shutdown.Context(), a.session, goal, in, out, interactive())
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve every tool call")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "Reject tool calls that need confirmation instead of prompting")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Stream shell output lines")
	return cmd
}

// sender is the part of *orchestrator.Session the loop needs.
type sender interface {
	Send(ctx context.Context, text string) (orchestrator.Result, error)
}

// converse sends goal, then every non-empty line from in, until EOF or
// ctx ends. A failed run is reported and the conversation continues.
func converse(ctx context.Context, s sender, goal string, in *bufio.Reader, out io.Writer, showPrompt bool) error {
	log := logging.New("cli")
	next := strings.TrimSpace(goal)
	for {
		if next == "" {
			if showPrompt {
				fmt.Fprint(out, color.CyanString("› "))
			}
			line, err := in.ReadString('\n')
			next = strings.TrimSpace(line)
			if err != nil && next == "" {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read input: %w", err)
			}
			if next == "" {
				continue
			}
		}

		res, err := s.Send(ctx, next)
		next = ""
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Error("run failed", zap.Error(err))
			fmt.Fprintf(out, "%s %v\n", color.RedString("run failed:"), err)
			continue
		}
		fmt.Fprintf(out, "%s %s after %d turns\n", color.GreenString("done:"), res.Reason, res.Turns)
	}
}

func interactive() bool {
	return render.IsTerminal(os.Stdin) && render.IsTerminal(os.Stdout)
}
