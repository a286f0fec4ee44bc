// Package main provides the codecrew CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/codecrew/internal/config"
	"github.com/joss/codecrew/internal/logging"
)

var version = "0.1.0"

// globals holds what the persistent flags and pre-run produce.
type globals struct {
	workspace  string
	configPath string
	pretty     bool

	cfg      *config.Config
	flushLog func() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "codecrew",
		Short: "Planner, coder and reviewer agents working on your repository",
		Long: `codecrew runs a Planner -> Coder -> Reviewer loop against a workspace.

The planner turns your request into a task list, the coder implements it
with file and shell tools, and the reviewer verifies the result and sends
issues back until the work passes or the iteration limit is reached.

Every tool call goes through a permission gate. Calls matching an allow
pattern run directly; everything else asks you first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.workspace, g.configPath)
			if err != nil {
				return err
			}
			g.cfg = cfg
			flush, err := logging.Setup(logging.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			})
			if err != nil {
				return err
			}
			g.flushLog = flush
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.flushLog != nil {
				g.flushLog()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.workspace, "workspace", "w", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default: ./codecrew.yaml, then ~/.config/codecrew/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&g.pretty, "pretty", true, "Pretty print output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
	)

	run := runCmd(g)
	run.GroupID = "session"
	rootCmd.AddCommand(run)

	patterns := patternsCmd(g)
	patterns.GroupID = "session"
	rootCmd.AddCommand(patterns)

	history := historyCmd(g)
	history.GroupID = "inspect"
	rootCmd.AddCommand(history)

	tools := toolsCmd(g)
	tools.GroupID = "inspect"
	rootCmd.AddCommand(tools)

	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show codecrew version",
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codecrew version %s\n", version)
		},
	}
}
