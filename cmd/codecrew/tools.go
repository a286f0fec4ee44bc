package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/codecrew/internal/agent"
	"github.com/joss/codecrew/internal/process"
	"github.com/joss/codecrew/internal/render"
	"github.com/joss/codecrew/internal/tool"
	"github.com/joss/codecrew/internal/workspace"
)

func toolsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools each worker may call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sb, err := workspace.New(g.cfg.Workspace)
			if err != nil {
				return err
			}
			all := tool.Builtins(tool.Env{Sandbox: sb, Processes: process.NewManager()})

			sets := make(map[string][]string)
			var order []string
			for _, role := range agent.Roles() {
				sets[role.Name()] = role.Tools(all).Names()
				order = append(order, role.Name())
			}
			fmt.Fprint(cmd.OutOrStdout(), render.New(g.pretty).ToolSets(sets, order))
			return nil
		},
	}
}
