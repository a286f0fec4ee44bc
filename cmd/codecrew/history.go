package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/codecrew/internal/journal"
	"github.com/joss/codecrew/internal/render"
)

func historyCmd(g *globals) *cobra.Command {
	var (
		limit int
		runs  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool events or runs in this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jr, err := journal.Open(g.cfg.DataDir, g.cfg.Workspace)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer jr.Close()

			ctx := context.Background()
			r := render.New(g.pretty)
			if runs {
				list, err := jr.Runs(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), r.Runs(list))
				return nil
			}
			events, err := jr.Recent(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), r.Events(events))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&runs, "runs", false, "List orchestration runs instead of tool events")
	return cmd
}
