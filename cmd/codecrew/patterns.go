package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joss/codecrew/internal/permission"
	"github.com/joss/codecrew/internal/render"
)

func patternsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage permission patterns for this workspace",
		Long: `Permission patterns decide which tool calls run without asking.

A pattern is a glob over the tool name, optionally followed by a glob that
may match anywhere in the call's JSON arguments:
  read_file              every read_file call
  shell(go test*)        shell calls whose arguments contain "go test..."
  *(*)                   everything

Deny patterns reject without asking; ask patterns always prompt, even when
an allow pattern also matches.`,
	}

	open := func() (*permission.Store, error) {
		return permission.Open(permission.FileFor(g.cfg.DataDir, g.cfg.Workspace))
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the allow, deny and ask patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			set := store.Snapshot()
			w := render.NewWriter(cmd.OutOrStdout())
			if len(set.Allow)+len(set.Deny)+len(set.Ask) == 0 {
				w.Empty("No patterns configured")
				return nil
			}
			for _, sec := range []struct {
				title string
				items []string
			}{{"allow", set.Allow}, {"deny", set.Deny}, {"ask", set.Ask}} {
				if len(sec.items) == 0 {
					continue
				}
				w.Section(sec.title)
				for _, p := range sec.items {
					w.Item("%s", p)
				}
			}
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <allow|deny|ask> <pattern>",
		Short: "Add a pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := permission.Kind(strings.ToLower(args[0]))
			switch kind {
			case permission.KindAllow, permission.KindDeny, permission.KindAsk:
			default:
				return fmt.Errorf("unknown pattern kind %q: want allow, deny or ask", args[0])
			}
			store, err := open()
			if err != nil {
				return err
			}
			added, err := store.Add(kind, args[1])
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(cmd.OutOrStdout(), "added %s pattern %s\n", kind, args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s pattern %s already present\n", kind, args[1])
			}
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the pattern file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), permission.FileFor(g.cfg.DataDir, g.cfg.Workspace))
		},
	}

	cmd.AddCommand(list, add, path)
	return cmd
}
