package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/observability"
)

func newMacroCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "macro",
		Short: "Inspect and delete stored macros",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored macros",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				names, err := openStore().List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintln(out, "No macros stored in", cfg.Macro.Directory)
					return nil
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show [name]",
			Short: "Print the steps of a macro (the default macro when no name is given)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := openStore()
				name := store.DefaultName()
				if len(args) == 1 {
					name = args[0]
				}
				if !store.Exists(name) {
					return fmt.Errorf("macro %q not found", name)
				}
				events, err := store.Load(name)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for i, ev := range events {
					fmt.Fprintf(w, "%d\t%s\n", i+1, ev.Describe())
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a macro",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := openStore().Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted", args[0])
				return nil
			},
		},
	)
	return cmd
}

func openStore() *macro.Store {
	return macro.NewStore(cfg.Macro.Directory, cfg.Macro.DefaultName, observability.GetLogger())
}
