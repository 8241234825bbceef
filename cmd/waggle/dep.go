package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle/internal/types"
)

var depType string

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependency edges",
}

var depAddCmd = &cobra.Command{
	Use:   "add <from-id> <to-id>",
	Short: "Add an edge: from blocks (or informs, ...) to",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.Tracker.AddDependency(cmd.Context(), args[0], args[1], types.DependencyType(depType)); err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", idStyle.Render(args[0]), depType, idStyle.Render(args[1]))
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <from-id> <to-id>",
	Short: "Remove an edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return engine.Tracker.RemoveDependency(cmd.Context(), args[0], args[1], types.DependencyType(depType))
	},
}

var depShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show every edge touching an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := engine.Tracker.GetDependencies(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(deps)
		}
		for _, d := range deps {
			fmt.Printf("%s %-16s %s\n", idStyle.Render(d.FromID), d.Type, idStyle.Render(d.ToID))
		}
		return nil
	},
}

func init() {
	depCmd.PersistentFlags().StringVarP(&depType, "type", "t", "blocks", "edge type (blocks|informs|discovered_from|any_of)")
	depCmd.AddCommand(depAddCmd, depRemoveCmd, depShowCmd)
	rootCmd.AddCommand(depCmd)
}
