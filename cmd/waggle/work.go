package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle/internal/types"
)

var (
	nextCapabilities []string
	completeResult   string
	completeLearn    string
)

var nextCmd = &cobra.Command{
	Use:   "next <agent-id>",
	Short: "Register the agent and claim the next best issue for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		work, err := engine.GetNextWork(cmd.Context(), args[0], nextCapabilities)
		if err != nil {
			return err
		}
		if work == nil {
			if jsonOutput {
				return printJSON(nil)
			}
			fmt.Println(dimStyle.Render("no work available"))
			return nil
		}
		if jsonOutput {
			return printJSON(work)
		}
		note := okStyle.Render("claimed")
		if !work.Claimed {
			note = warnStyle.Render("lost claim race")
		}
		printIssueLine(work.Issue, note)
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <issue-id> <agent-id>",
	Short: "Record an outcome and release the claim",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		unblocked, err := engine.CompleteWork(cmd.Context(), args[0], args[1],
			types.Result(completeResult), completeLearn)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"blocks_targets": unblocked})
		}
		fmt.Printf("%s %s\n", idStyle.Render(args[0]), okStyle.Render(completeResult))
		if len(unblocked) > 0 {
			fmt.Printf("  blocks -> %s\n", strings.Join(unblocked, ", "))
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <issue-id> <agent-id>",
	Short: "Release a claim without recording an outcome",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return engine.Claims.Release(cmd.Context(), args[0], args[1])
	},
}

func init() {
	nextCmd.Flags().StringSliceVarP(&nextCapabilities, "capability", "c", nil, "capability labels (repeatable)")
	completeCmd.Flags().StringVar(&completeResult, "result", "success", "outcome (success|failure|partial|cancelled)")
	completeCmd.Flags().StringVar(&completeLearn, "learnings", "", "free-form notes for future agents")
	rootCmd.AddCommand(nextCmd, completeCmd, releaseCmd)
}
