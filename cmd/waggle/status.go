package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aggregate graph statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stats, err := engine.Tracker.GetStatistics(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Println(headerStyle.Render("issues"))
		fmt.Printf("  total %d  open %d  in progress %d  blocked %d  done %d  cancelled %d\n",
			stats.TotalIssues, stats.OpenIssues, stats.InProgressIssues,
			stats.BlockedIssues, stats.DoneIssues, stats.CancelledIssues)
		fmt.Println(headerStyle.Render("swarm"))
		fmt.Printf("  projects %d  agents %d active / %d  claims %d\n",
			stats.ActiveProjects, stats.ActiveAgents, stats.RegisteredAgents, stats.LiveClaims)

		path, err := engine.Priority.GetCriticalPath(ctx)
		if err != nil {
			return err
		}
		if len(path) > 1 {
			fmt.Println(headerStyle.Render("critical path"))
			for _, issue := range path {
				printIssueLine(issue, "")
			}
		}
		bottlenecks, err := engine.Priority.GetBottlenecks(ctx, 3)
		if err != nil {
			return err
		}
		if len(bottlenecks) > 0 {
			fmt.Println(headerStyle.Render("bottlenecks"))
			for _, b := range bottlenecks {
				printIssueLine(b.Issue, fmt.Sprintf("blocks %d", b.BlockedCount))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
