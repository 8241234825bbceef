package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

var (
	createProject  string
	createParent   string
	createPriority int
	createLabels   []string

	listStatus  string
	listProject string
	listLabels  []string
	listLimit   int
)

var createCmd = &cobra.Command{
	Use:   "create <description>",
	Short: "Create an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := tracker.CreateIssueRequest{
			Description: args[0],
			Priority:    &createPriority,
			Labels:      createLabels,
		}
		if createProject != "" {
			req.ProjectID = &createProject
		}
		if createParent != "" {
			req.ParentID = &createParent
		}
		issue, err := engine.Tracker.CreateIssue(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(issue)
		}
		printIssueLine(issue, "")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		issues, err := engine.Tracker.ListIssues(cmd.Context(), tracker.ListFilter{
			Status:    types.Status(listStatus),
			ProjectID: listProject,
			Labels:    listLabels,
			Limit:     listLimit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(issues)
		}
		for _, issue := range issues {
			printIssueLine(issue, "")
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show one issue with its dependencies and outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		issue, err := engine.Tracker.GetIssue(ctx, args[0])
		if err != nil {
			return err
		}
		deps, err := engine.Tracker.GetDependencies(ctx, issue.ID)
		if err != nil {
			return err
		}
		outcomes, err := engine.Tracker.GetOutcomes(ctx, issue.ID)
		if err != nil {
			return err
		}
		claim, err := engine.Claims.GetClaim(ctx, issue.ID)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]any{
				"issue":        issue,
				"dependencies": deps,
				"outcomes":     outcomes,
				"claim":        claim,
			})
		}

		printIssueLine(issue, "")
		fmt.Printf("  created %s\n", time.Unix(issue.CreatedAt, 0).Format(time.RFC3339))
		if issue.ProjectID != nil {
			fmt.Printf("  project %s\n", *issue.ProjectID)
		}
		if claim != nil {
			fmt.Printf("  claimed by %s\n", claim.AgentID)
		}
		for _, d := range deps {
			arrow := fmt.Sprintf("%s -> %s", d.FromID, d.ToID)
			fmt.Printf("  dep %-16s %s\n", d.Type, arrow)
		}
		for _, o := range outcomes {
			line := fmt.Sprintf("  outcome %s by %s", o.Result, o.AgentID)
			if o.Learnings != "" {
				line += ": " + o.Learnings
			}
			fmt.Println(line)
		}
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Show prioritized ready work",
	RunE: func(cmd *cobra.Command, args []string) error {
		scored, err := engine.Priority.GetPrioritized(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(scored)
		}
		for _, s := range scored {
			printIssueLine(s.Issue, fmt.Sprintf("%.2f %s", s.Score, s.Reason))
		}
		return nil
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "Show blocked issues and their blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		blocked, err := engine.Tracker.GetBlockedIssues(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(blocked)
		}
		for _, b := range blocked {
			ids := make([]string, len(b.BlockedBy))
			for i, blocker := range b.BlockedBy {
				ids[i] = blocker.ID
			}
			printIssueLine(b.Issue, "blocked by "+strings.Join(ids, ", "))
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createProject, "project", "p", "", "attach to project")
	createCmd.Flags().StringVar(&createParent, "parent", "", "parent issue id")
	createCmd.Flags().IntVar(&createPriority, "priority", 2, "priority 0 (highest) to 4")
	createCmd.Flags().StringSliceVarP(&createLabels, "label", "l", nil, "labels (repeatable)")

	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listProject, "project", "", "filter by project")
	listCmd.Flags().StringSliceVar(&listLabels, "label", nil, "require labels")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "max rows")
	readyCmd.Flags().IntVar(&listLimit, "limit", 10, "max rows")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, readyCmd, blockedCmd)
}
