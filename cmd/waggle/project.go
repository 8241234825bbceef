package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var (
	projectDescription string
	projectCriteria    string
	projectStatus      string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := engine.Tracker.CreateProject(cmd.Context(), tracker.CreateProjectRequest{
			Name:            args[0],
			Description:     projectDescription,
			SuccessCriteria: projectCriteria,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(p)
		}
		fmt.Printf("%s  %s\n", idStyle.Render(p.ID), p.Name)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := engine.Tracker.ListProjects(cmd.Context(), types.ProjectStatus(projectStatus))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(projects)
		}
		for _, p := range projects {
			line := fmt.Sprintf("%s  %-10s %s", idStyle.Render(p.ID), p.Status, p.Name)
			if auto, ok := p.Metadata["autoGenerated"].(bool); ok && auto {
				line += "  " + warnStyle.Render("(remediation)")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVarP(&projectDescription, "description", "d", "", "project description")
	projectCreateCmd.Flags().StringVar(&projectCriteria, "criteria", "", "success criteria")
	projectListCmd.Flags().StringVar(&projectStatus, "status", "", "filter by status (active|completed|archived|paused)")
	projectCmd.AddCommand(projectCreateCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}
