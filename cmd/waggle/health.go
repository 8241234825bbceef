package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle/internal/ethos"
)

var healthHours int

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run one health cycle and report it",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := engine.RunHealthCheck(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}
		printCycle(report)
		return nil
	},
}

func printCycle(report *ethos.CycleReport) {
	s := report.Snapshot
	fmt.Printf("coherence %.2f  velocity %.2f/h  blockage %.2f  staleness %s  claims %.2f  agents %.2f\n",
		s.Coherence, s.Velocity, s.Blockage,
		(time.Duration(s.Staleness) * time.Second).Round(time.Minute),
		s.ClaimHealth, s.AgentHealth)
	if len(report.Reclaimed) > 0 {
		fmt.Printf("reclaimed: %v\n", report.Reclaimed)
	}
	if len(report.DeadAgents) > 0 {
		fmt.Printf("dead agents: %v\n", report.DeadAgents)
	}
	for _, v := range report.Violations {
		fmt.Printf("%s %s %.2f (threshold %s %.2f)\n",
			warnStyle.Render("violation:"), v.Metric, v.Value, v.Operator, v.Threshold)
	}
	for _, p := range report.Remediated {
		fmt.Printf("%s %s  %s\n", okStyle.Render("remediation:"), idStyle.Render(p.ID), p.Name)
	}
}

var healthHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent health snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		snaps, err := engine.Ethos.GetHealthHistory(cmd.Context(), healthHours)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(snaps)
		}
		for _, s := range snaps {
			fmt.Printf("%s  coherence %.2f  velocity %.2f/h  blockage %.2f  staleness %s  claims %.2f  agents %.2f\n",
				time.Unix(s.RecordedAt, 0).Format(time.TimeOnly),
				s.Coherence, s.Velocity, s.Blockage,
				(time.Duration(s.Staleness) * time.Second).Round(time.Minute),
				s.ClaimHealth, s.AgentHealth)
		}
		return nil
	},
}

var healthTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Classify health movement over the last four hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		trend, err := engine.Ethos.GetHealthTrend(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(trend)
		}
		style := dimStyle
		switch trend.Overall {
		case "improving":
			style = okStyle
		case "degrading":
			style = errStyle
		}
		fmt.Printf("overall: %s\n", style.Render(trend.Overall))
		for name, cls := range trend.Metrics {
			fmt.Printf("  %-12s %s\n", name, cls)
		}
		return nil
	},
}

func init() {
	healthHistoryCmd.Flags().IntVar(&healthHours, "hours", 4, "window in hours")
	healthCmd.AddCommand(healthHistoryCmd, healthTrendCmd)
	rootCmd.AddCommand(healthCmd)
}
