package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/waggle-sh/waggle/internal/types"
)

var (
	simAgents   int
	simDuration time.Duration
)

// simulate drives a small synthetic swarm against the database: each worker
// registers, pulls work, "thinks" briefly, and completes it. Useful for
// exercising claim contention and watching health metrics move.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a synthetic agent swarm against the work graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), simDuration)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		for i := 0; i < simAgents; i++ {
			agentID := fmt.Sprintf("sim-agent-%d", i)
			g.Go(func() error {
				for {
					work, err := engine.GetNextWork(ctx, agentID, nil)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					if work == nil || !work.Claimed {
						select {
						case <-ctx.Done():
							return nil
						case <-time.After(200 * time.Millisecond):
						}
						continue
					}

					// Simulated effort.
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Duration(50+rand.Intn(200)) * time.Millisecond):
					}

					result := types.ResultSuccess
					if rand.Intn(10) == 0 {
						result = types.ResultFailure
					}
					if _, err := engine.CompleteWork(ctx, work.Issue.ID, agentID, result, "simulated"); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					fmt.Printf("%s %s %s\n", dimStyle.Render(agentID), idStyle.Render(work.Issue.ID), result)
				}
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		stats, err := engine.Tracker.GetStatistics(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("done: %d done / %d total\n", stats.DoneIssues, stats.TotalIssues)
		return nil
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simAgents, "agents", 4, "number of synthetic agents")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 10*time.Second, "how long to run")
	rootCmd.AddCommand(simulateCmd)
}
