package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/waggle-sh/waggle/internal/config"
	"github.com/waggle-sh/waggle/internal/debug"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run health cycles on an interval until interrupted",
	Long: `Runs the housekeeping loop: every check-interval it reclaims expired
claims, detects dead agents, snapshots health, and files remediation
projects for threshold violations. Edits to waggle.yaml are picked up
without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var interval atomic.Int64
		interval.Store(int64(cfg.CheckInterval))

		g, ctx := errgroup.WithContext(ctx)

		if path := config.FindConfigFile("."); path != "" {
			g.Go(func() error {
				err := config.Watch(ctx, path, func(next config.Config) {
					interval.Store(int64(next.CheckInterval))
					debug.Logf("watch: config reloaded, interval now %s", next.CheckInterval)
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		}

		g.Go(func() error {
			for {
				report, err := engine.RunHealthCheck(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s ", dimStyle.Render(time.Now().Format(time.TimeOnly)))
				printCycle(report)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Duration(interval.Load())):
				}
			}
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
