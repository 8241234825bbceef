package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	eventsAfter  int64
	eventsLimit  int
	eventsFollow bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail the broadcast log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		after := eventsAfter
		for {
			events, err := engine.Claims.GetBroadcasts(ctx, after, eventsLimit)
			if err != nil {
				return err
			}
			for _, e := range events {
				after = e.ID
				if jsonOutput {
					if err := printJSON(e); err != nil {
						return err
					}
					continue
				}
				line := fmt.Sprintf("%s  #%d %-10s %s",
					dimStyle.Render(time.Unix(e.CreatedAt, 0).Format(time.TimeOnly)),
					e.ID, e.EventType, idStyle.Render(e.IssueID))
				if e.AgentID != "" {
					line += "  " + e.AgentID
				}
				fmt.Println(line)
			}
			if !eventsFollow {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	},
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsAfter, "after", 0, "start after this event id")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "events per fetch")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "poll for new events")
	rootCmd.AddCommand(eventsCmd)
}
