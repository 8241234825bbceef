package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle/internal/types"
)

var agentCapabilities []string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the agent registry",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register <agent-id>",
	Short: "Register (or refresh) an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := engine.Claims.RegisterAgent(cmd.Context(), args[0], agentCapabilities, nil)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(agent)
		}
		fmt.Printf("%s  %s\n", idStyle.Render(agent.AgentID), strings.Join(agent.Capabilities, ","))
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents and their workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agents, err := engine.Claims.ListAgents(ctx, "")
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(agents)
		}
		for _, a := range agents {
			held, err := engine.Claims.GetAgentClaims(ctx, a.AgentID)
			if err != nil {
				return err
			}
			style := okStyle
			if a.Status == types.AgentDead {
				style = errStyle
			}
			fmt.Printf("%s  %-7s %d claims  last seen %s  %s\n",
				idStyle.Render(a.AgentID), style.Render(string(a.Status)), len(held),
				time.Unix(a.LastSeenAt, 0).Format(time.TimeOnly),
				dimStyle.Render(strings.Join(a.Capabilities, ",")))
		}
		return nil
	},
}

func init() {
	agentRegisterCmd.Flags().StringSliceVarP(&agentCapabilities, "capability", "c", nil, "capability labels (repeatable)")
	agentCmd.AddCommand(agentRegisterCmd, agentListCmd)
	rootCmd.AddCommand(agentCmd)
}
