package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `# waggle configuration
db: .waggle/waggle.db
claim-ttl: 5m
heartbeat-period: 30s
dead-agent-after: 2m
check-interval: 1m

# thresholds:
#   coherence-min: 0.7
#   blockage-max: 0.3
#   staleness-max: 604800   # seconds
#   claim-health-min: 0.3
#   agent-health-min: 0.5
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create waggle.yaml and bootstrap the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The schema was already bootstrapped by the root PersistentPreRun;
		// this just lays down a config file for future runs.
		if _, err := os.Stat("waggle.yaml"); err == nil {
			fmt.Println("waggle.yaml already exists")
			return nil
		}
		if err := os.WriteFile("waggle.yaml", []byte(starterConfig), 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote waggle.yaml, database at %s\n", cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
