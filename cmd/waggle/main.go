// waggle is the command-line front end for the coordination engine.
//
// It opens (or creates) a SQLite database, wires the engine over it, and
// exposes the tracker, routing, and health operations as subcommands. Agents
// normally drive the engine through the Go API; the CLI exists for humans
// inspecting or seeding a swarm's work graph.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/waggle-sh/waggle"
	"github.com/waggle-sh/waggle/internal/config"
	"github.com/waggle-sh/waggle/internal/debug"
	"github.com/waggle-sh/waggle/internal/telemetry"
)

var version = "0.3.0"

var (
	dbPath      string
	jsonOutput  bool
	verboseFlag bool

	cfg    config.Config
	engine *waggle.Coordinator

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "waggle",
	Short:         "Graph-based work coordination for agent swarms",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		if err := telemetry.Init(cmd.Context(), telemetry.FromEnv("waggle", version)); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(".")
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}

		engine, err = openEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		// Bootstrap is idempotent, so every command can run it.
		return engine.Initialize(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engine != nil {
			_ = engine.DB.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func openEngine(ctx context.Context, cfg config.Config) (*waggle.Coordinator, error) {
	if cfg.DBPath != ":memory:" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	return waggle.Open(ctx, cfg.DBPath, waggle.Options{
		ClaimTTL:        cfg.ClaimTTL,
		HeartbeatPeriod: cfg.HeartbeatPeriod,
		DeadAgentAfter:  cfg.DeadAgentAfter,
		Thresholds:      cfg.Thresholds.ToEthos(),
	})
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides waggle.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug output on stderr")

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "waggle: %v\n", err)
		os.Exit(1)
	}
}
