// Package config loads CLI and daemon settings for waggle.
//
// Settings come from three layers, lowest priority first: built-in defaults,
// a waggle.yaml file, and WAGGLE_* environment variables. The engine itself
// takes no configuration from the environment; this package exists for the
// outer layers that embed it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/waggle-sh/waggle/internal/ethos"
)

// Config is the full runtime configuration.
type Config struct {
	// DBPath is the SQLite database location. ":memory:" is accepted.
	DBPath string `mapstructure:"db" yaml:"db"`

	// ClaimTTL is the lease length for work claims.
	ClaimTTL time.Duration `mapstructure:"claim-ttl" yaml:"claim-ttl"`

	// HeartbeatPeriod is the advisory cadence agents should heartbeat at.
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat-period" yaml:"heartbeat-period"`

	// DeadAgentAfter is how long an agent may stay silent before it is
	// declared dead.
	DeadAgentAfter time.Duration `mapstructure:"dead-agent-after" yaml:"dead-agent-after"`

	// CheckInterval is the advisory cadence for health cycles. The engine
	// spawns no timer of its own; the watch command uses this.
	CheckInterval time.Duration `mapstructure:"check-interval" yaml:"check-interval"`

	// Thresholds override the stock health limits when non-zero.
	Thresholds ThresholdConfig `mapstructure:"thresholds" yaml:"thresholds"`
}

// ThresholdConfig mirrors the ethos thresholds in file form.
type ThresholdConfig struct {
	CoherenceMin   float64 `mapstructure:"coherence-min" yaml:"coherence-min"`
	BlockageMax    float64 `mapstructure:"blockage-max" yaml:"blockage-max"`
	StalenessMax   float64 `mapstructure:"staleness-max" yaml:"staleness-max"`
	ClaimHealthMin float64 `mapstructure:"claim-health-min" yaml:"claim-health-min"`
	AgentHealthMin float64 `mapstructure:"agent-health-min" yaml:"agent-health-min"`
}

// ToEthos converts file-form thresholds to engine thresholds. Zero fields
// keep the engine defaults.
func (t ThresholdConfig) ToEthos() ethos.Thresholds {
	out := ethos.DefaultThresholds()
	if t.CoherenceMin != 0 {
		out.CoherenceMin = t.CoherenceMin
	}
	if t.BlockageMax != 0 {
		out.BlockageMax = t.BlockageMax
	}
	if t.StalenessMax != 0 {
		out.StalenessMax = t.StalenessMax
	}
	if t.ClaimHealthMin != 0 {
		out.ClaimHealthMin = t.ClaimHealthMin
	}
	if t.AgentHealthMin != 0 {
		out.AgentHealthMin = t.AgentHealthMin
	}
	return out
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DBPath:          ".waggle/waggle.db",
		ClaimTTL:        5 * time.Minute,
		HeartbeatPeriod: 30 * time.Second,
		DeadAgentAfter:  2 * time.Minute,
		CheckInterval:   time.Minute,
	}
}

// Load reads configuration from waggle.yaml (searched in dir, then its
// ancestors) and the WAGGLE_* environment. A missing file is not an error;
// defaults apply.
func Load(dir string) (Config, error) {
	v := viper.New()
	cfg := Defaults()
	v.SetDefault("db", cfg.DBPath)
	v.SetDefault("claim-ttl", cfg.ClaimTTL)
	v.SetDefault("heartbeat-period", cfg.HeartbeatPeriod)
	v.SetDefault("dead-agent-after", cfg.DeadAgentAfter)
	v.SetDefault("check-interval", cfg.CheckInterval)

	v.SetEnvPrefix("WAGGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := FindConfigFile(dir); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// FindConfigFile walks from dir toward the filesystem root looking for
// waggle.yaml. Returns "" when none exists.
func FindConfigFile(dir string) string {
	if dir == "" {
		dir = "."
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, "waggle.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadFile parses one yaml file directly, bypassing viper and the
// environment. Used when the working directory has moved since Load ran, or
// in tests that want exact file semantics.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path) // #nosec G304 - path chosen by the caller
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
