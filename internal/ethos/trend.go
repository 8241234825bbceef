package ethos

import (
	"context"
	"math"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// trendChangeThreshold is the relative change below which a metric counts as
// stable.
const trendChangeThreshold = 0.10

// GetHealthHistory returns every snapshot recorded in the last hoursWindow
// hours, oldest first.
func (e *Ethos) GetHealthHistory(ctx context.Context, hoursWindow int) ([]*types.HealthSnapshot, error) {
	if hoursWindow <= 0 {
		hoursWindow = 4
	}
	cutoff := e.now() - int64(hoursWindow)*3600
	rows, err := e.db.Prepare(`
		SELECT `+store.HealthSnapshotColumns+` FROM health_snapshots
		WHERE recorded_at >= ? ORDER BY recorded_at ASC, id ASC
	`).Bind(cutoff).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("health history", err)
	}
	out := make([]*types.HealthSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.HealthSnapshotFromRow(r))
	}
	return out, nil
}

// Trend classifies how health moved over a window.
type Trend struct {
	Overall string                `json:"overall"` // improving, stable, degrading
	Metrics map[string]string     `json:"metrics"` // per-metric classification
	First   *types.HealthSnapshot `json:"first,omitempty"`
	Last    *types.HealthSnapshot `json:"last,omitempty"`
}

// GetHealthTrend compares the first and last snapshot over the last four
// hours. A metric moves when it changes by more than 10% in its good or bad
// direction; higher is better for coherence, velocity, claimHealth, and
// agentHealth, lower is better for blockage and staleness. The overall call
// is improving or degrading only when at least three metrics agree;
// otherwise stable. Fewer than two snapshots is stable by definition.
func (e *Ethos) GetHealthTrend(ctx context.Context) (*Trend, error) {
	history, err := e.GetHealthHistory(ctx, 4)
	if err != nil {
		return nil, err
	}
	trend := &Trend{Overall: "stable", Metrics: map[string]string{}}
	if len(history) < 2 {
		return trend, nil
	}
	first, last := history[0], history[len(history)-1]
	trend.First, trend.Last = first, last

	type metric struct {
		name           string
		before, after  float64
		higherIsBetter bool
	}
	metrics := []metric{
		{"coherence", first.Coherence, last.Coherence, true},
		{"velocity", first.Velocity, last.Velocity, true},
		{"blockage", first.Blockage, last.Blockage, false},
		{"staleness", first.Staleness, last.Staleness, false},
		{"claimHealth", first.ClaimHealth, last.ClaimHealth, true},
		{"agentHealth", first.AgentHealth, last.AgentHealth, true},
	}

	improving, degrading := 0, 0
	for _, m := range metrics {
		c := classify(m.before, m.after, m.higherIsBetter)
		trend.Metrics[m.name] = c
		switch c {
		case "improving":
			improving++
		case "degrading":
			degrading++
		}
	}
	switch {
	case improving >= 3 && improving > degrading:
		trend.Overall = "improving"
	case degrading >= 3 && degrading > improving:
		trend.Overall = "degrading"
	}
	return trend, nil
}

// classify compares two readings of one metric. The 10% change threshold is
// relative to the earlier reading; a move from exactly zero counts as a full
// change.
func classify(before, after float64, higherIsBetter bool) string {
	var change float64
	switch {
	case before == 0 && after == 0:
		return "stable"
	case before == 0:
		change = 1
		if after < 0 {
			change = -1
		}
	default:
		change = (after - before) / math.Abs(before)
	}
	if math.Abs(change) <= trendChangeThreshold {
		return "stable"
	}
	if (change > 0) == higherIsBetter {
		return "improving"
	}
	return "degrading"
}
