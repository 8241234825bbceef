// Package ethos is the engine's self-monitoring loop. Each cycle samples six
// health metrics from the store, snapshots them, checks them against
// thresholds, and opens remediation projects for violations. Remediation
// projects are ordinary projects; agents pick them up through the normal
// priority and routing path.
package ethos

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/waggle-sh/waggle/internal/claims"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

// Thresholds bound each watched metric. Min thresholds fire when the metric
// drops below the value, max thresholds when it rises above.
type Thresholds struct {
	CoherenceMin   float64 // fraction of live issues attached to a project
	BlockageMax    float64 // fraction of live issues sitting blocked
	StalenessMax   float64 // mean live-issue age, seconds
	ClaimHealthMin float64 // claimed fraction of live issues
	AgentHealthMin float64 // active fraction of registered agents
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoherenceMin:   0.7,
		BlockageMax:    0.3,
		StalenessMax:   7 * 24 * 3600,
		ClaimHealthMin: 0.3,
		AgentHealthMin: 0.5,
	}
}

// Ethos watches graph health and files remediation work.
type Ethos struct {
	db         store.DB
	tracker    *tracker.Tracker
	claims     *claims.Claims
	thresholds Thresholds
	now        func() int64

	coherenceGauge   metric.Float64Gauge
	velocityGauge    metric.Float64Gauge
	blockageGauge    metric.Float64Gauge
	stalenessGauge   metric.Float64Gauge
	claimHealthGauge metric.Float64Gauge
	agentHealthGauge metric.Float64Gauge
}

// New creates an Ethos monitor. Zero-valued thresholds take the defaults.
func New(db store.DB, trk *tracker.Tracker, clm *claims.Claims, thresholds Thresholds) *Ethos {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	meter := otel.Meter("github.com/waggle-sh/waggle")
	coherence, _ := meter.Float64Gauge("waggle.health.coherence")
	velocity, _ := meter.Float64Gauge("waggle.health.velocity")
	blockage, _ := meter.Float64Gauge("waggle.health.blockage")
	staleness, _ := meter.Float64Gauge("waggle.health.staleness")
	claimHealth, _ := meter.Float64Gauge("waggle.health.claim_health")
	agentHealth, _ := meter.Float64Gauge("waggle.health.agent_health")
	return &Ethos{
		db:               db,
		tracker:          trk,
		claims:           clm,
		thresholds:       thresholds,
		now:              func() int64 { return time.Now().Unix() },
		coherenceGauge:   coherence,
		velocityGauge:    velocity,
		blockageGauge:    blockage,
		stalenessGauge:   staleness,
		claimHealthGauge: claimHealth,
		agentHealthGauge: agentHealth,
	}
}

// AssessHealth computes the current metrics, records a snapshot, and returns
// it. Metrics are computed over individual queries; exact simultaneity is
// not required.
func (e *Ethos) AssessHealth(ctx context.Context) (*types.HealthSnapshot, error) {
	snap := &types.HealthSnapshot{RecordedAt: e.now()}
	var err error
	if snap.Coherence, err = e.coherence(ctx); err != nil {
		return nil, err
	}
	if snap.Velocity, err = e.velocity(ctx); err != nil {
		return nil, err
	}
	if snap.Blockage, err = e.blockage(ctx); err != nil {
		return nil, err
	}
	if snap.Staleness, err = e.staleness(ctx); err != nil {
		return nil, err
	}
	if snap.ClaimHealth, err = e.claimHealth(ctx); err != nil {
		return nil, err
	}
	if snap.AgentHealth, err = e.agentHealth(ctx); err != nil {
		return nil, err
	}

	res, err := e.db.Prepare(`
		INSERT INTO health_snapshots (coherence, velocity, blockage, staleness, claim_health, agent_health, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`).Bind(snap.Coherence, snap.Velocity, snap.Blockage, snap.Staleness,
		snap.ClaimHealth, snap.AgentHealth, snap.RecordedAt).Run(ctx)
	if err != nil {
		return nil, store.WrapStoreError("record health snapshot", err)
	}
	snap.ID = res.LastInsertID

	e.coherenceGauge.Record(ctx, snap.Coherence)
	e.velocityGauge.Record(ctx, snap.Velocity)
	e.blockageGauge.Record(ctx, snap.Blockage)
	e.stalenessGauge.Record(ctx, snap.Staleness)
	e.claimHealthGauge.Record(ctx, snap.ClaimHealth)
	e.agentHealthGauge.Record(ctx, snap.AgentHealth)
	return snap, nil
}

// coherence is the fraction of non-terminal issues attached to a project.
// An empty graph is perfectly coherent.
func (e *Ethos) coherence(ctx context.Context) (float64, error) {
	row, err := e.db.Prepare(`
		SELECT COUNT(*) AS total,
		       SUM(CASE WHEN project_id IS NOT NULL THEN 1 ELSE 0 END) AS linked
		FROM issues WHERE status NOT IN ('done', 'cancelled')
	`).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("coherence", err)
	}
	total := row.Int64("total")
	if total == 0 {
		return 1, nil
	}
	return float64(row.Int64("linked")) / float64(total), nil
}

// velocity is successful outcomes over the last 24 hours, per hour.
func (e *Ethos) velocity(ctx context.Context) (float64, error) {
	row, err := e.db.Prepare(`
		SELECT COUNT(*) AS n FROM outcomes WHERE result = 'success' AND recorded_at >= ?
	`).Bind(e.now() - 24*3600).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("velocity", err)
	}
	return float64(row.Int64("n")) / 24, nil
}

// blockage is blocked / (open + in_progress + blocked). Empty is 0.
func (e *Ethos) blockage(ctx context.Context) (float64, error) {
	row, err := e.db.Prepare(`
		SELECT COUNT(*) AS total,
		       SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END) AS blocked
		FROM issues WHERE status IN ('open', 'in_progress', 'blocked')
	`).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("blockage", err)
	}
	total := row.Int64("total")
	if total == 0 {
		return 0, nil
	}
	return float64(row.Int64("blocked")) / float64(total), nil
}

// staleness is the mean age in seconds of non-terminal issues. Empty is 0.
func (e *Ethos) staleness(ctx context.Context) (float64, error) {
	row, err := e.db.Prepare(`
		SELECT COUNT(*) AS total, COALESCE(SUM(? - created_at), 0) AS age
		FROM issues WHERE status NOT IN ('done', 'cancelled')
	`).Bind(e.now()).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("staleness", err)
	}
	total := row.Int64("total")
	if total == 0 {
		return 0, nil
	}
	return float64(row.Int64("age")) / float64(total), nil
}

// claimHealth is min(active claims / non-terminal issues, 1). Empty is 1.
func (e *Ethos) claimHealth(ctx context.Context) (float64, error) {
	row, err := e.db.Prepare(`
		SELECT (SELECT COUNT(*) FROM claims) AS claimed,
		       (SELECT COUNT(*) FROM issues WHERE status NOT IN ('done', 'cancelled')) AS live
	`).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("claim health", err)
	}
	live := row.Int64("live")
	if live == 0 {
		return 1, nil
	}
	return math.Min(float64(row.Int64("claimed"))/float64(live), 1), nil
}

// agentHealth is active agents / registered agents. No agents is 1.
func (e *Ethos) agentHealth(ctx context.Context) (float64, error) {
	row, err := e.db.Prepare(`
		SELECT COUNT(*) AS total,
		       SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END) AS active
		FROM agents
	`).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("agent health", err)
	}
	total := row.Int64("total")
	if total == 0 {
		return 1, nil
	}
	return float64(row.Int64("active")) / float64(total), nil
}

// CycleReport summarizes one housekeeping cycle.
type CycleReport struct {
	Reclaimed  []string              `json:"reclaimed"`
	DeadAgents []string              `json:"dead_agents"`
	Snapshot   *types.HealthSnapshot `json:"snapshot"`
	Violations []*Violation          `json:"violations"`
	Remediated []*types.Project      `json:"remediated"`
}

// RunCycle performs one full housekeeping pass: reclaim expired claims,
// detect dead agents, snapshot health, and respond to threshold violations.
func (e *Ethos) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{}
	var err error
	if report.Reclaimed, err = e.claims.ReclaimExpired(ctx); err != nil {
		return nil, err
	}
	if report.DeadAgents, err = e.claims.DetectDeadAgents(ctx); err != nil {
		return nil, err
	}
	if report.Snapshot, err = e.AssessHealth(ctx); err != nil {
		return nil, err
	}
	report.Violations = e.CheckViolations(report.Snapshot)
	if report.Remediated, err = e.RespondToViolations(ctx, report.Violations); err != nil {
		return nil, err
	}
	return report, nil
}
