package ethos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waggle-sh/waggle/internal/claims"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/store/sqlite"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

type fixture struct {
	db      store.DB
	tracker *tracker.Tracker
	claims  *claims.Claims
	ethos   *Ethos
	clock   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Memory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Bootstrap(ctx, db))

	f := &fixture{
		db:      db,
		tracker: tracker.New(db),
		claims:  claims.New(db, claims.Options{}),
		clock:   1_700_000_000,
	}
	f.ethos = New(db, f.tracker, f.claims, Thresholds{})
	f.ethos.now = func() int64 { return f.clock }
	return f
}

func (f *fixture) exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	_, err := f.db.Prepare(sql).Bind(args...).Run(context.Background())
	require.NoError(t, err)
}

func TestNewDefaultsThresholds(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DefaultThresholds(), f.ethos.thresholds)

	custom := New(f.db, f.tracker, f.claims, Thresholds{CoherenceMin: 0.9})
	assert.Equal(t, 0.9, custom.thresholds.CoherenceMin)
}

func TestAssessHealthEmptyGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.ethos.AssessHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Coherence)
	assert.Equal(t, 0.0, snap.Velocity)
	assert.Equal(t, 0.0, snap.Blockage)
	assert.Equal(t, 0.0, snap.Staleness)
	assert.Equal(t, 1.0, snap.ClaimHealth)
	assert.Equal(t, 1.0, snap.AgentHealth)
	assert.Greater(t, snap.ID, int64(0))

	history, err := f.ethos.GetHealthHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, snap.ID, history[0].ID)
}

func TestAssessHealthMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.exec(t, `INSERT INTO projects (id, name, created_at) VALUES ('proj-1', 'p', ?)`, f.clock)

	// Four live issues: two attached to the project, one blocked. The done
	// issue must not count anywhere.
	f.exec(t, `INSERT INTO issues (id, description, status, project_id, created_at, updated_at) VALUES
		('iss-1', 'a', 'open', 'proj-1', ?, ?)`, f.clock-100, f.clock-100)
	f.exec(t, `INSERT INTO issues (id, description, status, created_at, updated_at) VALUES
		('iss-2', 'b', 'open', ?, ?)`, f.clock-300, f.clock-300)
	f.exec(t, `INSERT INTO issues (id, description, status, project_id, created_at, updated_at) VALUES
		('iss-3', 'c', 'blocked', 'proj-1', ?, ?)`, f.clock-200, f.clock-200)
	f.exec(t, `INSERT INTO issues (id, description, status, created_at, updated_at) VALUES
		('iss-4', 'd', 'in_progress', ?, ?)`, f.clock-200, f.clock-200)
	f.exec(t, `INSERT INTO issues (id, description, status, created_at, updated_at, resolved_at) VALUES
		('iss-5', 'e', 'done', ?, ?, ?)`, f.clock-900, f.clock-900, f.clock-900)

	// Two successes inside the 24h window, one outside, one recent failure.
	f.exec(t, `INSERT INTO outcomes (id, issue_id, agent_id, result, recorded_at) VALUES
		('out-1', 'iss-5', 'a1', 'success', ?)`, f.clock-100)
	f.exec(t, `INSERT INTO outcomes (id, issue_id, agent_id, result, recorded_at) VALUES
		('out-2', 'iss-5', 'a1', 'success', ?)`, f.clock-3600)
	f.exec(t, `INSERT INTO outcomes (id, issue_id, agent_id, result, recorded_at) VALUES
		('out-3', 'iss-5', 'a1', 'success', ?)`, f.clock-90000)
	f.exec(t, `INSERT INTO outcomes (id, issue_id, agent_id, result, recorded_at) VALUES
		('out-4', 'iss-5', 'a1', 'failure', ?)`, f.clock-50)

	f.exec(t, `INSERT INTO claims (issue_id, agent_id, claimed_at, heartbeat_at) VALUES
		('iss-4', 'a1', ?, ?)`, f.clock-60, f.clock-60)

	f.exec(t, `INSERT INTO agents (agent_id, status, last_seen_at) VALUES ('a1', 'active', ?)`, f.clock)
	f.exec(t, `INSERT INTO agents (agent_id, status, last_seen_at) VALUES ('a2', 'dead', ?)`, f.clock-9000)

	snap, err := f.ethos.AssessHealth(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, snap.Coherence, 1e-9)
	assert.InDelta(t, 2.0/24, snap.Velocity, 1e-9)
	assert.InDelta(t, 0.25, snap.Blockage, 1e-9)
	assert.InDelta(t, 200, snap.Staleness, 1e-9)
	assert.InDelta(t, 0.25, snap.ClaimHealth, 1e-9)
	assert.InDelta(t, 0.5, snap.AgentHealth, 1e-9)
}

func TestCheckViolations(t *testing.T) {
	f := newFixture(t)

	healthy := &types.HealthSnapshot{
		Coherence: 0.9, Velocity: 1, Blockage: 0.1,
		Staleness: 3600, ClaimHealth: 0.5, AgentHealth: 1,
	}
	assert.Empty(t, f.ethos.CheckViolations(healthy))

	sick := &types.HealthSnapshot{
		Coherence: 0.2, Velocity: 0, Blockage: 0.8,
		Staleness: 30 * 24 * 3600, ClaimHealth: 0.1, AgentHealth: 0.25,
	}
	violations := f.ethos.CheckViolations(sick)
	require.Len(t, violations, 5)

	actions := map[string]string{}
	for _, v := range violations {
		actions[v.Metric] = v.Action
	}
	assert.Equal(t, "create-linking-project", actions["coherence"])
	assert.Equal(t, "prioritize-blockers", actions["blockage"])
	assert.Equal(t, "prune-or-revive", actions["staleness"])
	assert.Equal(t, "rebalance-work", actions["claimHealth"])
	assert.Equal(t, "alert-agent-failures", actions["agentHealth"])
}

func TestRespondToViolationsFilesOncePerMetric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sick := &types.HealthSnapshot{Coherence: 0.1, ClaimHealth: 1, AgentHealth: 1}
	violations := f.ethos.CheckViolations(sick)

	created, err := f.ethos.RespondToViolations(ctx, violations)
	require.NoError(t, err)
	require.Len(t, created, 1)
	p := created[0]
	assert.Equal(t, "Improve work coherence", p.Name)
	assert.Equal(t, "coherence", p.Metadata["remediationFor"])
	assert.Equal(t, true, p.Metadata["autoGenerated"])

	// A later cycle with the same violation must not file a duplicate while
	// the first project is still active.
	again, err := f.ethos.RespondToViolations(ctx, violations)
	require.NoError(t, err)
	assert.Empty(t, again)

	projects, err := f.tracker.ListProjects(ctx, types.ProjectActive)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestRespondToViolationsEmptyInput(t *testing.T) {
	f := newFixture(t)
	created, err := f.ethos.RespondToViolations(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func (f *fixture) snapshot(t *testing.T, recordedAt int64, coherence, velocity, blockage, staleness, claimHealth, agentHealth float64) {
	t.Helper()
	f.exec(t, `
		INSERT INTO health_snapshots (coherence, velocity, blockage, staleness, claim_health, agent_health, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, coherence, velocity, blockage, staleness, claimHealth, agentHealth, recordedAt)
}

func TestGetHealthHistoryWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.snapshot(t, f.clock-5*3600, 1, 0, 0, 0, 1, 1) // outside the window
	f.snapshot(t, f.clock-300, 0.5, 0, 0, 0, 1, 1)
	f.snapshot(t, f.clock-100, 0.8, 0, 0, 0, 1, 1)

	history, err := f.ethos.GetHealthHistory(ctx, 4)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0.5, history[0].Coherence, "oldest first")
	assert.Equal(t, 0.8, history[1].Coherence)
}

func TestGetHealthTrendImproving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.snapshot(t, f.clock-7200, 0.5, 0, 0.5, 100, 0.2, 1)
	f.snapshot(t, f.clock-100, 0.9, 0, 0.1, 100, 0.8, 1)

	trend, err := f.ethos.GetHealthTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "improving", trend.Overall)
	assert.Equal(t, "improving", trend.Metrics["coherence"])
	assert.Equal(t, "improving", trend.Metrics["blockage"], "falling blockage is good")
	assert.Equal(t, "improving", trend.Metrics["claimHealth"])
	assert.Equal(t, "stable", trend.Metrics["velocity"])
	assert.Equal(t, "stable", trend.Metrics["staleness"])
	assert.Equal(t, "stable", trend.Metrics["agentHealth"])
}

func TestGetHealthTrendDegrading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.snapshot(t, f.clock-7200, 0.9, 0, 0.1, 100, 0.8, 1)
	f.snapshot(t, f.clock-100, 0.5, 0, 0.5, 100, 0.2, 1)

	trend, err := f.ethos.GetHealthTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degrading", trend.Overall)
}

func TestGetHealthTrendNeedsTwoSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trend, err := f.ethos.GetHealthTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stable", trend.Overall)
	assert.Nil(t, trend.First)

	f.snapshot(t, f.clock-100, 0.5, 0, 0, 0, 1, 1)
	trend, err = f.ethos.GetHealthTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stable", trend.Overall)
}

func TestGetHealthTrendSmallChangeIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.snapshot(t, f.clock-7200, 0.80, 1, 0.2, 100, 0.5, 1)
	f.snapshot(t, f.clock-100, 0.84, 1, 0.2, 100, 0.5, 1) // 5%, under the threshold

	trend, err := f.ethos.GetHealthTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stable", trend.Overall)
	assert.Equal(t, "stable", trend.Metrics["coherence"])
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Memory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Bootstrap(ctx, db))

	trk := tracker.New(db)
	clm := claims.New(db, claims.Options{DeadAgentAfter: time.Hour})
	eth := New(db, trk, clm, Thresholds{})

	issue, err := trk.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "adrift"})
	require.NoError(t, err)
	_, err = clm.RegisterAgent(ctx, "a1", nil, nil)
	require.NoError(t, err)
	ok, err := clm.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	// Backdate the lease so the cycle reclaims it.
	_, err = db.Prepare(`UPDATE claims SET expires_at = 100 WHERE issue_id = ?`).
		Bind(issue.ID).Run(ctx)
	require.NoError(t, err)

	report, err := eth.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{issue.ID}, report.Reclaimed)
	assert.Empty(t, report.DeadAgents)
	require.NotNil(t, report.Snapshot)

	// One unattached, unclaimed issue and a dead agent trip coherence,
	// claimHealth, and agentHealth.
	metrics := map[string]bool{}
	for _, v := range report.Violations {
		metrics[v.Metric] = true
	}
	assert.True(t, metrics["coherence"])
	assert.True(t, metrics["claimHealth"])
	assert.True(t, metrics["agentHealth"])
	require.Len(t, report.Remediated, len(report.Violations))

	got, err := trk.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)
}
