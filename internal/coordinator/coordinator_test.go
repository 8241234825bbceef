package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waggle-sh/waggle/internal/store/sqlite"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Memory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := New(db, Options{})
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.Initialize(ctx), "initialize must be idempotent")
	return c
}

func TestWorkLifecycle(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	blocker, err := c.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "build the base"})
	require.NoError(t, err)
	dependent, err := c.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "paint the walls"})
	require.NoError(t, err)
	require.NoError(t, c.Tracker.AddDependency(ctx, blocker.ID, dependent.ID, types.DepBlocks))

	// Only the blocker is ready, so the agent gets it.
	work, err := c.GetNextWork(ctx, "a1", nil)
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.True(t, work.Claimed)
	assert.Equal(t, blocker.ID, work.Issue.ID)

	got, err := c.Tracker.GetIssue(ctx, blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status)

	// The agent is now at capacity; a second ask yields nothing even though
	// the dependent would unblock later.
	work, err = c.GetNextWork(ctx, "a1", nil)
	require.NoError(t, err)
	assert.Nil(t, work)

	unblocked, err := c.CompleteWork(ctx, blocker.ID, "a1", types.ResultSuccess, "base is solid")
	require.NoError(t, err)
	assert.Equal(t, []string{dependent.ID}, unblocked)

	got, err = c.Tracker.GetIssue(ctx, blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status, "release after completion must not reopen")

	got, err = c.Tracker.GetIssue(ctx, dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)

	// The freed dependent flows straight to the next ask.
	work, err = c.GetNextWork(ctx, "a1", nil)
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.Equal(t, dependent.ID, work.Issue.ID)
	assert.True(t, work.Claimed)
}

func TestGetNextWorkEmptyQueue(t *testing.T) {
	c := newCoordinator(t)
	work, err := c.GetNextWork(context.Background(), "a1", []string{"io"})
	require.NoError(t, err)
	assert.Nil(t, work)

	// The ask still registered the agent.
	agent, err := c.Claims.GetAgent(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"io"}, agent.Capabilities)
}

func TestGetNextWorkLostRace(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	issue, err := c.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "contested"})
	require.NoError(t, err)

	// Another agent grabs the issue between routing and claiming.
	_, err = c.Claims.RegisterAgent(ctx, "fast", nil, nil)
	require.NoError(t, err)
	_, err = c.Claims.RegisterAgent(ctx, "slow", nil, nil)
	require.NoError(t, err)
	ok, err := c.Claims.Claim(ctx, issue.ID, "fast")
	require.NoError(t, err)
	require.True(t, ok)

	// The issue is in_progress now, so routing skips it and the slow agent
	// simply gets nothing rather than a lost race.
	work, err := c.GetNextWork(ctx, "slow", nil)
	require.NoError(t, err)
	assert.Nil(t, work)
}

func TestCompleteWorkFailureKeepsDependentsBlocked(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	blocker, err := c.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "flaky step"})
	require.NoError(t, err)
	dependent, err := c.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "downstream"})
	require.NoError(t, err)
	require.NoError(t, c.Tracker.AddDependency(ctx, blocker.ID, dependent.ID, types.DepBlocks))

	work, err := c.GetNextWork(ctx, "a1", nil)
	require.NoError(t, err)
	require.NotNil(t, work)

	targets, err := c.CompleteWork(ctx, blocker.ID, "a1", types.ResultFailure, "ran out of disk")
	require.NoError(t, err)
	assert.Equal(t, []string{dependent.ID}, targets, "targets are reported even when nothing unblocked")

	// Failure releases the claim and reopens the blocker for another try.
	got, err := c.Tracker.GetIssue(ctx, blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)

	got, err = c.Tracker.GetIssue(ctx, dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, got.Status)
}

func TestRunHealthCheck(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	report, err := c.RunHealthCheck(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.Snapshot)
	assert.Equal(t, 1.0, report.Snapshot.Coherence)
	assert.Empty(t, report.Reclaimed)
	assert.Empty(t, report.DeadAgents)
}
