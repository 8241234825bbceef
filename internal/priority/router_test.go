package priority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waggle-sh/waggle/internal/types"
)

func TestGetNextForRoutesByCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.claims.RegisterAgent(ctx, "A", []string{"io"}, nil)
	require.NoError(t, err)
	_, err = f.claims.RegisterAgent(ctx, "B", []string{"crypto"}, nil)
	require.NoError(t, err)

	ioIssue := f.issue(t, "io task", 2, "io")
	cryptoIssue := f.issue(t, "crypto task", 2, "crypto")

	got, err := f.router.GetNextFor(ctx, "A", RouteOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ioIssue.ID, got.ID)

	got, err = f.router.GetNextFor(ctx, "B", RouteOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cryptoIssue.ID, got.ID)
}

func TestGetNextForCapacityGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.claims.RegisterAgent(ctx, "A", nil, nil)
	require.NoError(t, err)
	held := f.issue(t, "held", 2)
	f.issue(t, "pending", 2)
	ok, err := f.claims.Claim(ctx, held.ID, "A")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.router.GetNextFor(ctx, "A", RouteOptions{})
	require.NoError(t, err)
	assert.Nil(t, got, "agent at default capacity of 1")

	got, err = f.router.GetNextFor(ctx, "A", RouteOptions{MaxConcurrent: 2})
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestGetNextForPreferLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.claims.RegisterAgent(ctx, "A", nil, nil)
	require.NoError(t, err)

	f.issue(t, "urgent generic", 0)
	preferred := f.issue(t, "doc cleanup", 3, "docs")

	got, err := f.router.GetNextFor(ctx, "A", RouteOptions{PreferLabels: []string{"docs"}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, preferred.ID, got.ID)
}

func TestGetNextForFallsBackWhenNothingMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.claims.RegisterAgent(ctx, "A", []string{"io"}, nil)
	require.NoError(t, err)

	top := f.issue(t, "labeled elsewhere", 0, "crypto")

	got, err := f.router.GetNextFor(ctx, "A", RouteOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, top.ID, got.ID, "unmatched agents still get the top issue")
}

func TestGetNextForUnlabeledMatchesAnyone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.claims.RegisterAgent(ctx, "A", []string{"io"}, nil)
	require.NoError(t, err)

	plain := f.issue(t, "no labels", 2)
	got, err := f.router.GetNextFor(ctx, "A", RouteOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, plain.ID, got.ID)
}

func TestGetBestAgentFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.claims.RegisterAgent(ctx, "matched", []string{"io"}, nil)
	require.NoError(t, err)
	_, err = f.claims.RegisterAgent(ctx, "busy", []string{"io"}, nil)
	require.NoError(t, err)

	// Load the busy agent down.
	held := f.issue(t, "held", 2)
	ok, err := f.claims.Claim(ctx, held.ID, "busy")
	require.NoError(t, err)
	require.True(t, ok)

	issue := f.issue(t, "io task", 2, "io")
	best, err := f.router.GetBestAgentFor(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "matched", best.AgentID)
}

func TestGetBestAgentForNoAgents(t *testing.T) {
	f := newFixture(t)
	issue := f.issue(t, "lonely", 2)
	best, err := f.router.GetBestAgentFor(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestAutoAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.claims.RegisterAgent(ctx, "w1", nil, nil)
	require.NoError(t, err)
	_, err = f.claims.RegisterAgent(ctx, "w2", nil, nil)
	require.NoError(t, err)
	a := f.issue(t, "a", 1)
	b := f.issue(t, "b", 2)

	assigned, err := f.router.AutoAssign(ctx, 10)
	require.NoError(t, err)
	require.Len(t, assigned, 2)

	seen := map[string]bool{}
	for _, as := range assigned {
		seen[as.Issue.ID] = true
		claim, err := f.claims.GetClaim(ctx, as.Issue.ID)
		require.NoError(t, err)
		require.NotNil(t, claim)
		assert.Equal(t, as.Agent.AgentID, claim.AgentID)
	}
	assert.True(t, seen[a.ID] && seen[b.ID])
}

func TestGetWorkloadDistribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.claims.RegisterAgent(ctx, "w1", nil, nil)
	require.NoError(t, err)
	issue := f.issue(t, "tracked", 2)
	ok, err := f.claims.Claim(ctx, issue.ID, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	done := f.issue(t, "finished", 2)
	_, err = f.tracker.RecordOutcome(ctx, done.ID, "w1", types.ResultSuccess, "", nil)
	require.NoError(t, err)

	dist, err := f.router.GetWorkloadDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, dist, 1)
	assert.Equal(t, "w1", dist[0].AgentID)
	assert.Equal(t, 1, dist[0].ClaimCount)
	assert.Equal(t, 1, dist[0].RecentCompletions)
}
