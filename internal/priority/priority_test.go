package priority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waggle-sh/waggle/internal/claims"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/store/sqlite"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

type fixture struct {
	db       store.DB
	tracker  *tracker.Tracker
	claims   *claims.Claims
	priority *Priority
	router   *Router
	clock    *int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Memory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Bootstrap(ctx, db))

	clock := int64(1_700_000_000)
	trk := tracker.New(db)
	clm := claims.New(db, claims.Options{})
	pri := New(db, trk)
	pri.now = func() int64 { return clock }
	rtr := NewRouter(db, pri, clm)
	rtr.now = func() int64 { return clock }
	return &fixture{db: db, tracker: trk, claims: clm, priority: pri, router: rtr, clock: &clock}
}

func (f *fixture) issue(t *testing.T, desc string, priority int, labels ...string) *types.Issue {
	t.Helper()
	issue, err := f.tracker.CreateIssue(context.Background(), tracker.CreateIssueRequest{
		Description: desc,
		Priority:    &priority,
		Labels:      labels,
	})
	require.NoError(t, err)
	return issue
}

func (f *fixture) blocks(t *testing.T, from, to *types.Issue) {
	t.Helper()
	require.NoError(t, f.tracker.AddDependency(context.Background(), from.ID, to.ID, types.DepBlocks))
}

func TestScoreRangeAndRounding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "plain", 2)

	scored, err := f.priority.GetPrioritized(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scored, 1)

	s := scored[0].Score
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 0.95)
	// Two-decimal rounding.
	assert.InDelta(t, s, float64(int(s*100+0.5))/100, 1e-9)
}

func TestHighPriorityBlockerScoresFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocker := f.issue(t, "urgent blocker", 0)
	low := f.issue(t, "background chore", 4)
	b1 := f.issue(t, "b1", 2)
	b2 := f.issue(t, "b2", 2)
	f.blocks(t, blocker, b1)
	f.blocks(t, blocker, b2)

	scored, err := f.priority.GetPrioritized(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, scored)
	assert.Equal(t, blocker.ID, scored[0].Issue.ID)
	assert.Contains(t, scored[0].Reason, "unblocks downstream work")

	var lowScore float64
	for _, s := range scored {
		if s.Issue.ID == low.ID {
			lowScore = s.Score
		}
	}
	assert.Greater(t, scored[0].Score, lowScore)
}

func TestReasonDefaultsWhenNothingNotable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "dull", 4) // priority raw 0, no edges, no project, fresh

	scored, err := f.priority.GetPrioritized(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "Default priority", scored[0].Reason)
}

func TestImpactCountsTransitiveLiveBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.issue(t, "a", 2)
	b := f.issue(t, "b", 2)
	c := f.issue(t, "c", 2)
	d := f.issue(t, "d", 2)
	f.blocks(t, a, b)
	f.blocks(t, b, c)
	f.blocks(t, b, d)

	n, err := f.priority.Impact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Resolving b cuts transmission: c and d no longer count through it.
	_, err = f.tracker.RecordOutcome(ctx, b.ID, "a1", types.ResultSuccess, "", nil)
	require.NoError(t, err)
	n, err = f.priority.Impact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestImpactSurvivesCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.issue(t, "a", 2)
	b := f.issue(t, "b", 2)
	f.blocks(t, a, b)
	// Close the loop behind the cycle check's back to prove the walk is safe.
	_, err := f.db.Prepare(`INSERT INTO dependencies (from_id, to_id, type, created_at) VALUES (?, ?, 'blocks', 1)`).
		Bind(b.ID, a.ID).Run(ctx)
	require.NoError(t, err)

	n, err := f.priority.Impact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetCriticalPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.issue(t, "deep blocker", 2)
	b := f.issue(t, "middle", 2)
	c := f.issue(t, "endpoint", 2)
	f.issue(t, "stray", 2)
	f.blocks(t, a, b)
	f.blocks(t, b, c)

	path, err := f.priority.GetCriticalPath(ctx)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, a.ID, path[0].ID)
	assert.Equal(t, b.ID, path[1].ID)
	assert.Equal(t, c.ID, path[2].ID)
}

func TestGetCriticalPathEmptyGraph(t *testing.T) {
	f := newFixture(t)
	path, err := f.priority.GetCriticalPath(context.Background())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestGetBottlenecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hub := f.issue(t, "hub", 2)
	minor := f.issue(t, "minor", 2)
	for i := 0; i < 3; i++ {
		f.blocks(t, hub, f.issue(t, "spoke", 2))
	}
	f.blocks(t, minor, f.issue(t, "leaf", 2))

	bottlenecks, err := f.priority.GetBottlenecks(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, bottlenecks)
	assert.Equal(t, hub.ID, bottlenecks[0].Issue.ID)
	assert.Equal(t, 3, bottlenecks[0].BlockedCount)
}
