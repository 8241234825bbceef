package claims

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/store/sqlite"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

type fixture struct {
	db      store.DB
	claims  *Claims
	tracker *tracker.Tracker
	clock   *int64
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Memory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Bootstrap(ctx, db))

	clock := int64(1_700_000_000)
	c := New(db, opts)
	c.now = func() int64 { return clock }
	return &fixture{db: db, claims: c, tracker: tracker.New(db), clock: &clock}
}

func (f *fixture) issue(t *testing.T, desc string) *types.Issue {
	t.Helper()
	issue, err := f.tracker.CreateIssue(context.Background(), tracker.CreateIssueRequest{Description: desc})
	require.NoError(t, err)
	return issue
}

func TestRegisterAgentUpserts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	agent, err := f.claims.RegisterAgent(ctx, "a1", []string{"io"}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.AgentActive, agent.Status)

	// Re-registering overwrites capabilities.
	_, err = f.claims.RegisterAgent(ctx, "a1", []string{"crypto"}, map[string]any{"v": "2"})
	require.NoError(t, err)
	got, err := f.claims.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto"}, got.Capabilities)

	_, err = f.claims.RegisterAgent(ctx, "", nil, nil)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestClaimGrantsExclusiveLease(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "contested")
	_, err := f.claims.RegisterAgent(ctx, "a1", nil, nil)
	require.NoError(t, err)
	_, err = f.claims.RegisterAgent(ctx, "a2", nil, nil)
	require.NoError(t, err)

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	// The loser gets a clean false, never an error.
	ok, err = f.claims.Claim(ctx, issue.ID, "a2")
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-claiming your own lease is an idempotent refresh.
	ok, err = f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status)
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "raced")

	const racers = 8
	wins := make(chan string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		agentID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.claims.Claim(ctx, issue.ID, agentID)
			if err == nil && ok {
				wins <- agentID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one racer must win")

	claim, err := f.claims.GetClaim(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, winners[0], claim.AgentID)
}

func TestClaimWithTTLForever(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "forever")

	ok, err := f.claims.ClaimWithTTL(ctx, issue.ID, "a1", -1)
	require.NoError(t, err)
	require.True(t, ok)

	claim, err := f.claims.GetClaim(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, claim.ExpiresAt, "negative ttl leases forever")
}

func TestReleaseResetsOnlyInProgress(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "work")

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	// Releasing a claim you do not hold is a silent no-op.
	require.NoError(t, f.claims.Release(ctx, issue.ID, "imposter"))
	claim, err := f.claims.GetClaim(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)

	require.NoError(t, f.claims.Release(ctx, issue.ID, "a1"))
	got, err := f.tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)
}

func TestReleaseAfterCompletionKeepsDone(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "ship it")

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.tracker.RecordOutcome(ctx, issue.ID, "a1", types.ResultSuccess, "", nil)
	require.NoError(t, err)
	require.NoError(t, f.claims.Release(ctx, issue.ID, "a1"))

	got, err := f.tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status, "release must not reopen a completed issue")
}

func TestReclaimExpired(t *testing.T) {
	f := newFixture(t, Options{ClaimTTL: time.Minute})
	ctx := context.Background()
	issue := f.issue(t, "abandoned")
	_, err := f.claims.RegisterAgent(ctx, "a1", nil, nil)
	require.NoError(t, err)

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	// Nothing lapses before the TTL.
	reclaimed, err := f.claims.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	*f.clock += 120 // two minutes later
	reclaimed, err = f.claims.ReclaimExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{issue.ID}, reclaimed)

	got, err := f.tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)

	agent, err := f.claims.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentDead, agent.Status)

	// A released broadcast carries the expiry reason.
	events, err := f.claims.GetBroadcasts(ctx, 0, 100)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.EventType == types.EventReleased && e.Payload["reason"] == "expired" {
			found = true
		}
	}
	assert.True(t, found, "expected a released/expired broadcast")
}

func TestExpiredClaimDoesNotShadowNewClaimer(t *testing.T) {
	f := newFixture(t, Options{ClaimTTL: time.Minute})
	ctx := context.Background()
	issue := f.issue(t, "handover")

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	*f.clock += 300
	ok, err = f.claims.Claim(ctx, issue.ID, "a2")
	require.NoError(t, err)
	assert.True(t, ok, "a lapsed lease must not block a live claimer")
}

func TestDetectDeadAgents(t *testing.T) {
	f := newFixture(t, Options{DeadAgentAfter: time.Minute, ClaimTTL: time.Hour})
	ctx := context.Background()
	issue := f.issue(t, "orphaned")

	_, err := f.claims.RegisterAgent(ctx, "quiet", nil, nil)
	require.NoError(t, err)
	ok, err := f.claims.Claim(ctx, issue.ID, "quiet")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.claims.RegisterAgent(ctx, "chatty", nil, nil)
	require.NoError(t, err)

	*f.clock += 120
	require.NoError(t, f.claims.Heartbeat(ctx, "chatty"))

	dead, err := f.claims.DetectDeadAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"quiet"}, dead)

	// The dead agent's claim was released and its issue reopened.
	claim, err := f.claims.GetClaim(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, claim)
	got, err := f.tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)

	chatty, err := f.claims.GetAgent(ctx, "chatty")
	require.NoError(t, err)
	assert.Equal(t, types.AgentActive, chatty.Status)
}

func TestHeartbeatRefreshesClaims(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "heartbeaten")

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	*f.clock += 10
	require.NoError(t, f.claims.Heartbeat(ctx, "a1"))

	claim, err := f.claims.GetClaim(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, *f.clock, claim.HeartbeatAt)

	// Heartbeating an unknown agent never errors.
	require.NoError(t, f.claims.Heartbeat(ctx, "ghost"))
}

func TestGetBroadcastsTailsById(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.claims.Broadcast(ctx, types.EventClaimed, "iss-x", "a1", nil)
	}
	all, err := f.claims.GetBroadcasts(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)

	tail, err := f.claims.GetBroadcasts(ctx, all[0].ID, 100)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
	assert.Greater(t, tail[0].ID, all[0].ID)
}

func TestGetActiveWork(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "active")

	ok, err := f.claims.Claim(ctx, issue.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	work, err := f.claims.GetActiveWork(ctx)
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, issue.ID, work[0].Issue.ID)
	assert.Equal(t, "a1", work[0].Claim.AgentID)
}

func TestClaimOnCompletedIssueLeavesNoClaim(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	issue := f.issue(t, "already shipped")

	_, err := f.tracker.RecordOutcome(ctx, issue.ID, "a1", types.ResultSuccess, "", nil)
	require.NoError(t, err)

	ok, err := f.claims.Claim(ctx, issue.ID, "a2")
	require.Error(t, err, "a completed issue cannot move back to in_progress")
	assert.False(t, ok)

	// The whole claim must roll back with the failed status flip: no claim
	// row may survive on a terminal issue.
	claim, err := f.claims.GetClaim(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, claim)

	got, err := f.tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status)
}
