// Package claims manages the agent registry and exclusive leases on issues.
//
// A claim is the right to resolve one issue. The primary key on
// claims.issue_id serializes racing claimers at the store: exactly one
// inserter wins and every loser gets a clean false, never an error. Leases
// expire; expired claims are reclaimed by housekeeping and their holders
// marked dead.
package claims

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// Defaults for lease housekeeping.
const (
	DefaultClaimTTL        = 5 * time.Minute
	DefaultHeartbeatPeriod = 30 * time.Second
	DefaultDeadAgentAfter  = 2 * time.Minute
)

// Options tune lease housekeeping. Zero values take the defaults above.
type Options struct {
	ClaimTTL        time.Duration // lease length for Claim
	HeartbeatPeriod time.Duration // advisory cadence for callers
	DeadAgentAfter  time.Duration // silence before an agent is declared dead
}

func (o Options) withDefaults() Options {
	if o.ClaimTTL == 0 {
		o.ClaimTTL = DefaultClaimTTL
	}
	if o.HeartbeatPeriod == 0 {
		o.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if o.DeadAgentAfter == 0 {
		o.DeadAgentAfter = DefaultDeadAgentAfter
	}
	return o
}

// Claims manages agents, leases, and the broadcast log.
type Claims struct {
	db   store.DB
	opts Options
	now  func() int64

	claimsGranted   metric.Int64Counter
	claimsLost      metric.Int64Counter
	claimsReclaimed metric.Int64Counter
}

// New creates a Claims manager over the given store.
func New(db store.DB, opts Options) *Claims {
	meter := otel.Meter("github.com/waggle-sh/waggle")
	granted, _ := meter.Int64Counter("waggle.claims.granted")
	lost, _ := meter.Int64Counter("waggle.claims.lost")
	reclaimed, _ := meter.Int64Counter("waggle.claims.reclaimed")
	return &Claims{
		db:              db,
		opts:            opts.withDefaults(),
		now:             func() int64 { return time.Now().Unix() },
		claimsGranted:   granted,
		claimsLost:      lost,
		claimsReclaimed: reclaimed,
	}
}

// RegisterAgent upserts the agent as active. Re-registering overwrites
// capabilities and metadata; it is the same call agents use to come back
// from the dead.
func (c *Claims) RegisterAgent(ctx context.Context, agentID string, capabilities []string, metadata map[string]any) (*types.Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("register agent: agent id is required: %w", store.ErrInvalidArgument)
	}
	now := c.now()
	_, err := c.db.Prepare(`
		INSERT INTO agents (agent_id, capabilities, status, last_seen_at, metadata)
		VALUES (?, ?, 'active', ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			capabilities = excluded.capabilities,
			status = 'active',
			last_seen_at = excluded.last_seen_at,
			metadata = excluded.metadata
	`).Bind(agentID, store.EncodeJSON(capabilities, "[]"), now,
		store.EncodeJSON(metadata, "{}")).Run(ctx)
	if err != nil {
		return nil, store.WrapStoreError("register agent", err)
	}
	return &types.Agent{
		AgentID:      agentID,
		Capabilities: capabilities,
		Status:       types.AgentActive,
		LastSeenAt:   now,
		Metadata:     metadata,
	}, nil
}

// GetAgent returns an agent by id.
func (c *Claims) GetAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	row, err := c.db.Prepare(`SELECT `+store.AgentColumns+` FROM agents WHERE agent_id = ?`).
		Bind(agentID).First(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get agent", err)
	}
	if row == nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, store.ErrNotFound)
	}
	return store.AgentFromRow(row), nil
}

// ListAgents returns agents, optionally filtered by status.
func (c *Claims) ListAgents(ctx context.Context, status types.AgentStatus) ([]*types.Agent, error) {
	query := `SELECT ` + store.AgentColumns + ` FROM agents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY agent_id ASC`
	rows, err := c.db.Prepare(query).Bind(args...).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("list agents", err)
	}
	out := make([]*types.Agent, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.AgentFromRow(r))
	}
	return out, nil
}

// Heartbeat marks the agent live and refreshes heartbeat_at on every claim
// it holds. Heartbeating an unknown agent is a silent no-op so retries are
// always safe.
func (c *Claims) Heartbeat(ctx context.Context, agentID string) error {
	now := c.now()
	if _, err := c.db.Prepare(`
		UPDATE agents SET last_seen_at = ?, status = 'active' WHERE agent_id = ?
	`).Bind(now, agentID).Run(ctx); err != nil {
		return store.WrapStoreError("heartbeat", err)
	}
	if _, err := c.db.Prepare(`
		UPDATE claims SET heartbeat_at = ? WHERE agent_id = ?
	`).Bind(now, agentID).Run(ctx); err != nil {
		return store.WrapStoreError("heartbeat claims", err)
	}
	return nil
}

// Claim attempts an exclusive lease on the issue with the default TTL.
// Returns true when this agent holds the claim afterwards.
func (c *Claims) Claim(ctx context.Context, issueID, agentID string) (bool, error) {
	return c.ClaimWithTTL(ctx, issueID, agentID, c.opts.ClaimTTL)
}

// ClaimWithTTL is Claim with an explicit lease length. ttl == 0 takes the
// default; ttl < 0 leases forever.
//
// Re-claiming an issue this agent already holds refreshes the lease and
// returns true. A claim held by another agent, or lost to a concurrent
// inserter, returns false without error.
func (c *Claims) ClaimWithTTL(ctx context.Context, issueID, agentID string, ttl time.Duration) (bool, error) {
	// Cheap housekeeping so a lapsed lease never shadows a live claimer.
	if _, err := c.ReclaimExpired(ctx); err != nil {
		return false, err
	}

	now := c.now()
	var expiresAt *int64
	if ttl == 0 {
		ttl = c.opts.ClaimTTL
	}
	if ttl > 0 {
		e := now + int64(ttl/time.Second)
		expiresAt = &e
	}

	existing, err := c.GetClaim(ctx, issueID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.AgentID != agentID {
			c.claimsLost.Add(ctx, 1)
			return false, nil
		}
		// Idempotent refresh of our own lease.
		if _, err := c.db.Prepare(`
			UPDATE claims SET expires_at = ?, heartbeat_at = ? WHERE issue_id = ? AND agent_id = ?
		`).Bind(expiresAt, now, issueID, agentID).Run(ctx); err != nil {
			return false, store.WrapStoreError("refresh claim", err)
		}
		return true, nil
	}

	// The PK on issue_id is the serialization point: one inserter wins,
	// losers see zero changes. Insert and status flip run in one atomic
	// batch; the update is guarded on our own claim row, so a concurrent
	// winner's issue is left alone, and flipping a terminal issue trips the
	// resolved_at CHECK and rolls the claim row back with it.
	results, err := c.db.Batch(ctx, []store.Statement{
		c.db.Prepare(`
			INSERT INTO claims (issue_id, agent_id, claimed_at, expires_at, heartbeat_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(issue_id) DO NOTHING
		`).Bind(issueID, agentID, now, expiresAt, now),
		c.db.Prepare(`
			UPDATE issues SET status = 'in_progress', updated_at = ?
			WHERE id = ?
			AND EXISTS (SELECT 1 FROM claims WHERE issue_id = issues.id AND agent_id = ?)
		`).Bind(now, issueID, agentID),
	})
	if err != nil {
		return false, store.WrapStoreError("claim", err)
	}
	if results[0].Changes == 0 {
		c.claimsLost.Add(ctx, 1)
		return false, nil
	}
	c.claimsGranted.Add(ctx, 1)
	c.Broadcast(ctx, types.EventClaimed, issueID, agentID, nil)
	return true, nil
}

// Release drops the claim if held by this agent; releasing a claim you do
// not hold is a silent no-op. The issue returns to open only when it is
// still in_progress, so a completed issue stays completed.
func (c *Claims) Release(ctx context.Context, issueID, agentID string) error {
	// One atomic batch; the reopen is guarded on no claim remaining, so a
	// release by a non-holder cannot reopen an issue someone else is working.
	results, err := c.db.Batch(ctx, []store.Statement{
		c.db.Prepare(`
			DELETE FROM claims WHERE issue_id = ? AND agent_id = ?
		`).Bind(issueID, agentID),
		c.db.Prepare(`
			UPDATE issues SET status = 'open', updated_at = ?
			WHERE id = ? AND status = 'in_progress'
			AND NOT EXISTS (SELECT 1 FROM claims WHERE issue_id = issues.id)
		`).Bind(c.now(), issueID),
	})
	if err != nil {
		return store.WrapStoreError("release", err)
	}
	if results[0].Changes == 0 {
		return nil
	}
	c.Broadcast(ctx, types.EventReleased, issueID, agentID, nil)
	return nil
}

// GetClaim returns the live claim on an issue, or nil when unclaimed.
func (c *Claims) GetClaim(ctx context.Context, issueID string) (*types.Claim, error) {
	row, err := c.db.Prepare(`SELECT `+store.ClaimColumns+` FROM claims WHERE issue_id = ?`).
		Bind(issueID).First(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get claim", err)
	}
	if row == nil {
		return nil, nil
	}
	return store.ClaimFromRow(row), nil
}

// GetAgentClaims returns every claim the agent holds.
func (c *Claims) GetAgentClaims(ctx context.Context, agentID string) ([]*types.Claim, error) {
	rows, err := c.db.Prepare(`SELECT `+store.ClaimColumns+` FROM claims WHERE agent_id = ? ORDER BY claimed_at ASC`).
		Bind(agentID).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get agent claims", err)
	}
	out := make([]*types.Claim, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.ClaimFromRow(r))
	}
	return out, nil
}

// ActiveWork pairs a live claim with its issue.
type ActiveWork struct {
	Claim *types.Claim `json:"claim"`
	Issue *types.Issue `json:"issue"`
}

// GetActiveWork returns every live claim joined with its issue.
func (c *Claims) GetActiveWork(ctx context.Context) ([]*ActiveWork, error) {
	rows, err := c.db.Prepare(`
		SELECT c.issue_id, c.agent_id, c.claimed_at, c.expires_at, c.heartbeat_at,
		       i.id, i.description, i.status, i.project_id, i.parent_id, i.priority,
		       i.labels, i.metadata, i.created_at, i.updated_at, i.resolved_at
		FROM claims c
		JOIN issues i ON i.id = c.issue_id
		ORDER BY c.claimed_at ASC
	`).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get active work", err)
	}
	out := make([]*ActiveWork, 0, len(rows))
	for _, r := range rows {
		out = append(out, &ActiveWork{Claim: store.ClaimFromRow(r), Issue: store.IssueFromRow(r)})
	}
	return out, nil
}
