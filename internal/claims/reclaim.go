package claims

import (
	"context"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// ReclaimExpired deletes every lapsed claim, reopens its issue, marks its
// holder dead, and emits a released broadcast with reason "expired".
// Returns the ids of the reclaimed issues.
//
// Each claim is reclaimed in one atomic batch whose statements are
// individually guarded, so racing with a live heartbeat is safe: if the
// holder refreshes the lease between our read and the delete, nothing
// matches and the claim survives.
func (c *Claims) ReclaimExpired(ctx context.Context) ([]string, error) {
	now := c.now()
	rows, err := c.db.Prepare(`
		SELECT issue_id, agent_id, expires_at FROM claims
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`).Bind(now).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("reclaim expired", err)
	}

	reclaimed := []string{}
	for _, r := range rows {
		issueID := r.String("issue_id")
		agentID := r.String("agent_id")

		results, err := c.db.Batch(ctx, []store.Statement{
			c.db.Prepare(`
				DELETE FROM claims
				WHERE issue_id = ? AND agent_id = ? AND expires_at IS NOT NULL AND expires_at <= ?
			`).Bind(issueID, agentID, now),
			c.db.Prepare(`
				UPDATE issues SET status = 'open', updated_at = ?
				WHERE id = ? AND status = 'in_progress'
				AND NOT EXISTS (SELECT 1 FROM claims WHERE issue_id = ?)
			`).Bind(now, issueID, issueID),
			c.db.Prepare(`
				UPDATE agents SET status = 'dead'
				WHERE agent_id = ?
				AND NOT EXISTS (SELECT 1 FROM claims WHERE issue_id = ?)
			`).Bind(agentID, issueID),
		})
		if err != nil {
			return nil, store.WrapStoreError("reclaim expired batch", err)
		}
		if results[0].Changes == 0 {
			continue // lease refreshed underneath us
		}
		reclaimed = append(reclaimed, issueID)
		c.claimsReclaimed.Add(ctx, 1)
		c.Broadcast(ctx, types.EventReleased, issueID, agentID, map[string]any{"reason": "expired"})
	}
	return reclaimed, nil
}

// DetectDeadAgents marks active agents silent for longer than the configured
// dead-agent timeout as dead and releases every claim they hold. Returns the
// ids of agents newly declared dead.
func (c *Claims) DetectDeadAgents(ctx context.Context) ([]string, error) {
	now := c.now()
	cutoff := now - int64(c.opts.DeadAgentAfter.Seconds())
	rows, err := c.db.Prepare(`
		SELECT agent_id FROM agents WHERE status = 'active' AND last_seen_at < ?
	`).Bind(cutoff).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("detect dead agents", err)
	}

	dead := []string{}
	for _, r := range rows {
		agentID := r.String("agent_id")
		// Guarded so a heartbeat that landed after our read wins.
		res, err := c.db.Prepare(`
			UPDATE agents SET status = 'dead'
			WHERE agent_id = ? AND status = 'active' AND last_seen_at < ?
		`).Bind(agentID, cutoff).Run(ctx)
		if err != nil {
			return nil, store.WrapStoreError("mark agent dead", err)
		}
		if res.Changes == 0 {
			continue
		}
		dead = append(dead, agentID)

		held, err := c.GetAgentClaims(ctx, agentID)
		if err != nil {
			return nil, err
		}
		for _, claim := range held {
			if err := c.Release(ctx, claim.IssueID, agentID); err != nil {
				return nil, err
			}
		}
	}
	return dead, nil
}
