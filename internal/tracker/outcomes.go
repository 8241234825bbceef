package tracker

import (
	"context"
	"fmt"

	"github.com/waggle-sh/waggle/internal/debug"
	"github.com/waggle-sh/waggle/internal/idgen"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// RecordOutcome appends an outcome for the issue and applies its side
// effects: success resolves the issue and sweeps its direct dependents for
// unblocking; cancelled resolves the issue as a dead end; failure and
// partial leave the status untouched so the issue can be retried.
//
// A second outcome on an already-terminal issue is accepted and appended
// without changing the status.
func (t *Tracker) RecordOutcome(ctx context.Context, issueID, agentID string, result types.Result, learnings string, metadata map[string]any) (*types.Outcome, error) {
	if !result.IsValid() {
		return nil, fmt.Errorf("record outcome: invalid result %q: %w", result, store.ErrInvalidArgument)
	}
	issue, err := t.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	outcome := &types.Outcome{
		ID:         idgen.NewOutcomeID(),
		IssueID:    issueID,
		AgentID:    agentID,
		Result:     result,
		Learnings:  learnings,
		Metadata:   metadata,
		RecordedAt: t.now(),
	}
	// The outcome insert and its status side effects run as one atomic
	// batch, so a half-applied completion can never be observed.
	stmts := []store.Statement{
		t.db.Prepare(`
			INSERT INTO outcomes (id, issue_id, agent_id, result, learnings, metadata, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`).Bind(outcome.ID, outcome.IssueID, outcome.AgentID, string(outcome.Result),
			outcome.Learnings, store.EncodeJSON(outcome.Metadata, "{}"), outcome.RecordedAt),
	}
	resolves := !issue.Status.IsTerminal() &&
		(result == types.ResultSuccess || result == types.ResultCancelled)
	if resolves {
		terminal := types.StatusDone
		if result == types.ResultCancelled {
			terminal = types.StatusCancelled
		}
		stmts = append(stmts, t.db.Prepare(`
			UPDATE issues SET status = ?, resolved_at = ?, updated_at = ?
			WHERE id = ? AND status NOT IN ('done', 'cancelled')
		`).Bind(string(terminal), outcome.RecordedAt, outcome.RecordedAt, issueID))
	}
	if resolves && result == types.ResultSuccess {
		// Single-level dependent sweep: reopen direct targets whose last
		// live blocker this resolution removed. Dependents of a cancelled
		// issue stay blocked; cancellation is a dead end, not a resolution
		// of the work the blockers were waiting for.
		stmts = append(stmts, t.db.Prepare(`
			UPDATE issues SET status = 'open', updated_at = ?
			WHERE status = 'blocked'
			AND id IN (SELECT to_id FROM dependencies WHERE from_id = ? AND type = 'blocks')
			AND NOT EXISTS (
				SELECT 1 FROM dependencies d
				JOIN issues blocker ON blocker.id = d.from_id
				WHERE d.to_id = issues.id AND d.type = 'blocks'
				  AND blocker.status NOT IN ('done', 'cancelled')
			)
		`).Bind(outcome.RecordedAt, issueID))
	}
	if _, err := t.db.Batch(ctx, stmts); err != nil {
		return nil, store.WrapStoreError("record outcome", err)
	}
	if resolves {
		t.emitBroadcast(ctx, types.EventCompleted, issueID, agentID, map[string]any{"result": string(result)})
	}
	return outcome, nil
}

// GetOutcomes returns the outcomes recorded for an issue, oldest first.
func (t *Tracker) GetOutcomes(ctx context.Context, issueID string) ([]*types.Outcome, error) {
	rows, err := t.db.Prepare(`SELECT `+store.OutcomeColumns+` FROM outcomes WHERE issue_id = ? ORDER BY recorded_at ASC, id ASC`).
		Bind(issueID).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get outcomes", err)
	}
	out := make([]*types.Outcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.OutcomeFromRow(r))
	}
	return out, nil
}

// emitBroadcast appends to the broadcast log. The log is best-effort: a
// failed insert must not abort the mutating operation it describes.
func (t *Tracker) emitBroadcast(ctx context.Context, event types.EventType, issueID, agentID string, payload map[string]any) {
	_, err := t.db.Prepare(`
		INSERT INTO broadcasts (event_type, issue_id, agent_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`).Bind(string(event), issueID, agentID, store.EncodeJSON(payload, "{}"), t.now()).Run(ctx)
	if err != nil {
		debug.Logf("tracker: broadcast %s for %s failed: %v", event, issueID, err)
	}
}
