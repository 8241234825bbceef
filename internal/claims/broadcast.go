package claims

import (
	"context"

	"github.com/waggle-sh/waggle/internal/debug"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// Broadcast appends to the event log. The log is best-effort by design: a
// failed insert is logged and swallowed so it never aborts the mutating
// operation it describes.
func (c *Claims) Broadcast(ctx context.Context, event types.EventType, issueID, agentID string, payload map[string]any) {
	_, err := c.db.Prepare(`
		INSERT INTO broadcasts (event_type, issue_id, agent_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`).Bind(string(event), issueID, agentID, store.EncodeJSON(payload, "{}"), c.now()).Run(ctx)
	if err != nil {
		debug.Logf("claims: broadcast %s for %s failed: %v", event, issueID, err)
	}
}

// GetBroadcasts returns up to limit events with id greater than afterID,
// oldest first. Consumers tail the log by remembering the last id they saw.
func (c *Claims) GetBroadcasts(ctx context.Context, afterID int64, limit int) ([]*types.Broadcast, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.Prepare(`
		SELECT `+store.BroadcastColumns+` FROM broadcasts WHERE id > ? ORDER BY id ASC LIMIT ?
	`).Bind(afterID, limit).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get broadcasts", err)
	}
	out := make([]*types.Broadcast, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.BroadcastFromRow(r))
	}
	return out, nil
}
