package store

import "github.com/waggle-sh/waggle/internal/types"

// Row-to-entity conversion lives here and nowhere else, so representation
// changes stay cheap. Column lists match the converters below; SELECTs that
// feed a converter must use the matching list.

// Column lists for entity SELECTs.
const (
	IssueColumns     = "id, description, status, project_id, parent_id, priority, labels, metadata, created_at, updated_at, resolved_at"
	ProjectColumns   = "id, name, description, status, success_criteria, metadata, created_at, completed_at"
	OutcomeColumns   = "id, issue_id, agent_id, result, learnings, metadata, recorded_at"
	AgentColumns     = "agent_id, capabilities, status, last_seen_at, metadata"
	ClaimColumns     = "issue_id, agent_id, claimed_at, expires_at, heartbeat_at"
	BroadcastColumns = "id, event_type, issue_id, agent_id, payload, created_at"

	// HealthSnapshotColumns is the canonical column list for health_snapshots.
	HealthSnapshotColumns = "id, coherence, velocity, blockage, staleness, claim_health, agent_health, recorded_at"
)

// IssueFromRow converts a generic row into an Issue.
func IssueFromRow(r Row) *types.Issue {
	return &types.Issue{
		ID:          r.String("id"),
		Description: r.String("description"),
		Status:      types.Status(r.String("status")),
		ProjectID:   r.NullString("project_id"),
		ParentID:    r.NullString("parent_id"),
		Priority:    int(r.Int64("priority")),
		Labels:      r.JSONStrings("labels"),
		Metadata:    r.JSONMap("metadata"),
		CreatedAt:   r.Int64("created_at"),
		UpdatedAt:   r.Int64("updated_at"),
		ResolvedAt:  r.NullInt64("resolved_at"),
	}
}

// ProjectFromRow converts a generic row into a Project.
func ProjectFromRow(r Row) *types.Project {
	return &types.Project{
		ID:              r.String("id"),
		Name:            r.String("name"),
		Description:     r.String("description"),
		Status:          types.ProjectStatus(r.String("status")),
		SuccessCriteria: r.String("success_criteria"),
		Metadata:        r.JSONMap("metadata"),
		CreatedAt:       r.Int64("created_at"),
		CompletedAt:     r.NullInt64("completed_at"),
	}
}

// OutcomeFromRow converts a generic row into an Outcome.
func OutcomeFromRow(r Row) *types.Outcome {
	return &types.Outcome{
		ID:         r.String("id"),
		IssueID:    r.String("issue_id"),
		AgentID:    r.String("agent_id"),
		Result:     types.Result(r.String("result")),
		Learnings:  r.String("learnings"),
		Metadata:   r.JSONMap("metadata"),
		RecordedAt: r.Int64("recorded_at"),
	}
}

// AgentFromRow converts a generic row into an Agent.
func AgentFromRow(r Row) *types.Agent {
	return &types.Agent{
		AgentID:      r.String("agent_id"),
		Capabilities: r.JSONStrings("capabilities"),
		Status:       types.AgentStatus(r.String("status")),
		LastSeenAt:   r.Int64("last_seen_at"),
		Metadata:     r.JSONMap("metadata"),
	}
}

// ClaimFromRow converts a generic row into a Claim.
func ClaimFromRow(r Row) *types.Claim {
	return &types.Claim{
		IssueID:     r.String("issue_id"),
		AgentID:     r.String("agent_id"),
		ClaimedAt:   r.Int64("claimed_at"),
		ExpiresAt:   r.NullInt64("expires_at"),
		HeartbeatAt: r.Int64("heartbeat_at"),
	}
}

// BroadcastFromRow converts a generic row into a Broadcast.
func BroadcastFromRow(r Row) *types.Broadcast {
	return &types.Broadcast{
		ID:        r.Int64("id"),
		EventType: types.EventType(r.String("event_type")),
		IssueID:   r.String("issue_id"),
		AgentID:   r.String("agent_id"),
		Payload:   r.JSONMap("payload"),
		CreatedAt: r.Int64("created_at"),
	}
}

// DependencyFromRow converts a generic row into a Dependency.
func DependencyFromRow(r Row) *types.Dependency {
	return &types.Dependency{
		FromID:    r.String("from_id"),
		ToID:      r.String("to_id"),
		Type:      types.DependencyType(r.String("type")),
		CreatedAt: r.Int64("created_at"),
	}
}

// HealthSnapshotFromRow converts a generic row into a HealthSnapshot.
func HealthSnapshotFromRow(r Row) *types.HealthSnapshot {
	return &types.HealthSnapshot{
		ID:          r.Int64("id"),
		Coherence:   r.Float64("coherence"),
		Velocity:    r.Float64("velocity"),
		Blockage:    r.Float64("blockage"),
		Staleness:   r.Float64("staleness"),
		ClaimHealth: r.Float64("claim_health"),
		AgentHealth: r.Float64("agent_health"),
		RecordedAt:  r.Int64("recorded_at"),
	}
}
