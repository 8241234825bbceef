// Package types defines core data structures for the waggle coordination engine.
package types

import (
	"fmt"
)

// Project is a durable directive that groups issues toward a goal.
type Project struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Status          ProjectStatus  `json:"status,omitempty"`
	SuccessCriteria string         `json:"success_criteria,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	CompletedAt     *int64         `json:"completed_at,omitempty"`
}

// ProjectStatus represents the lifecycle state of a project
type ProjectStatus string

// Project status constants
const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
	ProjectPaused    ProjectStatus = "paused"
)

// IsValid checks if the project status value is valid
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectArchived, ProjectPaused:
		return true
	}
	return false
}

// Issue represents the unit of work; a node in the dependency graph.
// All timestamps are unix seconds.
type Issue struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Status      Status         `json:"status,omitempty"`
	ProjectID   *string        `json:"project_id,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Priority    int            `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	Labels      []string       `json:"labels,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	ResolvedAt  *int64         `json:"resolved_at,omitempty"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if len(i.Description) == 0 {
		return fmt.Errorf("description is required")
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	// resolved_at invariant: set if and only if the issue is terminal
	if i.Status.IsTerminal() && i.ResolvedAt == nil {
		return fmt.Errorf("%s issues must have resolved_at timestamp", i.Status)
	}
	if !i.Status.IsTerminal() && i.ResolvedAt != nil {
		return fmt.Errorf("non-terminal issues cannot have resolved_at timestamp")
	}
	return nil
}

// HasLabel reports whether the issue carries the given label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SharesLabel reports whether the issue shares at least one label with the
// given set. Used for capability gating in the router.
func (i *Issue) SharesLabel(labels []string) bool {
	for _, l := range labels {
		if i.HasLabel(l) {
			return true
		}
	}
	return false
}

// Status represents the current state of an issue
type Status string

// Issue status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends an issue's lifecycle.
// Terminal issues never block anything and never re-enter the ready pool.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Dependency represents a directed edge between issues.
// FromID → ToID; for a blocks edge, FromID blocks ToID.
type Dependency struct {
	FromID    string         `json:"from_id"`
	ToID      string         `json:"to_id"`
	Type      DependencyType `json:"type"`
	CreatedAt int64          `json:"created_at"`
}

// DependencyType categorizes the relationship
type DependencyType string

// Dependency type constants
const (
	// DepBlocks is the only workflow type: it affects status transitions
	// and the ready work calculation.
	DepBlocks DependencyType = "blocks"

	// Informational types: hints for agents and tooling, no status effect.
	DepInforms        DependencyType = "informs"
	DepDiscoveredFrom DependencyType = "discovered_from"
	DepAnyOf          DependencyType = "any_of"
)

// IsValid checks if the dependency type value is valid
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepInforms, DepDiscoveredFrom, DepAnyOf:
		return true
	}
	return false
}

// AffectsReadiness returns true if this dependency type blocks work.
func (d DependencyType) AffectsReadiness() bool {
	return d == DepBlocks
}

// Outcome is the append-only record of an agent's attempt on an issue.
type Outcome struct {
	ID         string         `json:"id"`
	IssueID    string         `json:"issue_id"`
	AgentID    string         `json:"agent_id"`
	Result     Result         `json:"result"`
	Learnings  string         `json:"learnings,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RecordedAt int64          `json:"recorded_at"`
}

// Result categorizes how an attempt on an issue ended
type Result string

// Outcome result constants
const (
	ResultSuccess   Result = "success"
	ResultFailure   Result = "failure"
	ResultPartial   Result = "partial"
	ResultCancelled Result = "cancelled"
)

// IsValid checks if the result value is valid
func (r Result) IsValid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultPartial, ResultCancelled:
		return true
	}
	return false
}

// Agent is a registered worker identified by a caller-chosen ID.
type Agent struct {
	AgentID      string         `json:"agent_id"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Status       AgentStatus    `json:"status,omitempty"`
	LastSeenAt   int64          `json:"last_seen_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AgentStatus represents the liveness state of an agent
type AgentStatus string

// Agent status constants
const (
	AgentActive AgentStatus = "active"
	AgentIdle   AgentStatus = "idle"
	AgentDead   AgentStatus = "dead"
)

// IsValid checks if the agent status value is valid
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentActive, AgentIdle, AgentDead:
		return true
	}
	return false
}

// Claim is an exclusive lease on an issue. The primary key on IssueID
// guarantees at most one live claim per issue.
type Claim struct {
	IssueID     string `json:"issue_id"`
	AgentID     string `json:"agent_id"`
	ClaimedAt   int64  `json:"claimed_at"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"` // nil = never expires
	HeartbeatAt int64  `json:"heartbeat_at"`
}

// Expired reports whether the claim's lease has lapsed as of now (unix seconds).
func (c *Claim) Expired(now int64) bool {
	return c.ExpiresAt != nil && *c.ExpiresAt <= now
}

// Broadcast is an append-only event log entry. Consumers tail by ID.
type Broadcast struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	IssueID   string         `json:"issue_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// EventType categorizes broadcast log events
type EventType string

// Broadcast event type constants
const (
	EventCompleted  EventType = "completed"
	EventBlocked    EventType = "blocked"
	EventDiscovered EventType = "discovered"
	EventClaimed    EventType = "claimed"
	EventReleased   EventType = "released"
)

// IsValid checks if the event type value is valid
func (e EventType) IsValid() bool {
	switch e {
	case EventCompleted, EventBlocked, EventDiscovered, EventClaimed, EventReleased:
		return true
	}
	return false
}

// HealthSnapshot is a periodic sample of graph health metrics.
type HealthSnapshot struct {
	ID          int64   `json:"id"`
	Coherence   float64 `json:"coherence"`
	Velocity    float64 `json:"velocity"`
	Blockage    float64 `json:"blockage"`
	Staleness   float64 `json:"staleness"`
	ClaimHealth float64 `json:"claim_health"`
	AgentHealth float64 `json:"agent_health"`
	RecordedAt  int64   `json:"recorded_at"`
}

// BlockedIssue pairs an issue with the unresolved blockers holding it back.
type BlockedIssue struct {
	Issue     *Issue   `json:"issue"`
	BlockedBy []*Issue `json:"blocked_by"`
}

// Statistics holds aggregate counts over the work graph
type Statistics struct {
	TotalIssues      int `json:"total_issues"`
	OpenIssues       int `json:"open_issues"`
	InProgressIssues int `json:"in_progress_issues"`
	BlockedIssues    int `json:"blocked_issues"`
	DoneIssues       int `json:"done_issues"`
	CancelledIssues  int `json:"cancelled_issues"`
	ActiveProjects   int `json:"active_projects"`
	RegisteredAgents int `json:"registered_agents"`
	ActiveAgents     int `json:"active_agents"`
	LiveClaims       int `json:"live_claims"`
}
