package priority

import (
	"context"
	"math"
	"time"

	"github.com/waggle-sh/waggle/internal/claims"
	"github.com/waggle-sh/waggle/internal/debug"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// routerPool caps how many prioritized issues one routing pass considers.
const routerPool = 50

// Router assigns ranked ready issues to capable agents.
type Router struct {
	db       store.DB
	priority *Priority
	claims   *claims.Claims
	now      func() int64
}

// NewRouter creates a Router over the given scorer and claims manager.
func NewRouter(db store.DB, pri *Priority, clm *claims.Claims) *Router {
	return &Router{
		db:       db,
		priority: pri,
		claims:   clm,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// RouteOptions tune GetNextFor.
type RouteOptions struct {
	MaxConcurrent int      // defaults to 1
	PreferLabels  []string // soft preference among capability-matched issues
}

// GetNextFor returns the best ready issue for the agent, or nil when the
// agent is at capacity or nothing is ready.
//
// The capability gate only applies when both the issue's labels and the
// agent's capabilities are non-empty: an unlabeled issue matches anyone, and
// an agent without declared capabilities matches anything. When nothing
// passes the gate the top prioritized issue is returned regardless, so work
// never strands on a fussy capability setup.
func (r *Router) GetNextFor(ctx context.Context, agentID string, opts RouteOptions) (*types.Issue, error) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	held, err := r.claims.GetAgentClaims(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(held) >= maxConcurrent {
		debug.Logf("router: agent %s at capacity (%d claims)", agentID, len(held))
		return nil, nil
	}

	agent, err := r.claims.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	ranked, err := r.priority.GetPrioritized(ctx, routerPool)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	var firstMatch *types.Issue
	for _, s := range ranked {
		if !capabilityMatch(s.Issue.Labels, agent.Capabilities) {
			continue
		}
		if firstMatch == nil {
			firstMatch = s.Issue
		}
		if len(opts.PreferLabels) > 0 && s.Issue.SharesLabel(opts.PreferLabels) {
			return s.Issue, nil
		}
	}
	if firstMatch != nil {
		return firstMatch, nil
	}
	return ranked[0].Issue, nil
}

// capabilityMatch reports whether the agent may take the issue. The gate only
// bites when both sides are non-empty.
func capabilityMatch(labels, capabilities []string) bool {
	if len(labels) == 0 || len(capabilities) == 0 {
		return true
	}
	set := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		set[c] = true
	}
	for _, l := range labels {
		if set[l] {
			return true
		}
	}
	return false
}

// AgentScore pairs an agent with its fitness for a particular issue.
type AgentScore struct {
	Agent *types.Agent `json:"agent"`
	Score float64      `json:"score"`
}

// GetBestAgentFor ranks every active agent for the issue and returns the top
// scorer, or nil when no agent is active.
//
// Fitness is a weighted sum: capability-match count (30%), inverse current
// workload (30%), heartbeat recency (20%), and experience, counted as prior
// successful outcomes on issues sharing a label with this one, capped at
// five (20%).
func (r *Router) GetBestAgentFor(ctx context.Context, issueID string) (*types.Agent, error) {
	issue, err := r.priority.tracker.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	agents, err := r.claims.ListAgents(ctx, types.AgentActive)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}

	now := r.now()
	var best *AgentScore
	for _, agent := range agents {
		held, err := r.claims.GetAgentClaims(ctx, agent.AgentID)
		if err != nil {
			return nil, err
		}
		exp, err := r.experience(ctx, agent.AgentID, issue.Labels)
		if err != nil {
			return nil, err
		}

		capRaw := 0.0
		if len(issue.Labels) > 0 {
			capRaw = float64(sharedLabelCount(issue.Labels, agent.Capabilities)) / float64(len(issue.Labels))
		}
		workloadRaw := 1.0 / float64(1+len(held))
		minutesSilent := float64(now-agent.LastSeenAt) / 60
		recencyRaw := 1.0 / (1 + math.Max(0, minutesSilent))
		expRaw := math.Min(float64(exp)/5, 1)

		score := capRaw*0.30 + workloadRaw*0.30 + recencyRaw*0.20 + expRaw*0.20
		if best == nil || score > best.Score {
			best = &AgentScore{Agent: agent, Score: score}
		}
	}
	return best.Agent, nil
}

func sharedLabelCount(labels, capabilities []string) int {
	set := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		set[c] = true
	}
	n := 0
	for _, l := range labels {
		if set[l] {
			n++
		}
	}
	return n
}

// experience counts the agent's successful outcomes on issues that share at
// least one label with the given set.
func (r *Router) experience(ctx context.Context, agentID string, labels []string) (int, error) {
	if len(labels) == 0 {
		return 0, nil
	}
	rows, err := r.db.Prepare(`
		SELECT i.labels FROM outcomes o
		JOIN issues i ON i.id = o.issue_id
		WHERE o.agent_id = ? AND o.result = 'success'
	`).Bind(agentID).All(ctx)
	if err != nil {
		return 0, store.WrapStoreError("agent experience", err)
	}
	n := 0
	for _, row := range rows {
		if anyShared(labels, row.JSONStrings("labels")) {
			n++
		}
	}
	return n, nil
}

func anyShared(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if set[s] {
			return true
		}
	}
	return false
}

// Assignment records one successful claim made by AutoAssign.
type Assignment struct {
	Issue *types.Issue `json:"issue"`
	Agent *types.Agent `json:"agent"`
}

// AutoAssign walks up to limit (default 10) prioritized issues, picks the
// best agent for each, and attempts a claim. Lost races are skipped silently;
// only claims that stuck are returned.
func (r *Router) AutoAssign(ctx context.Context, limit int) ([]*Assignment, error) {
	if limit <= 0 {
		limit = 10
	}
	ranked, err := r.priority.GetPrioritized(ctx, limit)
	if err != nil {
		return nil, err
	}

	assigned := []*Assignment{}
	for _, s := range ranked {
		agent, err := r.GetBestAgentFor(ctx, s.Issue.ID)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			break // no active agents at all
		}
		ok, err := r.claims.Claim(ctx, s.Issue.ID, agent.AgentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		assigned = append(assigned, &Assignment{Issue: s.Issue, Agent: agent})
	}
	return assigned, nil
}

// Workload summarizes one active agent's current and recent activity.
type Workload struct {
	AgentID           string `json:"agent_id"`
	ClaimCount        int    `json:"claim_count"`
	RecentCompletions int    `json:"recent_completions"` // successes in the last hour
}

// GetWorkloadDistribution returns per-active-agent claim counts and
// successful completions over the last hour.
func (r *Router) GetWorkloadDistribution(ctx context.Context) ([]*Workload, error) {
	cutoff := r.now() - 3600
	rows, err := r.db.Prepare(`
		SELECT a.agent_id,
		       (SELECT COUNT(*) FROM claims c WHERE c.agent_id = a.agent_id) AS claim_count,
		       (SELECT COUNT(*) FROM outcomes o
		        WHERE o.agent_id = a.agent_id AND o.result = 'success' AND o.recorded_at >= ?) AS recent_completions
		FROM agents a
		WHERE a.status = 'active'
		ORDER BY a.agent_id ASC
	`).Bind(cutoff).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("workload distribution", err)
	}
	out := make([]*Workload, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Workload{
			AgentID:           r.String("agent_id"),
			ClaimCount:        int(r.Int64("claim_count")),
			RecentCompletions: int(r.Int64("recent_completions")),
		})
	}
	return out, nil
}
