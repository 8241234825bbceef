package priority

import (
	"context"
	"sort"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// GetCriticalPath returns the longest chain of non-terminal issues linked by
// blocks edges, ordered from the deepest blocker to the endpoint it
// ultimately blocks. Ties break on first encounter.
func (p *Priority) GetCriticalPath(ctx context.Context) ([]*types.Issue, error) {
	issues, edges, err := p.liveBlocksGraph(ctx)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, nil
	}

	// predecessors[to] = issues blocking to; hasLiveSuccessor marks issues
	// with an outbound blocks edge into a non-terminal issue.
	predecessors := map[string][]string{}
	hasLiveSuccessor := map[string]bool{}
	for _, e := range edges {
		predecessors[e.ToID] = append(predecessors[e.ToID], e.FromID)
		hasLiveSuccessor[e.FromID] = true
	}

	ids := make([]string, 0, len(issues))
	for id := range issues {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best []string
	for _, id := range ids {
		if hasLiveSuccessor[id] {
			continue // not an endpoint
		}
		chain := longestChainTo(id, predecessors, map[string]bool{})
		if len(chain) > len(best) {
			best = chain
		}
	}
	if best == nil {
		// Every issue sits on a cycle; fall back to any single issue so a
		// non-empty graph always yields a path.
		best = []string{ids[0]}
	}

	out := make([]*types.Issue, len(best))
	for i, id := range best {
		out[i] = issues[id]
	}
	return out, nil
}

// longestChainTo walks inbound blocks edges from id and returns the longest
// predecessor chain ending at id, deepest first.
func longestChainTo(id string, predecessors map[string][]string, onPath map[string]bool) []string {
	onPath[id] = true
	defer delete(onPath, id)

	var best []string
	for _, pred := range predecessors[id] {
		if onPath[pred] {
			continue // cycle guard
		}
		chain := longestChainTo(pred, predecessors, onPath)
		if len(chain) > len(best) {
			best = chain
		}
	}
	return append(best, id)
}

// liveBlocksGraph loads every non-terminal issue and the blocks edges
// between them.
func (p *Priority) liveBlocksGraph(ctx context.Context) (map[string]*types.Issue, []*types.Dependency, error) {
	issueRows, err := p.db.Prepare(`
		SELECT id, description, status, project_id, parent_id, priority, labels, metadata,
		       created_at, updated_at, resolved_at
		FROM issues WHERE status NOT IN ('done', 'cancelled')
	`).All(ctx)
	if err != nil {
		return nil, nil, store.WrapStoreError("load live issues", err)
	}
	issues := make(map[string]*types.Issue, len(issueRows))
	for _, r := range issueRows {
		issue := store.IssueFromRow(r)
		issues[issue.ID] = issue
	}

	edgeRows, err := p.db.Prepare(`
		SELECT from_id, to_id, type, created_at FROM dependencies WHERE type = 'blocks'
	`).All(ctx)
	if err != nil {
		return nil, nil, store.WrapStoreError("load blocks edges", err)
	}
	edges := make([]*types.Dependency, 0, len(edgeRows))
	for _, r := range edgeRows {
		e := store.DependencyFromRow(r)
		// Edges touching terminal issues no longer shape the live graph.
		if issues[e.FromID] == nil || issues[e.ToID] == nil {
			continue
		}
		edges = append(edges, e)
	}
	return issues, edges, nil
}

// Bottleneck is a non-terminal issue ranked by how many non-terminal issues
// it directly blocks.
type Bottleneck struct {
	Issue        *types.Issue `json:"issue"`
	BlockedCount int          `json:"blocked_count"`
}

// GetBottlenecks returns the top limit (default 5) blockers.
func (p *Priority) GetBottlenecks(ctx context.Context, limit int) ([]*Bottleneck, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := p.db.Prepare(`
		SELECT i.id, i.description, i.status, i.project_id, i.parent_id, i.priority,
		       i.labels, i.metadata, i.created_at, i.updated_at, i.resolved_at,
		       COUNT(d.to_id) AS blocked_count
		FROM issues i
		JOIN dependencies d ON d.from_id = i.id AND d.type = 'blocks'
		JOIN issues t ON t.id = d.to_id
		WHERE i.status NOT IN ('done', 'cancelled')
		  AND t.status NOT IN ('done', 'cancelled')
		GROUP BY i.id
		ORDER BY blocked_count DESC, i.created_at ASC
		LIMIT ?
	`).Bind(limit).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get bottlenecks", err)
	}
	out := make([]*Bottleneck, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Bottleneck{
			Issue:        store.IssueFromRow(r),
			BlockedCount: int(r.Int64("blocked_count")),
		})
	}
	return out, nil
}
