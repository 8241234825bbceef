// Package priority scores ready issues and routes them to capable agents.
//
// Scoring is a weighted sum of five normalized factors: declared priority,
// transitive impact on blocked work, age, graph connectivity, and project
// membership. The router layers capability matching on top of the ranking.
package priority

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

// Factor weights. They sum to 1; the project factor's raw value tops out at
// 0.5, so a perfect score is 0.95.
const (
	weightPriority     = 0.30
	weightImpact       = 0.35
	weightAge          = 0.10
	weightConnectivity = 0.15
	weightProject      = 0.10
)

// candidatePool caps how many ready issues one scoring pass considers.
const candidatePool = 100

// Priority ranks ready issues.
type Priority struct {
	db      store.DB
	tracker *tracker.Tracker
	now     func() int64
}

// New creates a Priority scorer over the given store.
func New(db store.DB, trk *tracker.Tracker) *Priority {
	return &Priority{
		db:      db,
		tracker: trk,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// ScoredIssue pairs an issue with its score and a short human explanation.
type ScoredIssue struct {
	Issue  *types.Issue `json:"issue"`
	Score  float64      `json:"score"`
	Reason string       `json:"reason"`
}

// GetPrioritized scores up to 100 ready issues and returns the top limit
// (default 10) sorted by score descending.
func (p *Priority) GetPrioritized(ctx context.Context, limit int) ([]*ScoredIssue, error) {
	if limit <= 0 {
		limit = 10
	}
	ready, err := p.tracker.GetReadyIssues(ctx, candidatePool)
	if err != nil {
		return nil, err
	}

	scored := make([]*ScoredIssue, 0, len(ready))
	for _, issue := range ready {
		s, err := p.score(ctx, issue)
		if err != nil {
			return nil, err
		}
		scored = append(scored, s)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

type factor struct {
	name   string
	raw    float64 // normalized to [0,1]
	weight float64
}

func (p *Priority) score(ctx context.Context, issue *types.Issue) (*ScoredIssue, error) {
	impact, err := p.Impact(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	connectivity, err := p.edgeCount(ctx, issue.ID)
	if err != nil {
		return nil, err
	}

	ageDays := float64(p.now()-issue.CreatedAt) / 86400
	projectRaw := 0.0
	if issue.ProjectID != nil {
		projectRaw = 0.5
	}

	factors := []factor{
		{"high priority", float64(4-issue.Priority) / 4, weightPriority},
		{"unblocks downstream work", math.Min(float64(impact)/5, 1), weightImpact},
		{"aging", math.Min(ageDays/7, 1), weightAge},
		{"highly connected", math.Min(float64(connectivity)/10, 1), weightConnectivity},
		{"project work", projectRaw, weightProject},
	}

	score := 0.0
	for _, f := range factors {
		score += f.raw * f.weight
	}
	score = math.Round(score*100) / 100

	return &ScoredIssue{Issue: issue, Score: score, Reason: reason(factors)}, nil
}

// reason names up to two factors with the largest weighted contribution
// whose raw value exceeds 0.3.
func reason(factors []factor) string {
	notable := make([]factor, 0, len(factors))
	for _, f := range factors {
		if f.raw > 0.3 {
			notable = append(notable, f)
		}
	}
	if len(notable) == 0 {
		return "Default priority"
	}
	sort.SliceStable(notable, func(i, j int) bool {
		return notable[i].raw*notable[i].weight > notable[j].raw*notable[j].weight
	})
	if len(notable) > 2 {
		notable = notable[:2]
	}
	parts := make([]string, len(notable))
	for i, f := range notable {
		parts[i] = f.name
	}
	s := strings.Join(parts, ", ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// Impact counts the non-terminal issues transitively blocked by issueID.
// The walk follows outbound blocks edges through non-terminal nodes only: a
// resolved intermediate no longer transmits blockage. A visited set caps the
// walk, so cycles contribute nothing extra.
func (p *Priority) Impact(ctx context.Context, issueID string) (int, error) {
	visited := map[string]bool{issueID: true}
	return p.impactWalk(ctx, issueID, visited)
}

func (p *Priority) impactWalk(ctx context.Context, issueID string, visited map[string]bool) (int, error) {
	rows, err := p.db.Prepare(`
		SELECT d.to_id AS id FROM dependencies d
		JOIN issues i ON i.id = d.to_id
		WHERE d.from_id = ? AND d.type = 'blocks'
		  AND i.status NOT IN ('done', 'cancelled')
	`).Bind(issueID).All(ctx)
	if err != nil {
		return 0, store.WrapStoreError("impact walk", err)
	}
	count := 0
	for _, r := range rows {
		id := r.String("id")
		if visited[id] {
			continue
		}
		visited[id] = true
		count++
		sub, err := p.impactWalk(ctx, id, visited)
		if err != nil {
			return 0, err
		}
		count += sub
	}
	return count, nil
}

func (p *Priority) edgeCount(ctx context.Context, issueID string) (int, error) {
	row, err := p.db.Prepare(`
		SELECT COUNT(*) AS n FROM dependencies WHERE from_id = ? OR to_id = ?
	`).Bind(issueID, issueID).First(ctx)
	if err != nil {
		return 0, store.WrapStoreError("edge count", err)
	}
	return int(row.Int64("n")), nil
}
