package ethos

import (
	"context"

	"github.com/waggle-sh/waggle/internal/debug"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

// Violation records one metric that crossed its threshold.
type Violation struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Operator  string  `json:"operator"` // "min" or "max"
	Action    string  `json:"action"`
}

// remediation is the fixed project template filed for one action tag.
type remediation struct {
	name        string
	description string
	criteria    string
}

var remediations = map[string]remediation{
	"create-linking-project": {
		name:        "Improve work coherence",
		description: "Too many issues float outside any project. Review unattached issues and group them into projects so related work is planned together.",
		criteria:    "At least 70% of open issues belong to a project.",
	},
	"prioritize-blockers": {
		name:        "Clear blocking issues",
		description: "A large share of the graph is blocked. Identify the issues blocking the most work and resolve them first.",
		criteria:    "Less than 30% of live issues are blocked.",
	},
	"prune-or-revive": {
		name:        "Prune or revive stale issues",
		description: "Live issues are aging without progress. Close issues that no longer matter and re-prioritize the ones that do.",
		criteria:    "Mean live-issue age is under 7 days.",
	},
	"rebalance-work": {
		name:        "Rebalance agent workload",
		description: "Too little of the ready work is claimed. Bring more agents online or raise per-agent concurrency so ready issues get picked up.",
		criteria:    "At least 30% of live issues hold an active claim.",
	},
	"alert-agent-failures": {
		name:        "Investigate agent failures",
		description: "A majority of registered agents have gone silent. Investigate why agents are dying and restore the fleet.",
		criteria:    "At least half of registered agents are active.",
	},
}

// CheckViolations evaluates the snapshot against the configured thresholds.
func (e *Ethos) CheckViolations(snap *types.HealthSnapshot) []*Violation {
	var out []*Violation
	if snap.Coherence < e.thresholds.CoherenceMin {
		out = append(out, &Violation{
			Metric: "coherence", Value: snap.Coherence,
			Threshold: e.thresholds.CoherenceMin, Operator: "min",
			Action: "create-linking-project",
		})
	}
	if snap.Blockage > e.thresholds.BlockageMax {
		out = append(out, &Violation{
			Metric: "blockage", Value: snap.Blockage,
			Threshold: e.thresholds.BlockageMax, Operator: "max",
			Action: "prioritize-blockers",
		})
	}
	if snap.Staleness > e.thresholds.StalenessMax {
		out = append(out, &Violation{
			Metric: "staleness", Value: snap.Staleness,
			Threshold: e.thresholds.StalenessMax, Operator: "max",
			Action: "prune-or-revive",
		})
	}
	if snap.ClaimHealth < e.thresholds.ClaimHealthMin {
		out = append(out, &Violation{
			Metric: "claimHealth", Value: snap.ClaimHealth,
			Threshold: e.thresholds.ClaimHealthMin, Operator: "min",
			Action: "rebalance-work",
		})
	}
	if snap.AgentHealth < e.thresholds.AgentHealthMin {
		out = append(out, &Violation{
			Metric: "agentHealth", Value: snap.AgentHealth,
			Threshold: e.thresholds.AgentHealthMin, Operator: "min",
			Action: "alert-agent-failures",
		})
	}
	return out
}

// RespondToViolations files at most one active remediation project per
// violated metric. An active project already carrying remediationFor ==
// metric in its metadata suppresses a new one, so repeated cycles do not
// pile up duplicates. Returns the projects created this call.
func (e *Ethos) RespondToViolations(ctx context.Context, violations []*Violation) ([]*types.Project, error) {
	if len(violations) == 0 {
		return nil, nil
	}
	active, err := e.tracker.ListProjects(ctx, types.ProjectActive)
	if err != nil {
		return nil, err
	}
	covered := map[string]bool{}
	for _, p := range active {
		if m, ok := p.Metadata["remediationFor"].(string); ok {
			covered[m] = true
		}
	}

	var created []*types.Project
	for _, v := range violations {
		if covered[v.Metric] {
			continue
		}
		r, ok := remediations[v.Action]
		if !ok {
			debug.Logf("ethos: no remediation template for action %q", v.Action)
			continue
		}
		p, err := e.tracker.CreateProject(ctx, tracker.CreateProjectRequest{
			Name:            r.name,
			Description:     r.description,
			SuccessCriteria: r.criteria,
			Metadata: map[string]any{
				"remediationFor": v.Metric,
				"autoGenerated":  true,
				"violation": map[string]any{
					"metric":    v.Metric,
					"value":     v.Value,
					"threshold": v.Threshold,
					"operator":  v.Operator,
					"action":    v.Action,
				},
			},
		})
		if err != nil {
			return nil, err
		}
		covered[v.Metric] = true
		created = append(created, p)
	}
	return created, nil
}
