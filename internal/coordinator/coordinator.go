// Package coordinator wires the tracker, claims, priority, router, and
// ethos components over one store behind a small facade for embedders that
// want the whole engine rather than its parts.
package coordinator

import (
	"context"
	"time"

	"github.com/waggle-sh/waggle/internal/claims"
	"github.com/waggle-sh/waggle/internal/ethos"
	"github.com/waggle-sh/waggle/internal/priority"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

// Options tune the engine's sub-components. The zero value takes every
// default.
type Options struct {
	ClaimTTL        time.Duration
	HeartbeatPeriod time.Duration
	DeadAgentAfter  time.Duration
	Thresholds      ethos.Thresholds
}

// Coordinator is the engine facade. The sub-components are exported for
// embedders that need finer-grained control.
type Coordinator struct {
	DB       store.DB
	Tracker  *tracker.Tracker
	Claims   *claims.Claims
	Priority *priority.Priority
	Router   *priority.Router
	Ethos    *ethos.Ethos
}

// New wires a Coordinator over the given store.
func New(db store.DB, opts Options) *Coordinator {
	trk := tracker.New(db)
	clm := claims.New(db, claims.Options{
		ClaimTTL:        opts.ClaimTTL,
		HeartbeatPeriod: opts.HeartbeatPeriod,
		DeadAgentAfter:  opts.DeadAgentAfter,
	})
	pri := priority.New(db, trk)
	rtr := priority.NewRouter(db, pri, clm)
	eth := ethos.New(db, trk, clm, opts.Thresholds)
	return &Coordinator{
		DB:       db,
		Tracker:  trk,
		Claims:   clm,
		Priority: pri,
		Router:   rtr,
		Ethos:    eth,
	}
}

// Initialize bootstraps the schema. Idempotent.
func (c *Coordinator) Initialize(ctx context.Context) error {
	return store.Bootstrap(ctx, c.DB)
}

// Work is what GetNextWork hands an agent: the chosen issue and whether the
// claim stuck.
type Work struct {
	Issue   *types.Issue `json:"issue"`
	Claimed bool         `json:"claimed"`
}

// GetNextWork registers (or heartbeats) the agent, routes the best ready
// issue to it, and attempts a claim. Returns nil when nothing suits the
// agent. Claimed is false when another agent won the race; the issue is
// still returned so the caller can observe what it lost.
func (c *Coordinator) GetNextWork(ctx context.Context, agentID string, capabilities []string) (*Work, error) {
	if _, err := c.Claims.RegisterAgent(ctx, agentID, capabilities, nil); err != nil {
		return nil, err
	}
	issue, err := c.Router.GetNextFor(ctx, agentID, priority.RouteOptions{})
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, nil
	}
	claimed, err := c.Claims.Claim(ctx, issue.ID, agentID)
	if err != nil {
		return nil, err
	}
	return &Work{Issue: issue, Claimed: claimed}, nil
}

// CompleteWork records the outcome and releases the agent's claim, in that
// order, so a successful completion never transits back through open.
// Returns the ids of issues the completed one directly blocks; the actual
// unblocking already happened inside RecordOutcome.
func (c *Coordinator) CompleteWork(ctx context.Context, issueID, agentID string, result types.Result, learnings string) ([]string, error) {
	if _, err := c.Tracker.RecordOutcome(ctx, issueID, agentID, result, learnings, nil); err != nil {
		return nil, err
	}
	if err := c.Claims.Release(ctx, issueID, agentID); err != nil {
		return nil, err
	}
	return c.Tracker.GetBlocksTargets(ctx, issueID)
}

// RunHealthCheck performs one full housekeeping cycle.
func (c *Coordinator) RunHealthCheck(ctx context.Context) (*ethos.CycleReport, error) {
	return c.Ethos.RunCycle(ctx)
}
