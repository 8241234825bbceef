package tracker

import (
	"context"
	"fmt"

	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// AddDependency inserts a directed edge from → to. Adding the same edge
// twice is a no-op. A blocks edge whose blocker is unresolved transitions an
// open target to blocked; an edge that would close a cycle in the blocks
// subgraph is rejected.
func (t *Tracker) AddDependency(ctx context.Context, from, to string, depType types.DependencyType) error {
	if !depType.IsValid() {
		return fmt.Errorf("add dependency: invalid type %q: %w", depType, store.ErrInvalidArgument)
	}
	if from == to {
		return fmt.Errorf("add dependency: issue cannot depend on itself: %w", store.ErrInvalidArgument)
	}
	blocker, err := t.GetIssue(ctx, from)
	if err != nil {
		return err
	}
	target, err := t.GetIssue(ctx, to)
	if err != nil {
		return err
	}

	// Cycle rejection is scoped to the live graph: a resolved blocker no
	// longer blocks, so edges through it cannot close a live cycle, and an
	// edge whose own blocker is terminal is inert from the start.
	if depType.AffectsReadiness() && !blocker.Status.IsTerminal() {
		cycle, err := t.wouldCreateCycle(ctx, from, to)
		if err != nil {
			return err
		}
		if cycle {
			return fmt.Errorf("add dependency: %s -> %s would create a cycle: %w", from, to, store.ErrInvalidArgument)
		}
	}

	now := t.now()
	stmts := []store.Statement{
		t.db.Prepare(`
			INSERT OR IGNORE INTO dependencies (from_id, to_id, type, created_at)
			VALUES (?, ?, ?, ?)
		`).Bind(from, to, string(depType), now),
	}
	marksBlocked := depType.AffectsReadiness() && !blocker.Status.IsTerminal() && target.Status == types.StatusOpen
	if marksBlocked {
		stmts = append(stmts, t.db.Prepare(`
			UPDATE issues SET status = 'blocked', updated_at = ? WHERE id = ? AND status = 'open'
		`).Bind(now, to))
	}
	results, err := t.db.Batch(ctx, stmts)
	if err != nil {
		return store.WrapStoreError("add dependency", err)
	}
	if results[0].Changes == 0 {
		return nil // edge already present
	}

	switch {
	case marksBlocked:
		t.emitBroadcast(ctx, types.EventBlocked, to, "", map[string]any{"blocked_by": from})
	case depType == types.DepDiscoveredFrom:
		t.emitBroadcast(ctx, types.EventDiscovered, to, "", map[string]any{"discovered_from": from})
	}
	return nil
}

// RemoveDependency deletes the edge. Removing a blocks edge re-evaluates the
// target: a blocked issue with no remaining unresolved blockers reopens.
func (t *Tracker) RemoveDependency(ctx context.Context, from, to string, depType types.DependencyType) error {
	stmts := []store.Statement{
		t.db.Prepare(`
			DELETE FROM dependencies WHERE from_id = ? AND to_id = ? AND type = ?
		`).Bind(from, to, string(depType)),
	}
	if depType.AffectsReadiness() {
		// Reopen in the same transaction; the guard re-checks remaining
		// blockers against post-delete state.
		stmts = append(stmts, t.db.Prepare(`
			UPDATE issues SET status = 'open', updated_at = ?
			WHERE id = ? AND status = 'blocked'
			AND NOT EXISTS (
				SELECT 1 FROM dependencies d
				JOIN issues blocker ON blocker.id = d.from_id
				WHERE d.to_id = issues.id AND d.type = 'blocks'
				  AND blocker.status NOT IN ('done', 'cancelled')
			)
		`).Bind(t.now(), to))
	}
	results, err := t.db.Batch(ctx, stmts)
	if err != nil {
		return store.WrapStoreError("remove dependency", err)
	}
	if results[0].Changes == 0 {
		return fmt.Errorf("remove dependency: no %s edge %s -> %s: %w", depType, from, to, store.ErrNotFound)
	}
	return nil
}

// GetDependencies returns every edge touching the issue, in either direction.
func (t *Tracker) GetDependencies(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	rows, err := t.db.Prepare(`
		SELECT from_id, to_id, type, created_at FROM dependencies
		WHERE from_id = ? OR to_id = ?
		ORDER BY created_at ASC
	`).Bind(issueID, issueID).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get dependencies", err)
	}
	out := make([]*types.Dependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.DependencyFromRow(r))
	}
	return out, nil
}

// GetBlocksTargets returns the ids of issues directly blocked by issueID.
func (t *Tracker) GetBlocksTargets(ctx context.Context, issueID string) ([]string, error) {
	rows, err := t.db.Prepare(`
		SELECT to_id FROM dependencies WHERE from_id = ? AND type = 'blocks'
	`).Bind(issueID).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get blocks targets", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String("to_id"))
	}
	return out, nil
}

// wouldCreateCycle reports whether from is already reachable from to through
// live blocks edges, in which case from → to would close a cycle. Edges whose
// blocker is terminal are skipped: a resolved blocker transmits nothing, so
// paths through it cannot make a cycle live. The walk is bounded at depth 100.
func (t *Tracker) wouldCreateCycle(ctx context.Context, from, to string) (bool, error) {
	row, err := t.db.Prepare(`
		WITH RECURSIVE paths AS (
			SELECT d.from_id, d.to_id, 1 AS depth
			FROM dependencies d
			JOIN issues blocker ON blocker.id = d.from_id
			WHERE d.from_id = ? AND d.type = 'blocks'
			  AND blocker.status NOT IN ('done', 'cancelled')

			UNION ALL

			SELECT d.from_id, d.to_id, p.depth + 1
			FROM dependencies d
			JOIN issues blocker ON blocker.id = d.from_id
			JOIN paths p ON d.from_id = p.to_id
			WHERE d.type = 'blocks' AND p.depth < 100
			  AND blocker.status NOT IN ('done', 'cancelled')
		)
		SELECT EXISTS(SELECT 1 FROM paths WHERE to_id = ?) AS cycle
	`).Bind(to, from).First(ctx)
	if err != nil {
		return false, store.WrapStoreError("check dependency cycle", err)
	}
	return row != nil && row.Int64("cycle") != 0, nil
}
