// Package tracker provides CRUD for projects, issues, dependencies, and
// outcomes, and maintains the graph invariants that tie them together:
// blocked status always reflects an unresolved blocks edge, and resolved_at
// is set exactly when an issue reaches a terminal status.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/waggle-sh/waggle/internal/idgen"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/types"
)

// Tracker owns all project/issue/dependency/outcome state in the store.
type Tracker struct {
	db  store.DB
	now func() int64
}

// New creates a Tracker over the given store.
func New(db store.DB) *Tracker {
	return &Tracker{
		db:  db,
		now: func() int64 { return time.Now().Unix() },
	}
}

// CreateProjectRequest carries the caller-supplied fields for a new project.
type CreateProjectRequest struct {
	Name            string
	Description     string
	SuccessCriteria string
	Metadata        map[string]any
}

// CreateProject inserts a new active project.
func (t *Tracker) CreateProject(ctx context.Context, req CreateProjectRequest) (*types.Project, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("create project: name is required: %w", store.ErrInvalidArgument)
	}
	now := t.now()
	p := &types.Project{
		ID:              idgen.NewProjectID(),
		Name:            req.Name,
		Description:     req.Description,
		Status:          types.ProjectActive,
		SuccessCriteria: req.SuccessCriteria,
		Metadata:        req.Metadata,
		CreatedAt:       now,
	}
	_, err := t.db.Prepare(`
		INSERT INTO projects (id, name, description, status, success_criteria, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`).Bind(p.ID, p.Name, p.Description, string(p.Status), p.SuccessCriteria,
		store.EncodeJSON(p.Metadata, "{}"), p.CreatedAt).Run(ctx)
	if err != nil {
		return nil, store.WrapStoreError("create project", err)
	}
	return p, nil
}

// GetProject returns a project by id.
func (t *Tracker) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row, err := t.db.Prepare(`SELECT ` + store.ProjectColumns + ` FROM projects WHERE id = ?`).
		Bind(id).First(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get project", err)
	}
	if row == nil {
		return nil, fmt.Errorf("get project %s: %w", id, store.ErrNotFound)
	}
	return store.ProjectFromRow(row), nil
}

// ProjectPatch carries the fields UpdateProject may change.
type ProjectPatch struct {
	Name            *string
	Description     *string
	Status          *types.ProjectStatus
	SuccessCriteria *string
	Metadata        map[string]any
}

// UpdateProject applies a patch. Moving to completed sets completed_at.
func (t *Tracker) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (*types.Project, error) {
	if _, err := t.GetProject(ctx, id); err != nil {
		return nil, err
	}
	sets := []string{}
	args := []any{}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.SuccessCriteria != nil {
		sets = append(sets, "success_criteria = ?")
		args = append(args, *patch.SuccessCriteria)
	}
	if patch.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, store.EncodeJSON(patch.Metadata, "{}"))
	}
	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return nil, fmt.Errorf("update project: invalid status %q: %w", *patch.Status, store.ErrInvalidArgument)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
		if *patch.Status == types.ProjectCompleted {
			sets = append(sets, "completed_at = ?")
			args = append(args, t.now())
		}
	}
	if len(sets) == 0 {
		return t.GetProject(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE projects SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := t.db.Prepare(query).Bind(args...).Run(ctx); err != nil {
		return nil, store.WrapStoreError("update project", err)
	}
	return t.GetProject(ctx, id)
}

// ListProjects returns projects, optionally filtered by status.
func (t *Tracker) ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error) {
	query := `SELECT ` + store.ProjectColumns + ` FROM projects`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`
	rows, err := t.db.Prepare(query).Bind(args...).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("list projects", err)
	}
	out := make([]*types.Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.ProjectFromRow(r))
	}
	return out, nil
}

// CreateIssueRequest carries the caller-supplied fields for a new issue.
// Priority defaults to 2 when nil.
type CreateIssueRequest struct {
	Description string
	ProjectID   *string
	ParentID    *string
	Priority    *int
	Labels      []string
	Metadata    map[string]any
}

// CreateIssue inserts a new open issue.
func (t *Tracker) CreateIssue(ctx context.Context, req CreateIssueRequest) (*types.Issue, error) {
	priority := 2
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 0 || priority > 4 {
		return nil, fmt.Errorf("create issue: priority must be between 0 and 4 (got %d): %w", priority, store.ErrInvalidArgument)
	}
	if req.Description == "" {
		return nil, fmt.Errorf("create issue: description is required: %w", store.ErrInvalidArgument)
	}
	if req.ProjectID != nil {
		if _, err := t.GetProject(ctx, *req.ProjectID); err != nil {
			return nil, err
		}
	}
	if req.ParentID != nil {
		if _, err := t.GetIssue(ctx, *req.ParentID); err != nil {
			return nil, err
		}
	}

	now := t.now()
	issue := &types.Issue{
		ID:          idgen.NewIssueID(),
		Description: req.Description,
		Status:      types.StatusOpen,
		ProjectID:   req.ProjectID,
		ParentID:    req.ParentID,
		Priority:    priority,
		Labels:      req.Labels,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := t.db.Prepare(`
		INSERT INTO issues (id, description, status, project_id, parent_id, priority, labels, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`).Bind(issue.ID, issue.Description, string(issue.Status), issue.ProjectID, issue.ParentID,
		issue.Priority, store.EncodeJSON(issue.Labels, "[]"), store.EncodeJSON(issue.Metadata, "{}"),
		issue.CreatedAt, issue.UpdatedAt).Run(ctx)
	if err != nil {
		return nil, store.WrapStoreError("create issue", err)
	}
	return issue, nil
}

// GetIssue returns an issue by id.
func (t *Tracker) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	row, err := t.db.Prepare(`SELECT ` + store.IssueColumns + ` FROM issues WHERE id = ?`).
		Bind(id).First(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get issue", err)
	}
	if row == nil {
		return nil, fmt.Errorf("get issue %s: %w", id, store.ErrNotFound)
	}
	return store.IssueFromRow(row), nil
}

// IssuePatch carries the fields UpdateIssue may change.
type IssuePatch struct {
	Description *string
	Status      *types.Status
	Priority    *int
	Labels      []string
	Metadata    map[string]any
}

// UpdateIssue applies a patch and bumps updated_at. A status change to a
// terminal state sets resolved_at; moving back to open clears it.
func (t *Tracker) UpdateIssue(ctx context.Context, id string, patch IssuePatch) (*types.Issue, error) {
	if _, err := t.GetIssue(ctx, id); err != nil {
		return nil, err
	}
	now := t.now()
	sets := []string{"updated_at = ?"}
	args := []any{now}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Priority != nil {
		if *patch.Priority < 0 || *patch.Priority > 4 {
			return nil, fmt.Errorf("update issue: priority must be between 0 and 4 (got %d): %w", *patch.Priority, store.ErrInvalidArgument)
		}
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.Labels != nil {
		sets = append(sets, "labels = ?")
		args = append(args, store.EncodeJSON(patch.Labels, "[]"))
	}
	if patch.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, store.EncodeJSON(patch.Metadata, "{}"))
	}
	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return nil, fmt.Errorf("update issue: invalid status %q: %w", *patch.Status, store.ErrInvalidArgument)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
		if patch.Status.IsTerminal() {
			sets = append(sets, "resolved_at = ?")
			args = append(args, now)
		} else {
			sets = append(sets, "resolved_at = NULL")
		}
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE issues SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := t.db.Prepare(query).Bind(args...).Run(ctx); err != nil {
		return nil, store.WrapStoreError("update issue", err)
	}
	return t.GetIssue(ctx, id)
}

// ListFilter narrows ListIssues. Labels are conjunctive: an issue must carry
// every listed label.
type ListFilter struct {
	Status    types.Status
	ProjectID string
	Labels    []string
	Limit     int
	Offset    int
}

// ListIssues returns issues ordered by (priority ASC, created_at ASC).
func (t *Tracker) ListIssues(ctx context.Context, filter ListFilter) ([]*types.Issue, error) {
	whereClauses := []string{"1=1"}
	args := []any{}

	if filter.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProjectID != "" {
		whereClauses = append(whereClauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	// Labels are stored as a JSON array in TEXT; a quoted LIKE scan keeps
	// the store schema label-table free.
	for _, label := range filter.Labels {
		whereClauses = append(whereClauses, "labels LIKE ?")
		args = append(args, `%"`+label+`"%`)
	}

	query := fmt.Sprintf(`SELECT %s FROM issues WHERE %s ORDER BY priority ASC, created_at ASC`,
		store.IssueColumns, strings.Join(whereClauses, " AND "))
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := t.db.Prepare(query).Bind(args...).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("list issues", err)
	}
	out := make([]*types.Issue, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.IssueFromRow(r))
	}
	return out, nil
}

// GetReadyIssues returns open issues with no unresolved blocker and no live
// claim, ordered by (priority ASC, created_at ASC).
func (t *Tracker) GetReadyIssues(ctx context.Context, limit int) ([]*types.Issue, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := t.db.Prepare(`
		SELECT `+store.IssueColumns+` FROM issues i
		WHERE i.status = 'open'
		AND NOT EXISTS (
			SELECT 1 FROM dependencies d
			JOIN issues blocker ON blocker.id = d.from_id
			WHERE d.to_id = i.id AND d.type = 'blocks'
			  AND blocker.status NOT IN ('done', 'cancelled')
		)
		AND NOT EXISTS (
			SELECT 1 FROM claims c WHERE c.issue_id = i.id
		)
		ORDER BY i.priority ASC, i.created_at ASC
		LIMIT ?
	`).Bind(limit).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get ready issues", err)
	}
	out := make([]*types.Issue, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.IssueFromRow(r))
	}
	return out, nil
}

// GetBlockedIssues returns every open or blocked issue that has at least one
// unresolved blocker, paired with those blockers.
func (t *Tracker) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	rows, err := t.db.Prepare(`
		SELECT i.id AS blocked_id, b.id, b.description, b.status, b.project_id, b.parent_id,
		       b.priority, b.labels, b.metadata, b.created_at, b.updated_at, b.resolved_at
		FROM issues i
		JOIN dependencies d ON d.to_id = i.id AND d.type = 'blocks'
		JOIN issues b ON b.id = d.from_id
		WHERE i.status IN ('open', 'blocked')
		  AND b.status NOT IN ('done', 'cancelled')
		ORDER BY i.priority ASC, i.created_at ASC
	`).All(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get blocked issues", err)
	}

	blockers := make(map[string][]*types.Issue)
	order := []string{}
	for _, r := range rows {
		blockedID := r.String("blocked_id")
		if _, seen := blockers[blockedID]; !seen {
			order = append(order, blockedID)
		}
		blockers[blockedID] = append(blockers[blockedID], store.IssueFromRow(r))
	}

	out := make([]*types.BlockedIssue, 0, len(order))
	for _, id := range order {
		issue, err := t.GetIssue(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, &types.BlockedIssue{Issue: issue, BlockedBy: blockers[id]})
	}
	return out, nil
}

// GetStatistics returns aggregate counts over the work graph.
func (t *Tracker) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	row, err := t.db.Prepare(`
		SELECT
			(SELECT COUNT(*) FROM issues) AS total_issues,
			(SELECT COUNT(*) FROM issues WHERE status = 'open') AS open_issues,
			(SELECT COUNT(*) FROM issues WHERE status = 'in_progress') AS in_progress_issues,
			(SELECT COUNT(*) FROM issues WHERE status = 'blocked') AS blocked_issues,
			(SELECT COUNT(*) FROM issues WHERE status = 'done') AS done_issues,
			(SELECT COUNT(*) FROM issues WHERE status = 'cancelled') AS cancelled_issues,
			(SELECT COUNT(*) FROM projects WHERE status = 'active') AS active_projects,
			(SELECT COUNT(*) FROM agents) AS registered_agents,
			(SELECT COUNT(*) FROM agents WHERE status = 'active') AS active_agents,
			(SELECT COUNT(*) FROM claims) AS live_claims
	`).First(ctx)
	if err != nil {
		return nil, store.WrapStoreError("get statistics", err)
	}
	return &types.Statistics{
		TotalIssues:      int(row.Int64("total_issues")),
		OpenIssues:       int(row.Int64("open_issues")),
		InProgressIssues: int(row.Int64("in_progress_issues")),
		BlockedIssues:    int(row.Int64("blocked_issues")),
		DoneIssues:       int(row.Int64("done_issues")),
		CancelledIssues:  int(row.Int64("cancelled_issues")),
		ActiveProjects:   int(row.Int64("active_projects")),
		RegisteredAgents: int(row.Int64("registered_agents")),
		ActiveAgents:     int(row.Int64("active_agents")),
		LiveClaims:       int(row.Int64("live_claims")),
	}, nil
}
