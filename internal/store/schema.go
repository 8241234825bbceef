package store

import "context"

// Schema is the engine's bootstrap SQL. It is idempotent: every statement
// uses IF NOT EXISTS, so Bootstrap may be called on every start.
// All timestamps are unix seconds.
const Schema = `
-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active'
        CHECK(status IN ('active', 'completed', 'archived', 'paused')),
    success_criteria TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);

-- Issues table
CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open'
        CHECK(status IN ('open', 'in_progress', 'blocked', 'done', 'cancelled')),
    project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
    parent_id TEXT REFERENCES issues(id) ON DELETE SET NULL,
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0 AND priority <= 4),
    labels TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    resolved_at INTEGER,
    -- resolved_at is set if and only if the issue is terminal
    CHECK (
        (status IN ('done', 'cancelled') AND resolved_at IS NOT NULL) OR
        (status NOT IN ('done', 'cancelled') AND resolved_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id);
CREATE INDEX IF NOT EXISTS idx_issues_priority_created ON issues(priority, created_at);

-- Dependencies table (directed edges; from blocks to)
CREATE TABLE IF NOT EXISTS dependencies (
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'blocks'
        CHECK(type IN ('blocks', 'informs', 'discovered_from', 'any_of')),
    created_at INTEGER NOT NULL,
    PRIMARY KEY (from_id, to_id, type),
    FOREIGN KEY (from_id) REFERENCES issues(id) ON DELETE CASCADE,
    FOREIGN KEY (to_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dependencies_to ON dependencies(to_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_type ON dependencies(type);

-- Outcomes table (append-only attempt records)
CREATE TABLE IF NOT EXISTS outcomes (
    id TEXT PRIMARY KEY,
    issue_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    result TEXT NOT NULL
        CHECK(result IN ('success', 'failure', 'partial', 'cancelled')),
    learnings TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    recorded_at INTEGER NOT NULL,
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_outcomes_issue ON outcomes(issue_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_agent ON outcomes(agent_id);

-- Claims table (exclusive leases; the PK serializes racing claimers)
CREATE TABLE IF NOT EXISTS claims (
    issue_id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    claimed_at INTEGER NOT NULL,
    expires_at INTEGER,
    heartbeat_at INTEGER NOT NULL,
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_claims_agent ON claims(agent_id);
CREATE INDEX IF NOT EXISTS idx_claims_expires ON claims(expires_at);

-- Agents table (worker registry)
CREATE TABLE IF NOT EXISTS agents (
    agent_id TEXT PRIMARY KEY,
    capabilities TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'active'
        CHECK(status IN ('active', 'idle', 'dead')),
    last_seen_at INTEGER NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);

-- Broadcasts table (append-only event log; consumers tail by id)
CREATE TABLE IF NOT EXISTS broadcasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL
        CHECK(event_type IN ('completed', 'blocked', 'discovered', 'claimed', 'released')),
    issue_id TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_broadcasts_type_created ON broadcasts(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_broadcasts_issue ON broadcasts(issue_id);

-- Health snapshots table (Ethos samples)
CREATE TABLE IF NOT EXISTS health_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    coherence REAL NOT NULL,
    velocity REAL NOT NULL,
    blockage REAL NOT NULL,
    staleness REAL NOT NULL,
    claim_health REAL NOT NULL,
    agent_health REAL NOT NULL,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_snapshots_recorded ON health_snapshots(recorded_at);

-- Config table (engine-internal settings, e.g. schema version)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT OR IGNORE INTO config (key, value) VALUES ('schema_version', '1');
`

// Bootstrap applies the schema. Safe to call repeatedly.
func Bootstrap(ctx context.Context, db DB) error {
	if err := db.Exec(ctx, Schema); err != nil {
		return WrapStoreError("bootstrap schema", err)
	}
	return nil
}
