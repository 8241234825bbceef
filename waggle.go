// Package waggle provides a minimal public API for embedding the
// coordination engine.
//
// Embedders open a store, wire a Coordinator over it, and drive the work
// loop: GetNextWork, do the work externally, CompleteWork. The
// sub-components hanging off the Coordinator expose the finer-grained
// operations for callers that need them.
package waggle

import (
	"context"

	"github.com/waggle-sh/waggle/internal/claims"
	"github.com/waggle-sh/waggle/internal/coordinator"
	"github.com/waggle-sh/waggle/internal/ethos"
	"github.com/waggle-sh/waggle/internal/priority"
	"github.com/waggle-sh/waggle/internal/store"
	"github.com/waggle-sh/waggle/internal/store/sqlite"
	"github.com/waggle-sh/waggle/internal/telemetry"
	"github.com/waggle-sh/waggle/internal/tracker"
	"github.com/waggle-sh/waggle/internal/types"
)

// Core entity types.
type (
	Project        = types.Project
	Issue          = types.Issue
	Dependency     = types.Dependency
	Outcome        = types.Outcome
	Agent          = types.Agent
	Claim          = types.Claim
	Broadcast      = types.Broadcast
	HealthSnapshot = types.HealthSnapshot
	Status         = types.Status
	Result         = types.Result
	DependencyType = types.DependencyType
)

// Issue status constants.
const (
	StatusOpen       = types.StatusOpen
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusDone       = types.StatusDone
	StatusCancelled  = types.StatusCancelled
)

// Outcome result constants.
const (
	ResultSuccess   = types.ResultSuccess
	ResultFailure   = types.ResultFailure
	ResultPartial   = types.ResultPartial
	ResultCancelled = types.ResultCancelled
)

// Dependency type constants.
const (
	DepBlocks         = types.DepBlocks
	DepInforms        = types.DepInforms
	DepDiscoveredFrom = types.DepDiscoveredFrom
	DepAnyOf          = types.DepAnyOf
)

// Engine components, exported for embedders needing direct access.
type (
	Coordinator = coordinator.Coordinator
	Options     = coordinator.Options
	Tracker     = tracker.Tracker
	Claims      = claims.Claims
	Priority    = priority.Priority
	Router      = priority.Router
	Ethos       = ethos.Ethos
	DB          = store.DB
)

// Sentinel errors.
var (
	ErrNotFound        = store.ErrNotFound
	ErrInvalidArgument = store.ErrInvalidArgument
	ErrStore           = store.ErrStore
)

// Open opens (or creates) a SQLite-backed engine at dbPath. ":memory:"
// yields an ephemeral in-memory engine. The store is wrapped with OTel
// instrumentation when telemetry is enabled.
func Open(ctx context.Context, dbPath string, opts Options) (*Coordinator, error) {
	db, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return coordinator.New(telemetry.WrapDB(db), opts), nil
}

// New wires an engine over a caller-supplied store.
func New(db DB, opts Options) *Coordinator {
	return coordinator.New(db, opts)
}
