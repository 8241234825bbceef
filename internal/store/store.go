// Package store defines the storage adapter contract for the coordination
// engine.
//
// The engine emits SQLite-flavored SQL through a thin prepare/bind/run
// abstraction so that embedders can supply their own store (a local SQLite
// file, an in-memory database for tests, or any backend that speaks the same
// dialect). The concrete implementation lives in the sqlite sub-package.
package store

import "context"

// Row is a generic result row keyed by column name.
//
// Every read path converts rows into typed entities exactly once, in the
// package that owns the entity. Use the accessor helpers in row.go rather
// than type-asserting column values directly; drivers disagree about
// integer widths and null representation.
type Row map[string]any

// Result reports the effect of a mutating statement.
type Result struct {
	Changes      int64 // rows affected
	LastInsertID int64 // rowid of the last insert, when the driver reports one
}

// Statement is a prepared SQL statement with bound arguments.
// Bind is fluent and returns a statement that can be executed once or reused.
type Statement interface {
	// Bind attaches positional arguments and returns the statement.
	Bind(args ...any) Statement

	// Run executes the statement and reports rows affected.
	Run(ctx context.Context) (Result, error)

	// First executes the statement and returns the first row, or nil when
	// the result set is empty.
	First(ctx context.Context) (Row, error)

	// All executes the statement and returns every row.
	All(ctx context.Context) ([]Row, error)
}

// DB is the storage adapter the embedder supplies to the engine.
type DB interface {
	// Prepare creates a statement for the given SQL. Preparation errors
	// surface on execution, not here.
	Prepare(query string) Statement

	// Exec runs raw SQL without arguments. Used for schema bootstrap.
	Exec(ctx context.Context, query string) error

	// Batch executes a group of statements atomically: all of them commit
	// or none of them do.
	Batch(ctx context.Context, stmts []Statement) ([]Result, error)

	// Close releases the underlying connection.
	Close() error
}
