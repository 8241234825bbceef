// Package sqlite implements the store adapter over a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/waggle-sh/waggle/internal/store"
)

// DB implements store.DB over database/sql with the ncruces SQLite driver.
type DB struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// build is compiled once per driver version instead of on every process
// start. Falls back to an in-memory cache if the cache dir is unavailable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "waggle", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Memory opens a private in-memory database, primarily for tests.
func Memory(ctx context.Context) (*DB, error) {
	return Open(ctx, ":memory:")
}

// Open opens (creating if necessary) a SQLite database at path.
// ":memory:" opens a shared in-memory database on a single connection.
func Open(ctx context.Context, path string) (*DB, error) {
	var connStr string
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	switch {
	case path == ":memory:":
		// Shared cache so multiple statements observe the same data.
		// WAL does not work for in-memory databases, so journal stays DELETE.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
		}
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isInMemory {
		// In-memory databases are isolated per connection; without this,
		// pooled connections cannot see each other's writes.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; cap the pool so write-lock
		// contention does not pile up goroutines.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Path returns the path the database was opened with.
func (d *DB) Path() string { return d.path }

// Underlying exposes the raw *sql.DB for embedders that need direct access.
func (d *DB) Underlying() *sql.DB { return d.db }

// Prepare creates a statement for the given SQL.
func (d *DB) Prepare(query string) store.Statement {
	return &statement{db: d.db, query: query}
}

// Exec runs raw SQL without arguments.
func (d *DB) Exec(ctx context.Context, query string) error {
	_, err := d.db.ExecContext(ctx, query)
	return err
}

// Close checkpoints the WAL and closes the database.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	// Without the checkpoint, writes may be stranded in the WAL between
	// short-lived processes.
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.db.Close()
}

// statement implements store.Statement. The SQL is prepared lazily by the
// driver at execution time; Bind only records arguments.
type statement struct {
	db    *sql.DB
	query string
	args  []any
}

func (s *statement) Bind(args ...any) store.Statement {
	return &statement{db: s.db, query: s.query, args: args}
}

func (s *statement) Run(ctx context.Context) (store.Result, error) {
	res, err := s.db.ExecContext(ctx, s.query, s.args...)
	if err != nil {
		return store.Result{}, err
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return store.Result{}, err
	}
	// LastInsertId never errors on SQLite; it is zero for non-inserts.
	lastID, _ := res.LastInsertId()
	return store.Result{Changes: changes, LastInsertID: lastID}, nil
}

func (s *statement) First(ctx context.Context) (store.Row, error) {
	rows, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *statement) All(ctx context.Context) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.query, s.args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []store.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
