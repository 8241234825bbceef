package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/waggle-sh/waggle/internal/store"
)

// Batch executes a group of statements atomically.
//
// The transaction uses BEGIN IMMEDIATE to acquire the write lock up front,
// preventing deadlocks when multiple goroutines compete for it. SQLITE_BUSY
// on begin is retried with exponential backoff; busy_timeout covers
// contention on the individual statements.
func (d *DB) Batch(ctx context.Context, stmts []store.Statement) ([]store.Result, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for batch: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	results := make([]store.Result, 0, len(stmts))
	for _, st := range stmts {
		s, ok := st.(*statement)
		if !ok {
			return nil, fmt.Errorf("batch: statement not prepared by this adapter (%T)", st)
		}
		res, err := conn.ExecContext(ctx, s.query, s.args...)
		if err != nil {
			return nil, err
		}
		changes, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		lastID, _ := res.LastInsertId()
		results = append(results, store.Result{Changes: changes, LastInsertID: lastID})
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	committed = true
	return results, nil
}

// beginImmediate starts an IMMEDIATE transaction, retrying SQLITE_BUSY with
// exponential backoff.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(10*time.Millisecond),
			backoff.WithMaxInterval(250*time.Millisecond),
		), 5), ctx)

	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, policy)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
