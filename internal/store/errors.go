package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for the engine's error taxonomy
var (
	// ErrNotFound indicates an id did not resolve to a row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed input: priority out of range,
	// unknown enum value, a dependency edge that would close a cycle.
	// Not retryable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStore indicates a failure reported by the storage adapter:
	// connection loss, query syntax, or a constraint violation other than
	// the expected claim race.
	ErrStore = errors.New("store error")
)

// WrapStoreError wraps an adapter error with operation context.
// It converts sql.ErrNoRows to ErrNotFound and tags everything else with
// ErrStore for consistent errors.Is handling.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errors.Is(err, ErrInvalidArgument) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, ErrStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStore, err)
}

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidArgument checks if an error is or wraps ErrInvalidArgument
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
