package waggle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waggle-sh/waggle/internal/tracker"
)

func TestOpenAndWorkLoop(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.DB.Close() })
	require.NoError(t, engine.Initialize(ctx))

	issue, err := engine.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "first task"})
	require.NoError(t, err)

	work, err := engine.GetNextWork(ctx, "a1", nil)
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.True(t, work.Claimed)
	assert.Equal(t, issue.ID, work.Issue.ID)

	_, err = engine.CompleteWork(ctx, issue.ID, "a1", ResultSuccess, "done on the first try")
	require.NoError(t, err)

	got, err := engine.Tracker.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
}

func TestOpenOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.db")

	engine, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	require.NoError(t, engine.Initialize(ctx))
	_, err = engine.Tracker.CreateIssue(ctx, tracker.CreateIssueRequest{Description: "persisted"})
	require.NoError(t, err)
	require.NoError(t, engine.DB.Close())

	// Reopen and find the issue still there.
	engine, err = Open(ctx, path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.DB.Close() })
	require.NoError(t, engine.Initialize(ctx))
	issues, err := engine.Tracker.ListIssues(ctx, tracker.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}
