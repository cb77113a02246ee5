package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openMemory(t)
	ctx := t.Context()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.StartRun(ctx, "run-1", started))
	require.NoError(t, store.FinishRun(ctx, Run{
		ID:       "run-1",
		Finished: started.Add(time.Minute),
		Outcome:  "completed-with-issues",
		Issues:   2,
		Exported: 5,
		Skipped:  1,
	}))

	runs, err := store.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "run-1", run.ID)
	assert.True(t, started.Equal(run.Started))
	assert.True(t, started.Add(time.Minute).Equal(run.Finished))
	assert.Equal(t, "completed-with-issues", run.Outcome)
	assert.Equal(t, 2, run.Issues)
	assert.Equal(t, 5, run.Exported)
	assert.Equal(t, 1, run.Skipped)
}

func TestFinishUnknownRun(t *testing.T) {
	store := openMemory(t)

	err := store.FinishRun(t.Context(), Run{ID: "missing", Finished: time.Now()})
	assert.Error(t, err)
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	store := openMemory(t)
	ctx := t.Context()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.StartRun(ctx, id, base.Add(time.Duration(i)*time.Hour)))
	}

	runs, err := store.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.True(t, runs[0].Finished.IsZero())
	assert.Empty(t, runs[0].Outcome)
}

func TestArtifactsAndIssues(t *testing.T) {
	store := openMemory(t)
	ctx := t.Context()
	at := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordArtifact(ctx, Artifact{
		RunID: "r", Hub: "Acme", Project: "Rover", File: "Frame",
		Kind: "archive", Path: "Hub Acme/Project Rover/Rover/Frame.f3d/Frame.f3d",
		Result: "exported", Detail: "no existing archive", At: at,
	}))
	require.NoError(t, store.RecordArtifact(ctx, Artifact{
		RunID: "r", Hub: "Acme", Project: "Rover", File: "Frame",
		Kind: "step", Path: "Hub Acme/Project Rover/Rover/Frame.f3d/Frame.stp", Result: "present",
	}))
	require.NoError(t, store.RecordArtifact(ctx, Artifact{RunID: "other", Kind: "dxf", Result: "exported"}))
	require.NoError(t, store.RecordIssue(ctx, Issue{RunID: "r", Subject: "Frame", Message: "close failed", At: at}))

	artifacts, err := store.Artifacts(ctx, "r")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "archive", artifacts[0].Kind)
	assert.Equal(t, "no existing archive", artifacts[0].Detail)
	assert.True(t, at.Equal(artifacts[0].At))
	assert.Equal(t, "present", artifacts[1].Result)
	assert.False(t, artifacts[1].At.IsZero())

	issues, err := store.Issues(ctx, "r")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "close failed", issues[0].Message)

	none, err := store.Issues(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), FileName)

	store, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.StartRun(t.Context(), "run-1", time.Now()))
	require.NoError(t, store.Close())

	reopened, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	runs, err := reopened.Runs(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}
