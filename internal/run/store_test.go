package run

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterguard/inspector/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run_test.db")
	conn, err := db.New(ctx, "", path)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = conn.Exec(ctx, `CREATE TABLE inspection_runs (
		id TEXT PRIMARY KEY, cluster_id TEXT NOT NULL, operator TEXT, status TEXT NOT NULL,
		executor TEXT NOT NULL, agent_id TEXT, agent_status TEXT, total_items INTEGER NOT NULL,
		processed_items INTEGER NOT NULL DEFAULT 0, summary TEXT, report_path TEXT,
		created_at DATETIME NOT NULL, started_at DATETIME, completed_at DATETIME, lease_expires_at DATETIME
	)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `CREATE TABLE inspection_results (
		id TEXT PRIMARY KEY, run_id TEXT NOT NULL, item_id TEXT, item_name TEXT NOT NULL,
		seq INTEGER NOT NULL, status TEXT, detail TEXT, suggestion TEXT, created_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)

	return NewStore(conn)
}

func TestCreateRunSnapshotsItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorServer, nil,
		[]string{"item-a", "item-b", "item-c"}, []string{"Check A", "Check B", "Check C"})
	require.NoError(t, err)
	require.Equal(t, 3, r.TotalItems)
	require.Equal(t, 0, r.ProcessedItems)
	require.Equal(t, StatusQueued, r.Status)

	results, err := store.ListResults(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "Check A", results[0].ItemName)
	require.Equal(t, "Check C", results[2].ItemName)
	for _, res := range results {
		require.True(t, res.Pending())
	}
}

func TestWriteResultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorServer, nil, []string{"item-a"}, []string{"Check A"})
	require.NoError(t, err)

	_, updated, err := store.WriteResult(ctx, r.ID, "item-a", ResultPassed, "ok", "")
	require.NoError(t, err)
	require.Equal(t, 1, updated.ProcessedItems)

	result, updated2, err := store.WriteResult(ctx, r.ID, "item-a", ResultFailed, "should not overwrite", "")
	require.NoError(t, err)
	require.Equal(t, 1, updated2.ProcessedItems)
	require.Equal(t, ResultPassed, result.Status)
	require.Equal(t, "ok", result.Detail)
}

func TestFailRemainingWritesFailedForPendingOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorServer, nil,
		[]string{"item-a", "item-b", "item-c"}, []string{"A", "B", "C"})
	require.NoError(t, err)

	_, _, err = store.WriteResult(ctx, r.ID, "item-a", ResultPassed, "ok", "")
	require.NoError(t, err)

	require.NoError(t, store.FailRemaining(ctx, r.ID, "cancelled before execution"))

	results, err := store.ListResults(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, ResultPassed, results[0].Status)
	require.Equal(t, ResultFailed, results[1].Status)
	require.Contains(t, results[1].Detail, "cancelled")
	require.Equal(t, ResultFailed, results[2].Status)
}

func TestFinaliseIsNoOpOnceTerminal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorServer, nil, []string{"item-a"}, []string{"A"})
	require.NoError(t, err)

	finalised, err := store.Finalise(ctx, r.ID, StatusCompleted, "1 item(s) passed, 0 warning(s), 0 failed")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, finalised.Status)
	require.NotNil(t, finalised.CompletedAt)

	again, err := store.Finalise(ctx, r.ID, StatusIncomplete, "should not apply")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, again.Status)
	require.NotEqual(t, "should not apply", again.Summary)
}

func TestReserveForAgentFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	agentID := "agent-1"
	r, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorAgent, &agentID, []string{"item-a"}, []string{"A"})
	require.NoError(t, err)
	require.Equal(t, StatusQueued, r.Status)

	ok, err := store.ReserveForAgent(ctx, r.ID, time.Now().UTC().Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ReserveForAgent(ctx, r.ID, time.Now().UTC().Add(5*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	updated, err := store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, updated.Status)
	require.Equal(t, AgentStatusRunning, *updated.AgentStatus)
}

func TestListExpiredLeasesAndDetach(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	agentID := "agent-1"
	r, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorAgent, &agentID, []string{"item-a"}, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, store.StartRun(ctx, r.ID))
	require.NoError(t, store.SetAgentLease(ctx, r.ID, AgentStatusRunning, time.Now().UTC().Add(-time.Minute)))

	expired, err := store.ListExpiredLeases(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, r.ID, expired[0].ID)

	require.NoError(t, store.DetachLease(ctx, r.ID))
	updated, err := store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, AgentStatusQueued, *updated.AgentStatus)
	require.Nil(t, updated.LeaseExpiresAt)
}

func TestListQueuedForAgentRespectsAgentAndStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	agentA, agentB := "agent-a", "agent-b"
	_, err := store.CreateRun(ctx, "cluster-1", "alice", ExecutorAgent, &agentA, []string{"item-a"}, []string{"A"})
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, "cluster-1", "alice", ExecutorAgent, &agentB, []string{"item-b"}, []string{"B"})
	require.NoError(t, err)

	runs, err := store.ListQueuedForAgent(ctx, agentA, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, agentA, *runs[0].AgentID)
}
