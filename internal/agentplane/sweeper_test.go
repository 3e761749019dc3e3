package agentplane

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/audit"
	"github.com/clusterguard/inspector/internal/db"
	"github.com/clusterguard/inspector/internal/metrics"
	"github.com/clusterguard/inspector/internal/run"
)

func newSweeperFixture(t *testing.T) (*Sweeper, *run.Store) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sweeper_test.db")
	conn, err := db.New(ctx, "", path)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	for _, stmt := range []string{
		`CREATE TABLE inspection_runs (
			id TEXT PRIMARY KEY, cluster_id TEXT NOT NULL, operator TEXT, status TEXT NOT NULL,
			executor TEXT NOT NULL, agent_id TEXT, agent_status TEXT, total_items INTEGER NOT NULL,
			processed_items INTEGER NOT NULL DEFAULT 0, summary TEXT, report_path TEXT,
			created_at DATETIME NOT NULL, started_at DATETIME, completed_at DATETIME, lease_expires_at DATETIME
		)`,
		`CREATE TABLE inspection_results (
			id TEXT PRIMARY KEY, run_id TEXT NOT NULL, item_id TEXT, item_name TEXT NOT NULL,
			seq INTEGER NOT NULL, status TEXT, detail TEXT, suggestion TEXT, created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE audit_log (
			id TEXT PRIMARY KEY, actor TEXT, action TEXT NOT NULL, target TEXT, detail TEXT, at DATETIME NOT NULL
		)`,
	} {
		_, err = conn.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	runs := run.NewStore(conn)
	auditStore, err := audit.NewStore(conn, "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })

	m := metrics.New()
	sweeper := NewSweeper(runs, auditStore, m, zap.NewNop())
	return sweeper, runs
}

func TestSweepReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	sweeper, runs := newSweeperFixture(t)

	agentID := "agent-1"
	r, err := runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &agentID, []string{"item-a"}, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, runs.StartRun(ctx, r.ID))
	require.NoError(t, runs.SetAgentLease(ctx, r.ID, run.AgentStatusRunning, time.Now().UTC().Add(-time.Minute)))

	sweeper.sweep(ctx)

	updated, err := runs.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, run.StatusRunning, updated.Status)
	require.NotNil(t, updated.AgentStatus)
	require.Equal(t, run.AgentStatusQueued, *updated.AgentStatus)
	require.Nil(t, updated.LeaseExpiresAt)

	results, err := runs.ListResults(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, results[0].Pending())

	pulled, err := runs.ListQueuedForAgent(ctx, agentID, 10)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	require.Equal(t, r.ID, pulled[0].ID)
}

func TestSweepIgnoresUnexpiredLease(t *testing.T) {
	ctx := context.Background()
	sweeper, runs := newSweeperFixture(t)

	agentID := "agent-1"
	r, err := runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &agentID, []string{"item-a"}, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, runs.StartRun(ctx, r.ID))
	require.NoError(t, runs.SetAgentLease(ctx, r.ID, run.AgentStatusRunning, time.Now().UTC().Add(5*time.Minute)))

	sweeper.sweep(ctx)

	updated, err := runs.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, run.StatusRunning, updated.Status)
}
