package agentplane

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/db"
	"github.com/clusterguard/inspector/internal/item"
	"github.com/clusterguard/inspector/internal/run"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	agents      *Store
	runs        *run.Store
	items       *item.Store
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "coordinator_test.db")
	conn, err := db.New(ctx, "", path)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	for _, stmt := range []string{
		`CREATE TABLE inspection_agents (
			id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, cluster_id TEXT, description TEXT,
			is_enabled BOOLEAN NOT NULL DEFAULT true, prometheus_url TEXT, token_hash TEXT NOT NULL,
			last_seen_at DATETIME, created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE inspection_items (
			id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, description TEXT, check_type TEXT NOT NULL,
			config TEXT NOT NULL, is_archived BOOLEAN NOT NULL DEFAULT false,
			created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
		)`,
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
	} {
		_, err = conn.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	agents := NewStore(conn)
	runs := run.NewStore(conn)
	items := item.NewStore(conn)
	coordinator := NewCoordinator(agents, runs, items, 5*time.Minute, zap.NewNop())

	return &coordinatorFixture{coordinator: coordinator, agents: agents, runs: runs, items: items}
}

func TestPullTasksReservesAndLeasesQueuedRun(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	a, _, err := f.agents.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)
	it, err := f.items.Create(ctx, "check-a", "", item.CheckPodsStatus, item.Config{})
	require.NoError(t, err)
	r, err := f.runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &a.ID, []string{it.ID}, []string{it.Name})
	require.NoError(t, err)

	tasks, err := f.coordinator.PullTasks(ctx, a.ID, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, r.ID, tasks[0].RunID)
	require.Equal(t, it.ID, tasks[0].ItemID)

	// a second pull for the same agent finds nothing new; the run is leased.
	tasks, err = f.coordinator.PullTasks(ctx, a.ID, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 0)
}

func TestPullTasksReturnsEveryPendingItemInARun(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	a, _, err := f.agents.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)

	var itemIDs, itemNames []string
	for _, name := range []string{"check-a", "check-b", "check-c"} {
		it, err := f.items.Create(ctx, name, "", item.CheckPodsStatus, item.Config{})
		require.NoError(t, err)
		itemIDs = append(itemIDs, it.ID)
		itemNames = append(itemNames, it.Name)
	}
	r, err := f.runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &a.ID, itemIDs, itemNames)
	require.NoError(t, err)

	tasks, err := f.coordinator.PullTasks(ctx, a.ID, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		require.Equal(t, r.ID, task.RunID)
	}
}

func TestSubmitResultFinalisesWhenPendingEmpties(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	a, _, err := f.agents.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)
	it, err := f.items.Create(ctx, "check-a", "", item.CheckPodsStatus, item.Config{})
	require.NoError(t, err)
	r, err := f.runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &a.ID, []string{it.ID}, []string{it.Name})
	require.NoError(t, err)

	_, err = f.coordinator.PullTasks(ctx, a.ID, 5)
	require.NoError(t, err)

	updated, err := f.coordinator.SubmitResult(ctx, a.ID, r.ID, it.ID, run.ResultPassed, "ok", "")
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, updated.Status)
}

func TestSubmitResultRejectsWrongAgent(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	owner, _, err := f.agents.Register(ctx, "owner", nil, "", "")
	require.NoError(t, err)
	intruder, _, err := f.agents.Register(ctx, "intruder", nil, "", "")
	require.NoError(t, err)
	it, err := f.items.Create(ctx, "check-a", "", item.CheckPodsStatus, item.Config{})
	require.NoError(t, err)
	r, err := f.runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &owner.ID, []string{it.ID}, []string{it.Name})
	require.NoError(t, err)

	_, err = f.coordinator.SubmitResult(ctx, intruder.ID, r.ID, it.ID, run.ResultPassed, "ok", "")
	require.Error(t, err)
}

func TestReportRunFailureFinalisesIncomplete(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)

	a, _, err := f.agents.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)
	it, err := f.items.Create(ctx, "check-a", "", item.CheckPodsStatus, item.Config{})
	require.NoError(t, err)
	r, err := f.runs.CreateRun(ctx, "cluster-1", "alice", run.ExecutorAgent, &a.ID, []string{it.ID}, []string{it.Name})
	require.NoError(t, err)

	updated, err := f.coordinator.ReportRunFailure(ctx, a.ID, r.ID, "lost connectivity")
	require.NoError(t, err)
	require.Equal(t, run.StatusIncomplete, updated.Status)
}
