package agentplane

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterguard/inspector/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agentplane_test.db")
	conn, err := db.New(ctx, "", path)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = conn.Exec(ctx, `CREATE TABLE inspection_agents (
		id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, cluster_id TEXT, description TEXT,
		is_enabled BOOLEAN NOT NULL DEFAULT true, prometheus_url TEXT, token_hash TEXT NOT NULL,
		last_seen_at DATETIME, created_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)

	return NewStore(conn)
}

func TestRegisterReturnsOneTimeToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, token, err := store.Register(ctx, "agent-1", nil, "desc", "")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, a.IsEnabled)
}

func TestRegisterDuplicateNameConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.Register(ctx, "dup", nil, "", "")
	require.NoError(t, err)
	_, _, err = store.Register(ctx, "dup", nil, "", "")
	require.Error(t, err)
}

func TestAuthenticateRejectsWrongTokenAndDisabled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, token, err := store.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)

	authed, err := store.Authenticate(ctx, a.ID, token)
	require.NoError(t, err)
	require.Equal(t, a.ID, authed.ID)

	_, err = store.Authenticate(ctx, a.ID, "wrong-token")
	require.Error(t, err)

	require.NoError(t, store.SetEnabled(ctx, a.ID, false))
	_, err = store.Authenticate(ctx, a.ID, token)
	require.Error(t, err)
}

func TestIsEnabled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, _, err := store.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)

	enabled, err := store.IsEnabled(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, enabled)

	require.NoError(t, store.SetEnabled(ctx, a.ID, false))
	enabled, err = store.IsEnabled(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, enabled)

	_, err = store.IsEnabled(ctx, "missing")
	require.Error(t, err)
}

func TestListOrdersByName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.Register(ctx, "zeta", nil, "", "")
	require.NoError(t, err)
	_, _, err = store.Register(ctx, "alpha", nil, "", "")
	require.NoError(t, err)

	agents, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	require.Equal(t, "alpha", agents[0].Name)
	require.Equal(t, "zeta", agents[1].Name)
}

func TestTouchLastSeen(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, _, err := store.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)
	require.Nil(t, a.LastSeenAt)

	require.NoError(t, store.TouchLastSeen(ctx, a.ID))
	refreshed, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastSeenAt)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, _, err := store.Register(ctx, "agent-1", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, a.ID))
	_, err = store.Get(ctx, a.ID)
	require.Error(t, err)
}
