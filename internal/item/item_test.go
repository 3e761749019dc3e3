package item

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterguard/inspector/internal/db"
)

func TestDecodeConfigCommand(t *testing.T) {
	cfg, err := DecodeConfig(CheckCommand, []byte(`{"command_template":"echo hi","shell":true,"timeout_s":5}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Command)
	require.Nil(t, cfg.PromQL)
	require.Nil(t, cfg.Unknown)
	require.Equal(t, "echo hi", cfg.Command.CommandTemplate)
}

func TestDecodeConfigPromQL(t *testing.T) {
	cfg, err := DecodeConfig(CheckPromQL, []byte(`{"expression":"up","comparison":"==","fail_threshold":0}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.PromQL)
	require.Equal(t, CompareEQ, cfg.PromQL.Comparison)
}

func TestDecodeConfigBuiltinIgnoresBody(t *testing.T) {
	cfg, err := DecodeConfig(CheckNodesStatus, []byte(`{"anything":"here"}`))
	require.NoError(t, err)
	require.Nil(t, cfg.Command)
	require.Nil(t, cfg.PromQL)
	require.Nil(t, cfg.Unknown)
}

func TestDecodeConfigUnknownFallsBack(t *testing.T) {
	cfg, err := DecodeConfig(CheckType("retired_check"), []byte(`{"legacy":"value"}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Unknown)
	require.Equal(t, "value", cfg.Unknown.Raw["legacy"])
}

func TestConfigMarshalJSON(t *testing.T) {
	cfg := Config{Command: &CommandConfig{CommandTemplate: "echo hi"}}
	raw, err := cfg.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(raw), "echo hi")

	empty := Config{}
	raw, err = empty.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))
}

func TestIsBuiltinAndIsKnown(t *testing.T) {
	require.True(t, IsBuiltin(CheckPodsStatus))
	require.False(t, IsBuiltin(CheckCommand))
	require.True(t, IsKnown(CheckCommand))
	require.True(t, IsKnown(CheckPromQL))
	require.True(t, IsKnown(CheckPodsStatus))
	require.False(t, IsKnown(CheckType("nonsense")))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "item_test.db")
	conn, err := db.New(ctx, "", path)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = conn.Exec(ctx, `CREATE TABLE inspection_items (
		id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, description TEXT, check_type TEXT NOT NULL,
		config TEXT NOT NULL, is_archived BOOLEAN NOT NULL DEFAULT false,
		created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)

	return NewStore(conn)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	it, err := store.Create(ctx, "Check disk", "desc", CheckCommand, Config{Command: &CommandConfig{CommandTemplate: "df -h"}})
	require.NoError(t, err)
	require.Equal(t, "Check disk", it.Name)
	require.False(t, it.IsArchived)

	fetched, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	require.Equal(t, "df -h", fetched.Config.Command.CommandTemplate)

	updated, err := store.Update(ctx, it.ID, "Check disk v2", "desc2", CheckCommand, Config{Command: &CommandConfig{CommandTemplate: "df -i"}})
	require.NoError(t, err)
	require.Equal(t, "Check disk v2", updated.Name)

	require.NoError(t, store.SetArchived(ctx, it.ID, true))
	archived, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	require.True(t, archived.IsArchived)

	require.NoError(t, store.Delete(ctx, it.ID))
	_, err = store.Get(ctx, it.ID)
	require.Error(t, err)
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Create(ctx, "dup", "", CheckPodsStatus, Config{})
	require.NoError(t, err)

	_, err = store.Create(ctx, "dup", "", CheckPodsStatus, Config{})
	require.Error(t, err)
}

func TestListExcludesArchivedByDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	active, err := store.Create(ctx, "active", "", CheckPodsStatus, Config{})
	require.NoError(t, err)
	archived, err := store.Create(ctx, "archived", "", CheckPodsStatus, Config{})
	require.NoError(t, err)
	require.NoError(t, store.SetArchived(ctx, archived.ID, true))

	visible, err := store.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, active.ID, visible[0].ID)

	all, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestGetManyFailsOnMissingID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	it, err := store.Create(ctx, "a", "", CheckPodsStatus, Config{})
	require.NoError(t, err)

	items, err := store.GetMany(ctx, []string{it.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = store.GetMany(ctx, []string{it.ID, "missing-id"})
	require.Error(t, err)
}
