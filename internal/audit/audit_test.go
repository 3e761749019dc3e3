package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListParamsDefaults(t *testing.T) {
	params := ListParams{}
	require.Equal(t, 0, params.Limit)
	require.Equal(t, 0, params.Offset)
}

func TestNewStoreOpensFileSink(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(nil, dir, nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
}

func TestNewStoreNoFileSinkWhenDataDirEmpty(t *testing.T) {
	store, err := NewStore(nil, "", nil)
	require.NoError(t, err)
	require.Nil(t, store.file)
}

func TestAppendToFileWritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(nil, dir, nil)
	require.NoError(t, err)
	defer store.Close()

	store.appendToFile(Entry{ID: "1", Action: "cluster_created", Actor: "alice"})

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"action":"cluster_created"`)
	require.Contains(t, string(data), `"actor":"alice"`)
}

func TestNewHandlers(t *testing.T) {
	store := &Store{}
	handlers := NewHandlers(store)
	require.NotNil(t, handlers)
}
