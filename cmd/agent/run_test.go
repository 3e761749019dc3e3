package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterguard/inspector/internal/item"
)

func TestDecodeItemSnapshotCommand(t *testing.T) {
	raw := `{
		"id": "item-1",
		"name": "disk check",
		"check_type": "command",
		"config": {"command_template": "df -h", "shell": true, "timeout_s": 5},
		"is_archived": false
	}`

	it, err := decodeItemSnapshot(raw)
	require.NoError(t, err)
	require.Equal(t, "item-1", it.ID)
	require.Equal(t, item.CheckCommand, it.CheckType)
	require.NotNil(t, it.Config.Command)
	require.Equal(t, "df -h", it.Config.Command.CommandTemplate)
}

func TestDecodeItemSnapshotBuiltin(t *testing.T) {
	raw := `{"id": "item-2", "name": "nodes", "check_type": "nodes_status", "config": {}, "is_archived": false}`

	it, err := decodeItemSnapshot(raw)
	require.NoError(t, err)
	require.Nil(t, it.Config.Command)
	require.Nil(t, it.Config.PromQL)
}

func TestDecodeItemSnapshotMalformed(t *testing.T) {
	_, err := decodeItemSnapshot("not json")
	require.Error(t, err)
}
