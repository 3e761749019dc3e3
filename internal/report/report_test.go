package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown(t *testing.T) {
	run := RunSummary{
		ID:          "run-1",
		ClusterName: "prod",
		Operator:    "alice",
		Summary:     "1 item(s) passed, 0 warning(s), 0 failed",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
	}
	rows := []ResultRow{{ItemName: "Check | pipe", Status: "passed", Detail: "ok", Suggestion: ""}}

	md := renderMarkdown(run, rows)
	require.Contains(t, md, "# Kubernetes Inspection Report")
	require.Contains(t, md, "Run ID: run-1")
	require.Contains(t, md, "Cluster: prod")
	require.Contains(t, md, "Check \\| pipe")
	require.Contains(t, md, "1 item(s) passed")
}

func TestTruncateCell(t *testing.T) {
	require.Equal(t, "abc", truncateCell("abc", 10))
	require.Equal(t, "abcdefgh…", truncateCell("abcdefghijklmnop", 9))
}
