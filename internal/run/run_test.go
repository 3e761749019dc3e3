package run

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	r := &Run{TotalItems: 0}
	require.Equal(t, 0, r.Progress())

	r = &Run{TotalItems: 4, ProcessedItems: 1}
	require.Equal(t, 25, r.Progress())

	r = &Run{TotalItems: 3, ProcessedItems: 3}
	require.Equal(t, 100, r.Progress())
}

func TestIsTerminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusIncomplete, StatusCancelled} {
		require.True(t, (&Run{Status: st}).IsTerminal())
	}
	for _, st := range []Status{StatusQueued, StatusRunning, StatusPaused} {
		require.False(t, (&Run{Status: st}).IsTerminal())
	}
}

func TestResultPending(t *testing.T) {
	require.True(t, (&Result{}).Pending())
	require.False(t, (&Result{Status: ResultPassed}).Pending())
}

func TestSummarizeAllPassed(t *testing.T) {
	results := []*Result{
		{Status: ResultPassed},
		{Status: ResultPassed},
	}
	status, summary := Summarize(results)
	require.Equal(t, StatusCompleted, status)
	require.Contains(t, summary, "2 item(s) passed")
	require.Contains(t, summary, "0 warning(s)")
	require.Contains(t, summary, "0 failed")
}

func TestSummarizeAnyWarningIsIncomplete(t *testing.T) {
	results := []*Result{
		{Status: ResultPassed},
		{Status: ResultWarning},
	}
	status, _ := Summarize(results)
	require.Equal(t, StatusIncomplete, status)
}

func TestSummarizeAnyFailedIsIncomplete(t *testing.T) {
	results := []*Result{
		{Status: ResultPassed},
		{Status: ResultFailed},
	}
	status, summary := Summarize(results)
	require.Equal(t, StatusIncomplete, status)
	require.Contains(t, summary, "1 failed")
}

func TestSummarizeEmptyIsCompleted(t *testing.T) {
	status, summary := Summarize(nil)
	require.Equal(t, StatusCompleted, status)
	require.Contains(t, summary, "0 item(s) passed")
}
