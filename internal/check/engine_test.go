package check

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/cluster"
	"github.com/clusterguard/inspector/internal/item"
)

func TestEvaluateComparison(t *testing.T) {
	require.True(t, evaluateComparison(item.CompareGT, 95, 90))
	require.False(t, evaluateComparison(item.CompareGT, 50, 90))
	require.True(t, evaluateComparison(item.CompareLT, 10, 90))
	require.True(t, evaluateComparison(item.CompareEQ, 90, 90))
	require.False(t, evaluateComparison(item.CompareEQ, 91, 90))
	require.True(t, evaluateComparison(item.CompareNE, 91, 90))
	require.False(t, evaluateComparison(item.CompareNE, 90, 90))
}

func TestEvaluateComparison_NaN(t *testing.T) {
	nan := math.NaN()
	require.True(t, evaluateComparison(item.CompareEQ, nan, 90))
	require.True(t, evaluateComparison(item.CompareNE, nan, 90))
	require.False(t, evaluateComparison(item.CompareGT, nan, 90))
	require.False(t, evaluateComparison(item.CompareLT, nan, 90))
	require.False(t, evaluateComparison(item.CompareGE, nan, 90))
	require.False(t, evaluateComparison(item.CompareLE, nan, 90))
}

func TestRenderDetailTemplate(t *testing.T) {
	got := renderDetailTemplate("{expression} = {value}", "up", 1.5)
	require.Equal(t, "up = 1.5", got)
}

func TestRenderDetailTemplate_Default(t *testing.T) {
	got := renderDetailTemplate("", "up", 1.5)
	require.Equal(t, "up = 1.5", got)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 10)
	require.Len(t, got, 10)
}

func TestExtractValue(t *testing.T) {
	v, ok := extractValue(promSample{Value: []any{float64(0), "42.5"}})
	require.True(t, ok)
	require.InDelta(t, 42.5, v, 0.0001)

	_, ok = extractValue(promSample{Value: []any{float64(0)}})
	require.False(t, ok)
}

func TestExtractValue_NaN(t *testing.T) {
	v, ok := extractValue(promSample{Value: []any{float64(0), "NaN"}})
	require.True(t, ok)
	require.True(t, math.IsNaN(v))
}

func TestEvalCommand_MisconfiguredEmptyTemplate(t *testing.T) {
	e := &Engine{log: zap.NewNop()}
	it := &item.Item{CheckType: item.CheckCommand, Config: item.Config{Command: &item.CommandConfig{}}}

	result := e.evalCommand(context.Background(), &cluster.Cluster{}, it)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "inspection item misconfigured: command_template", result.Detail)
}

func TestEvalPromQL_MisconfiguredEmptyExpression(t *testing.T) {
	e := &Engine{log: zap.NewNop()}
	it := &item.Item{CheckType: item.CheckPromQL, Config: item.Config{PromQL: &item.PromQLConfig{}}}

	result := e.evalPromQL(context.Background(), &cluster.Cluster{PrometheusURL: "http://prom.example"}, it)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "inspection item misconfigured: expression", result.Detail)
}
