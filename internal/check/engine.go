// Package check implements the Check Engine (spec §4.3): evaluation of a
// single InspectionItem against a cluster, mapping command exit codes,
// PromQL thresholds, and builtin kubectl-equivalent probes to a tri-valued
// result. The engine never raises across its boundary — every failure
// becomes a Result with Status "failed" or "warning", never a Go error.
package check

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/cluster"
	"github.com/clusterguard/inspector/internal/item"
)

// Status is a Check Engine outcome. Kept as a local string type (rather than
// importing internal/run) so run.Orchestrator can depend on check without a
// cycle; run.ResultStatus shares the same underlying string values.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one item evaluation.
type Result struct {
	Status     Status
	Detail     string
	Suggestion string
}

const maxDetailBytes = 2048

// Engine evaluates InspectionItems against a cluster's kubeconfig and, when
// configured, its Prometheus endpoint.
type Engine struct {
	manager *cluster.Manager
	log     *zap.Logger
}

func NewEngine(manager *cluster.Manager, log *zap.Logger) *Engine {
	return &Engine{manager: manager, log: log}
}

// Evaluate dispatches on it.CheckType and always returns a Result, never an
// error (spec §7 propagation policy).
func (e *Engine) Evaluate(ctx context.Context, c *cluster.Cluster, it *item.Item) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("check engine panic recovered", zap.String("item", it.Name), zap.Any("panic", r))
			res = Result{Status: StatusFailed, Detail: fmt.Sprintf("check engine panic: %v", r)}
		}
	}()

	switch {
	case it.CheckType == item.CheckCommand:
		return e.evalCommand(ctx, c, it)
	case it.CheckType == item.CheckPromQL:
		return e.evalPromQL(ctx, c, it)
	case item.IsBuiltin(it.CheckType):
		return e.evalBuiltin(ctx, c, it.CheckType)
	default:
		return Result{Status: StatusFailed, Detail: "unknown check type"}
	}
}

func (e *Engine) evalCommand(ctx context.Context, c *cluster.Cluster, it *item.Item) Result {
	cfg := it.Config.Command
	if cfg == nil {
		return Result{Status: StatusFailed, Detail: "unknown check type"}
	}
	if strings.TrimSpace(cfg.CommandTemplate) == "" {
		return misconfigured("command_template")
	}

	// The command sees a per-call copy of the cluster's kubeconfig, written
	// 0600 into a private temporary directory that is removed on every exit.
	storedPath, err := e.manager.KubeconfigPath(ctx, c.ID)
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("resolving kubeconfig: %v", err)}
	}
	raw, err := os.ReadFile(storedPath)
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("reading kubeconfig: %v", err)}
	}
	tmpDir, err := os.MkdirTemp("", "inspector-kubeconfig-")
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("creating kubeconfig temp dir: %v", err)}
	}
	defer os.RemoveAll(tmpDir)
	kubeconfigPath := filepath.Join(tmpDir, "kubeconfig")
	if err := os.WriteFile(kubeconfigPath, raw, 0o600); err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("writing kubeconfig copy: %v", err)}
	}

	rendered := strings.ReplaceAll(cfg.CommandTemplate, "{{kubeconfig}}", kubeconfigPath)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if cfg.Shell {
		cmd = exec.CommandContext(cmdCtx, "sh", "-c", rendered)
	} else {
		fields := strings.Fields(rendered)
		if len(fields) == 0 {
			return Result{Status: StatusFailed, Detail: "empty command"}
		}
		cmd = exec.CommandContext(cmdCtx, fields[0], fields[1:]...)
	}
	cmd.Env = []string{"PATH=" + defaultPath()}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	if err != nil {
		detail := truncate(out.String(), maxDetailBytes)
		if cmdCtx.Err() != nil {
			detail = fmt.Sprintf("command timed out after %s: %s", timeout, detail)
		}
		return Result{Status: StatusFailed, Detail: detail, Suggestion: cfg.SuggestionOnFail}
	}

	msg := cfg.SuccessMessage
	if msg == "" {
		msg = truncate(out.String(), maxDetailBytes)
	}
	return Result{Status: StatusPassed, Detail: msg, Suggestion: cfg.SuggestionOnSuccess}
}

func (e *Engine) evalPromQL(ctx context.Context, c *cluster.Cluster, it *item.Item) Result {
	cfg := it.Config.PromQL
	if cfg == nil {
		return Result{Status: StatusFailed, Detail: "unknown check type"}
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return misconfigured("expression")
	}
	if c.PrometheusURL == "" {
		return Result{Status: StatusWarning, Detail: emptyOr(cfg.EmptyMessage, "Prometheus endpoint is not configured for this cluster."), Suggestion: cfg.SuggestionIfEmpty}
	}

	promClient := NewPrometheusClient(c.PrometheusURL)
	ok, results, message := promClient.Query(ctx, cfg.Expression)
	if !ok {
		return Result{Status: StatusFailed, Detail: message}
	}
	if len(results) == 0 {
		return Result{Status: StatusWarning, Detail: emptyOr(cfg.EmptyMessage, "query returned no data"), Suggestion: cfg.SuggestionIfEmpty}
	}

	value, ok := extractValue(results[0])
	if !ok {
		return Result{Status: StatusWarning, Detail: "query result could not be parsed as a number"}
	}

	failed := evaluateComparison(cfg.Comparison, value, cfg.FailThreshold)
	detail := renderDetailTemplate(cfg.DetailTemplate, cfg.Expression, value)
	if failed {
		return Result{Status: StatusFailed, Detail: detail, Suggestion: cfg.SuggestionOnFail}
	}
	return Result{Status: StatusPassed, Detail: detail}
}

// evaluateComparison reports whether v cmp threshold holds, i.e. whether the
// failure predicate is satisfied. A NaN operand makes every comparator
// false (not-failed) except ==/!=, which are forced to satisfied/failed
// regardless of operands, per the NaN edge case decision.
func evaluateComparison(cmp item.Comparison, v, threshold float64) bool {
	if cmp == item.CompareEQ && (math.IsNaN(v) || math.IsNaN(threshold)) {
		return true
	}
	if cmp == item.CompareNE && (math.IsNaN(v) || math.IsNaN(threshold)) {
		return true
	}
	switch cmp {
	case item.CompareGT:
		return v > threshold
	case item.CompareLT:
		return v < threshold
	case item.CompareGE:
		return v >= threshold
	case item.CompareLE:
		return v <= threshold
	case item.CompareEQ:
		return v == threshold
	case item.CompareNE:
		return v != threshold
	default:
		return false
	}
}

func renderDetailTemplate(tmpl, expression string, value float64) string {
	if tmpl == "" {
		return fmt.Sprintf("%s = %v", expression, value)
	}
	r := strings.NewReplacer("{expression}", expression, "{value}", fmt.Sprintf("%v", value))
	return r.Replace(tmpl)
}

func (e *Engine) evalBuiltin(ctx context.Context, c *cluster.Cluster, kind item.CheckType) Result {
	switch kind {
	case item.CheckClusterVersion:
		return e.checkClusterVersion(ctx, c)
	case item.CheckNodesStatus:
		return e.checkNodesStatus(ctx, c)
	case item.CheckPodsStatus:
		return e.checkPodsStatus(ctx, c)
	case item.CheckEventsRecent:
		return e.checkEventsRecent(ctx, c)
	case item.CheckClusterCPUUsage:
		return e.checkPromThreshold(ctx, c, "sum(rate(node_cpu_seconds_total{mode!='idle'}[5m])) / sum(rate(node_cpu_seconds_total[5m])) * 100",
			"Cluster CPU usage", 90, 75, "CPU usage is critical; investigate load or scale out.", "CPU usage is elevated; watch key workloads or plan to scale.")
	case item.CheckClusterMemUsage:
		return e.checkPromThreshold(ctx, c, "(sum(node_memory_MemTotal_bytes - node_memory_MemAvailable_bytes) / sum(node_memory_MemTotal_bytes)) * 100",
			"Cluster memory usage", 90, 80, "Memory usage is critical; scale out or check for leaks.", "Memory usage is elevated; watch key nodes and workloads.")
	case item.CheckNodeCPUHotspots:
		return e.checkPromTopK(ctx, c, "topk(5, (1 - avg by (instance)(rate(node_cpu_seconds_total{mode='idle'}[5m]))) * 100)",
			"node CPU usage", 90, 80, "One or more nodes show extreme CPU usage; check for hotspot workloads or rebalance.", "Some nodes show elevated CPU usage; consider scheduling adjustments.")
	case item.CheckNodeMemPressure:
		return e.checkPromTopK(ctx, c, "topk(5, ((node_memory_MemTotal_bytes - node_memory_MemAvailable_bytes) / node_memory_MemTotal_bytes) * 100)",
			"node memory usage", 95, 85, "A node is nearly out of memory; investigate leaks or scale out.", "Some nodes show memory pressure; watch key workloads.")
	case item.CheckClusterDiskIO:
		return e.checkDiskIO(ctx, c)
	default:
		return Result{Status: StatusFailed, Detail: "unknown check type"}
	}
}

func (e *Engine) checkClusterVersion(ctx context.Context, c *cluster.Cluster) Result {
	client, err := e.manager.GetClient(ctx, c.ID)
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("api server unreachable: %v", err), Suggestion: "Verify kubectl connectivity to the cluster."}
	}
	v, err := client.Clientset.Discovery().ServerVersion()
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("api server unreachable: %v", err), Suggestion: "Verify kubectl connectivity to the cluster."}
	}
	return Result{Status: StatusPassed, Detail: fmt.Sprintf("Server Version: %s", v.GitVersion)}
}

func (e *Engine) checkNodesStatus(ctx context.Context, c *cluster.Cluster) Result {
	client, err := e.manager.GetClient(ctx, c.ID)
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("api server unreachable: %v", err), Suggestion: "Ensure nodes are reachable and kubeconfig is configured."}
	}
	nodes, err := client.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{Status: StatusFailed, Detail: fmt.Sprintf("api server unreachable: %v", err), Suggestion: "Ensure nodes are reachable and kubeconfig is configured."}
	}

	var notReady []string
	for _, n := range nodes.Items {
		ready := false
		for _, cond := range n.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				ready = true
			}
		}
		if !ready {
			notReady = append(notReady, n.Name)
		}
	}
	if len(notReady) == 0 {
		return Result{Status: StatusPassed, Detail: fmt.Sprintf("%d nodes ready.", len(nodes.Items))}
	}
	return Result{
		Status:     StatusFailed,
		Detail:     "Nodes not ready: " + strings.Join(notReady, ", "),
		Suggestion: "Investigate node conditions via 'kubectl describe node <name>'.",
	}
}

func (e *Engine) checkPodsStatus(ctx context.Context, c *cluster.Cluster) Result {
	client, err := e.manager.GetClient(ctx, c.ID)
	if err != nil {
		return Result{Status: StatusWarning, Detail: fmt.Sprintf("%v", err), Suggestion: "Verify cluster access or specify kubeconfig."}
	}
	pods, err := client.Clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{Status: StatusWarning, Detail: fmt.Sprintf("%v", err), Suggestion: "Verify cluster access or specify kubeconfig."}
	}

	var problems []string
	for _, p := range pods.Items {
		if p.Status.Phase != corev1.PodRunning && p.Status.Phase != corev1.PodSucceeded {
			problems = append(problems, fmt.Sprintf("%s/%s (%s)", p.Namespace, p.Name, p.Status.Phase))
		}
	}
	if len(problems) == 0 {
		return Result{Status: StatusPassed, Detail: "All pods running or completed."}
	}
	if len(problems) > 8 {
		problems = problems[:8]
	}
	return Result{
		Status:     StatusWarning,
		Detail:     "Problem pods: " + strings.Join(problems, ", "),
		Suggestion: "Check pod logs or describe pods for details.",
	}
}

func (e *Engine) checkEventsRecent(ctx context.Context, c *cluster.Cluster) Result {
	client, err := e.manager.GetClient(ctx, c.ID)
	if err != nil {
		return Result{Status: StatusWarning, Detail: fmt.Sprintf("%v", err), Suggestion: "Confirm cluster permissions for events."}
	}
	events, err := client.Clientset.CoreV1().Events("").List(ctx, metav1.ListOptions{Limit: 200})
	if err != nil {
		return Result{Status: StatusWarning, Detail: fmt.Sprintf("%v", err), Suggestion: "Confirm cluster permissions for events."}
	}

	sort.Slice(events.Items, func(i, j int) bool {
		return events.Items[i].LastTimestamp.Time.Before(events.Items[j].LastTimestamp.Time)
	})

	var b strings.Builder
	for _, ev := range events.Items {
		fmt.Fprintf(&b, "%s/%s %s: %s\n", ev.Namespace, ev.InvolvedObject.Name, ev.Reason, ev.Message)
	}
	return Result{Status: StatusPassed, Detail: truncate(b.String(), maxDetailBytes), Suggestion: "Use kubectl get events for full details."}
}

func (e *Engine) checkPromThreshold(ctx context.Context, c *cluster.Cluster, expression, label string, failAt, warnAt float64, failSuggestion, warnSuggestion string) Result {
	if c.PrometheusURL == "" {
		return Result{Status: StatusWarning, Detail: "Prometheus endpoint is not configured for this cluster.", Suggestion: "Edit the cluster to add a Prometheus address to enable this check."}
	}
	promClient := NewPrometheusClient(c.PrometheusURL)
	ok, results, message := promClient.Query(ctx, expression)
	if !ok {
		return Result{Status: StatusWarning, Detail: message, Suggestion: "Confirm Prometheus is reachable and node metrics are being scraped."}
	}
	if len(results) == 0 {
		return Result{Status: StatusWarning, Detail: fmt.Sprintf("Prometheus returned no %s data.", label)}
	}
	value, ok := extractValue(results[0])
	if !ok {
		return Result{Status: StatusWarning, Detail: "Prometheus data could not be parsed."}
	}

	status := StatusPassed
	suggestion := ""
	if value >= failAt {
		status = StatusFailed
		suggestion = failSuggestion
	} else if value >= warnAt {
		status = StatusWarning
		suggestion = warnSuggestion
	}
	return Result{Status: status, Detail: fmt.Sprintf("%s ≈ %.2f%%.", label, value), Suggestion: suggestion}
}

func (e *Engine) checkPromTopK(ctx context.Context, c *cluster.Cluster, expression, label string, failAt, warnAt float64, failSuggestion, warnSuggestion string) Result {
	if c.PrometheusURL == "" {
		return Result{Status: StatusWarning, Detail: "Prometheus endpoint is not configured for this cluster.", Suggestion: "Edit the cluster to add a Prometheus address to enable this check."}
	}
	promClient := NewPrometheusClient(c.PrometheusURL)
	ok, results, message := promClient.Query(ctx, expression)
	if !ok {
		return Result{Status: StatusWarning, Detail: message}
	}
	if len(results) == 0 {
		return Result{Status: StatusPassed, Detail: fmt.Sprintf("All nodes show low %s.", label)}
	}

	type reading struct {
		name  string
		value float64
	}
	var readings []reading
	for _, s := range results {
		name := s.Metric["instance"]
		if name == "" {
			name = s.Metric["node"]
		}
		if name == "" {
			name = "unknown"
		}
		v, ok := extractValue(s)
		if !ok {
			continue
		}
		readings = append(readings, reading{name: name, value: v})
	}
	if len(readings) == 0 {
		return Result{Status: StatusWarning, Detail: fmt.Sprintf("Could not parse %s metrics.", label)}
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].value > readings[j].value })

	limit := len(readings)
	if limit > 5 {
		limit = 5
	}
	parts := make([]string, 0, limit)
	for _, r := range readings[:limit] {
		parts = append(parts, fmt.Sprintf("%s: %.2f%%", r.name, r.value))
	}

	worst := readings[0].value
	status := StatusPassed
	suggestion := ""
	if worst >= failAt {
		status = StatusFailed
		suggestion = failSuggestion
	} else if worst >= warnAt {
		status = StatusWarning
		suggestion = warnSuggestion
	}
	return Result{Status: status, Detail: fmt.Sprintf("Top %s: %s", label, strings.Join(parts, ", ")), Suggestion: suggestion}
}

func (e *Engine) checkDiskIO(ctx context.Context, c *cluster.Cluster) Result {
	if c.PrometheusURL == "" {
		return Result{Status: StatusWarning, Detail: "Prometheus endpoint is not configured for this cluster.", Suggestion: "Edit the cluster to add a Prometheus address to enable this check."}
	}
	promClient := NewPrometheusClient(c.PrometheusURL)
	expression := "topk(5, sum by (instance)(rate(node_disk_io_time_seconds_total[5m])))"
	ok, results, message := promClient.Query(ctx, expression)
	if !ok {
		return Result{Status: StatusWarning, Detail: message}
	}
	if len(results) == 0 {
		return Result{Status: StatusPassed, Detail: "No significant disk IO detected."}
	}

	type reading struct {
		name  string
		value float64
	}
	var readings []reading
	for _, s := range results {
		name := s.Metric["instance"]
		if name == "" {
			name = s.Metric["node"]
		}
		if name == "" {
			name = "unknown"
		}
		v, ok := extractValue(s)
		if !ok {
			continue
		}
		readings = append(readings, reading{name: name, value: v})
	}
	if len(readings) == 0 {
		return Result{Status: StatusWarning, Detail: "Disk IO metrics could not be parsed."}
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].value > readings[j].value })

	limit := len(readings)
	if limit > 5 {
		limit = 5
	}
	parts := make([]string, 0, limit)
	for _, r := range readings[:limit] {
		parts = append(parts, fmt.Sprintf("%s: %.4fs/s", r.name, r.value))
	}

	worst := readings[0].value
	status := StatusPassed
	suggestion := ""
	if worst >= 0.8 {
		status = StatusFailed
		suggestion = "Disk IO time ratio is very high; investigate an IO bottleneck."
	} else if worst >= 0.4 {
		status = StatusWarning
		suggestion = "Disk IO is elevated; watch hotspot nodes or disk health."
	}
	return Result{Status: status, Detail: fmt.Sprintf("Top node disk IO (s/s): %s", strings.Join(parts, ", ")), Suggestion: suggestion}
}

// misconfigured reports a missing required config key the way the engine
// must for every check kind: failed, never a raised error.
func misconfigured(key string) Result {
	return Result{Status: StatusFailed, Detail: "inspection item misconfigured: " + key}
}

func emptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// defaultPath inherits the server process's PATH so kubectl/other binaries
// referenced by command items resolve, while every other variable
// (credentials, KUBECONFIG, etc.) is stripped (spec §4.3 "minimal env").
func defaultPath() string {
	if p := os.Getenv("PATH"); p != "" {
		return p
	}
	return "/usr/local/bin:/usr/bin:/bin"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
