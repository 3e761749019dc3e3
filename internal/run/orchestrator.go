package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/audit"
	"github.com/clusterguard/inspector/internal/check"
	"github.com/clusterguard/inspector/internal/cluster"
	"github.com/clusterguard/inspector/internal/item"
	"github.com/clusterguard/inspector/internal/license"
	"github.com/clusterguard/inspector/internal/report"
)

// AgentChecker reports whether an agent is registered and enabled. It lets
// the orchestrator make its executor-routing decision (spec §4.1) without
// importing internal/agentplane, which already imports run.
type AgentChecker interface {
	IsEnabled(ctx context.Context, id string) (bool, error)
}

// Orchestrator implements the Run State Machine & Executor Dispatch
// (spec §4.1): admission, the server-executor background loop,
// cancellation, finalisation, and the report-emission hook.
type Orchestrator struct {
	store    *Store
	items    *item.Store
	clusters *cluster.Manager
	engine   *check.Engine
	guard    *license.Guard
	reports  *report.Emitter
	audit    *audit.Store
	agents   AgentChecker
	log      *zap.Logger

	mu        sync.Mutex
	cancelled map[string]bool
}

func NewOrchestrator(store *Store, items *item.Store, clusters *cluster.Manager, engine *check.Engine,
	guard *license.Guard, reports *report.Emitter, auditStore *audit.Store, agents AgentChecker, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store: store, items: items, clusters: clusters, engine: engine, guard: guard,
		reports: reports, audit: auditStore, agents: agents, log: log,
		cancelled: make(map[string]bool),
	}
}

// RunDetail bundles a run with its result rows in item-input order.
type RunDetail struct {
	*Run
	Results []*Result `json:"results"`
}

// CreateRun validates the cluster and every item_id, pre-creates
// total_items, snapshots item names, routes to the agent executor when the
// cluster's default agent is valid and enabled, and otherwise spawns the
// server-executor background loop (spec §4.1).
func (o *Orchestrator) CreateRun(ctx context.Context, clusterID, operator string, itemIDs []string) (*Run, error) {
	if err := o.guard.Require("inspections"); err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return nil, apperr.Validation("item_ids must contain at least one item")
	}

	c, err := o.clusters.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	items, err := o.items.GetMany(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	itemNames := make([]string, len(items))
	for i, it := range items {
		itemNames[i] = it.Name
	}

	executor := ExecutorServer
	var agentID *string
	agentEnabled := false
	if c.ExecutionMode == cluster.ExecutionModeAgent && c.DefaultAgentID != nil {
		agentEnabled, _ = o.agents.IsEnabled(ctx, *c.DefaultAgentID)
	}
	if id, ok := c.EffectiveAgentID(agentEnabled); ok {
		executor = ExecutorAgent
		agentID = &id
	}

	r, err := o.store.CreateRun(ctx, clusterID, operator, executor, agentID, itemIDs, itemNames)
	if err != nil {
		return nil, err
	}

	_ = o.audit.Record(ctx, operator, "run_created", r.ID,
		fmt.Sprintf("cluster=%s items=%d executor=%s", clusterID, len(itemIDs), executor))

	if executor == ExecutorServer {
		go o.runServerExecution(r.ID)
	}
	return r, nil
}

// GetRun returns a run's current state plus its result rows in item-input
// order (spec §4.1).
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	r, err := o.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := o.store.ListResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: r, Results: results}, nil
}

func (o *Orchestrator) ListRuns(ctx context.Context) ([]*Run, error) {
	return o.store.ListRuns(ctx)
}

// CancelRun requests cancellation (spec §4.1). A completed/incomplete/
// cancelled run rejects cancellation idempotently (no error, returned
// as-is). Server-executor runs set a cooperative flag observed by the
// background loop at the next item boundary; agent-executor runs have no
// loop to observe it, so they are finalised immediately: remaining
// unresolved items become failed-status "cancelled" results.
func (o *Orchestrator) CancelRun(ctx context.Context, runID, actor string) (*Run, error) {
	r, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.IsTerminal() {
		return r, nil
	}

	if r.Executor == ExecutorServer {
		o.setCancelled(runID)
		_ = o.audit.Record(ctx, actor, "run_cancel_requested", runID, "")
		return o.store.GetRun(ctx, runID)
	}

	if err := o.store.FailRemaining(ctx, runID, "cancelled by operator"); err != nil {
		return nil, err
	}
	all, err := o.store.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	_, summary := Summarize(all)
	updated, err := o.store.Finalise(ctx, runID, StatusCancelled, summary)
	if err != nil {
		return nil, err
	}
	if err := o.store.SetAgentLease(ctx, runID, AgentStatusFailed, time.Time{}); err != nil {
		o.log.Warn("cancel run: clear lease failed", zap.String("run_id", runID), zap.Error(err))
	}
	_ = o.audit.Record(ctx, actor, "run_cancelled", runID, summary)
	return updated, nil
}

func (o *Orchestrator) setCancelled(runID string) {
	o.mu.Lock()
	o.cancelled[runID] = true
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[runID]
}

func (o *Orchestrator) clearCancelled(runID string) {
	o.mu.Lock()
	delete(o.cancelled, runID)
	o.mu.Unlock()
}

// runServerExecution is the server-executor loop (spec §4.1): sequential,
// single-threaded per run; multiple runs execute concurrently as
// independent goroutines. A panic here is recovered and converted into a
// trailing failed result plus an incomplete finalisation (spec §7), so one
// misbehaving check can never take the process down.
func (o *Orchestrator) runServerExecution(runID string) {
	ctx := context.Background()
	defer o.clearCancelled(runID)
	defer func() {
		if rec := recover(); rec != nil {
			o.log.Error("run executor panic recovered", zap.String("run_id", runID), zap.Any("panic", rec))
			_ = o.store.FailRemaining(ctx, runID, fmt.Sprintf("internal error: %v", rec))
			o.finaliseRun(ctx, runID)
		}
	}()

	if err := o.store.StartRun(ctx, runID); err != nil {
		o.log.Error("start run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	r, err := o.store.GetRun(ctx, runID)
	if err != nil {
		o.log.Error("run executor: get run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	c, err := o.clusters.GetCluster(ctx, r.ClusterID)
	if err != nil {
		o.log.Error("run executor: get cluster failed", zap.String("run_id", runID), zap.Error(err))
		_ = o.store.FailRemaining(ctx, runID, fmt.Sprintf("cluster lookup failed: %v", err))
		o.finaliseRun(ctx, runID)
		return
	}

	for {
		pending, err := o.store.GetPendingResults(ctx, runID)
		if err != nil {
			o.log.Error("run executor: list pending failed", zap.String("run_id", runID), zap.Error(err))
			return
		}
		if len(pending) == 0 {
			break
		}

		if o.isCancelled(runID) {
			if err := o.store.FailRemaining(ctx, runID, "cancelled before execution"); err != nil {
				o.log.Error("run executor: fail remaining on cancel failed", zap.String("run_id", runID), zap.Error(err))
			}
			break
		}

		next := pending[0]
		it, err := o.items.Get(ctx, *next.ItemID)
		if err != nil {
			if _, _, werr := o.store.WriteResult(ctx, runID, *next.ItemID, ResultFailed, fmt.Sprintf("item lookup failed: %v", err), ""); werr != nil {
				o.log.Error("run executor: write result failed", zap.String("run_id", runID), zap.Error(werr))
				return
			}
			continue
		}

		result := o.engine.Evaluate(ctx, c, it)
		if _, _, err := o.store.WriteResult(ctx, runID, *next.ItemID, ResultStatus(result.Status), result.Detail, result.Suggestion); err != nil {
			o.log.Error("run executor: write result failed", zap.String("run_id", runID), zap.Error(err))
			return
		}
	}

	o.finaliseRun(ctx, runID)
}

// finaliseRun computes the terminal status/summary and invokes the Report
// Emitter best-effort (spec §4.1: emission failures never flip run status).
func (o *Orchestrator) finaliseRun(ctx context.Context, runID string) {
	all, err := o.store.ListResults(ctx, runID)
	if err != nil {
		o.log.Error("finalise run: list results failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	status, summary := Summarize(all)
	if o.isCancelled(runID) {
		status = StatusCancelled
	}

	updated, err := o.store.Finalise(ctx, runID, status, summary)
	if err != nil {
		o.log.Error("finalise run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	_ = o.audit.Record(ctx, "", "run_finalised", runID, summary)

	o.emitReport(ctx, updated, all)
}

func (o *Orchestrator) emitReport(ctx context.Context, r *Run, results []*Result) {
	clusterName := r.ClusterID
	if c, err := o.clusters.GetCluster(ctx, r.ClusterID); err == nil {
		clusterName = c.Name
	}

	rows := make([]report.ResultRow, len(results))
	for i, res := range results {
		rows[i] = report.ResultRow{ItemName: res.ItemName, Status: string(res.Status), Detail: res.Detail, Suggestion: res.Suggestion}
	}

	summary := report.RunSummary{ID: r.ID, ClusterName: clusterName, Operator: r.Operator, Summary: r.Summary, CreatedAt: r.CreatedAt}
	if r.CompletedAt != nil {
		summary.CompletedAt = *r.CompletedAt
	}

	path, err := o.reports.Emit(summary, rows)
	if err != nil {
		o.log.Warn("report emission failed", zap.String("run_id", r.ID), zap.Error(err))
		_ = o.audit.Record(ctx, "", "report_emission_failed", r.ID, err.Error())
		return
	}
	if err := o.store.SetReportPath(ctx, r.ID, path); err != nil {
		o.log.Warn("set report path failed", zap.String("run_id", r.ID), zap.Error(err))
	}
}
