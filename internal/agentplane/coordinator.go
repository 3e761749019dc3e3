package agentplane

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/item"
	"github.com/clusterguard/inspector/internal/run"
)

// Coordinator drives the poll-based agent protocol: PullTasks hands out
// leased work, SubmitResult ingests outcomes idempotently, and
// ReportRunFailure lets an agent give up on a run it can no longer service
// (spec §4.2).
type Coordinator struct {
	agents   *Store
	runs     *run.Store
	items    *item.Store
	leaseTTL time.Duration
	log      *zap.Logger
}

func NewCoordinator(agents *Store, runs *run.Store, items *item.Store, leaseTTL time.Duration, log *zap.Logger) *Coordinator {
	return &Coordinator{agents: agents, runs: runs, items: items, leaseTTL: leaseTTL, log: log}
}

// Register creates a new agent and returns its one-time plaintext token.
func (c *Coordinator) Register(ctx context.Context, name string, clusterID *string, description, prometheusURL string) (*Agent, string, error) {
	return c.agents.Register(ctx, name, clusterID, description, prometheusURL)
}

// Authenticate validates a bearer token and touches last_seen_at on success.
func (c *Coordinator) Authenticate(ctx context.Context, agentID, token string) (*Agent, error) {
	a, err := c.agents.Authenticate(ctx, agentID, token)
	if err != nil {
		return nil, err
	}
	_ = c.agents.TouchLastSeen(ctx, agentID)
	return a, nil
}

// Heartbeat records liveness without pulling work.
func (c *Coordinator) Heartbeat(ctx context.Context, agentID string) error {
	return c.agents.TouchLastSeen(ctx, agentID)
}

// PullTasks reserves up to max queued runs belonging to this agent and
// returns one Task per pending item across every reserved run. Reservation
// is a conditional UPDATE (run.Store.ReserveForAgent) so concurrent pulls
// from the same agent never double-lease a run (spec §5).
func (c *Coordinator) PullTasks(ctx context.Context, agentID string, max int) ([]Task, error) {
	candidates, err := c.runs.ListQueuedForAgent(ctx, agentID, max)
	if err != nil {
		return nil, fmt.Errorf("list queued runs: %w", err)
	}

	var tasks []Task
	leaseExpires := time.Now().UTC().Add(c.leaseTTL)
	for _, r := range candidates {
		reserved, err := c.runs.ReserveForAgent(ctx, r.ID, leaseExpires)
		if err != nil {
			return nil, fmt.Errorf("reserve run %s: %w", r.ID, err)
		}
		if !reserved {
			continue // another pull (or the sweeper) won the race
		}

		pending, err := c.runs.GetPendingResults(ctx, r.ID)
		if err != nil || len(pending) == 0 {
			continue
		}

		for _, p := range pending {
			snapshot, err := c.itemSnapshot(ctx, p)
			if err != nil {
				c.log.Warn("pull tasks: item snapshot failed", zap.String("run_id", r.ID), zap.Error(err))
				continue
			}

			tasks = append(tasks, Task{
				RunID:          r.ID,
				ItemID:         *p.ItemID,
				ItemSnapshot:   snapshot,
				ClusterContext: r.ClusterID,
				LeaseExpiresAt: leaseExpires,
			})
		}
	}
	return tasks, nil
}

func (c *Coordinator) itemSnapshot(ctx context.Context, pending *run.Result) (string, error) {
	it, err := c.items.Get(ctx, *pending.ItemID)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(it)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SubmitResult ingests one evaluated item, keyed on (run_id, item_id) so
// retransmission after a dropped response is idempotent (spec §4.2). When
// the submission empties the run's pending set, the run is finalised.
func (c *Coordinator) SubmitResult(ctx context.Context, agentID, runID, itemID string, status run.ResultStatus, detail, suggestion string) (*run.Run, error) {
	r, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Executor != run.ExecutorAgent || r.AgentID == nil || *r.AgentID != agentID {
		return nil, apperr.New(apperr.KindUnauth, fmt.Sprintf("run %q is not leased to agent %q", runID, agentID))
	}

	_, updated, err := c.runs.WriteResult(ctx, runID, itemID, status, detail, suggestion)
	if err != nil {
		return nil, err
	}

	pending, err := c.runs.GetPendingResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		all, err := c.runs.ListResults(ctx, runID)
		if err != nil {
			return nil, err
		}
		terminal, summary := run.Summarize(all)
		updated, err = c.runs.Finalise(ctx, runID, terminal, summary)
		if err != nil {
			return nil, err
		}
		if err := c.runs.SetAgentLease(ctx, runID, run.AgentStatusFinished, time.Time{}); err != nil {
			c.log.Warn("submit result: clear lease failed", zap.Error(err))
		}
	} else {
		// refresh the lease: the agent is still actively working this run.
		if err := c.runs.SetAgentLease(ctx, runID, run.AgentStatusRunning, time.Now().UTC().Add(c.leaseTTL)); err != nil {
			c.log.Warn("submit result: lease refresh failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return updated, nil
}

// ReportRunFailure lets an agent abandon a run it cannot continue (e.g. lost
// cluster connectivity). Every still-pending item is recorded as a failed
// result and the run finalises as incomplete (spec §4.2), rather than
// staying leased until the sweeper reclaims it.
func (c *Coordinator) ReportRunFailure(ctx context.Context, agentID, runID, reason string) (*run.Run, error) {
	r, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Executor != run.ExecutorAgent || r.AgentID == nil || *r.AgentID != agentID {
		return nil, apperr.New(apperr.KindUnauth, fmt.Sprintf("run %q is not leased to agent %q", runID, agentID))
	}

	if err := c.runs.FailRemaining(ctx, runID, fmt.Sprintf("agent reported failure: %s", reason)); err != nil {
		return nil, err
	}
	all, err := c.runs.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	_, summary := run.Summarize(all)
	updated, err := c.runs.Finalise(ctx, runID, run.StatusIncomplete, summary)
	if err != nil {
		return nil, err
	}
	_ = c.runs.SetAgentLease(ctx, runID, run.AgentStatusFailed, time.Time{})
	return updated, nil
}
