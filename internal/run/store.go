package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/db"
)

// Store persists Run and Result rows.
type Store struct {
	conn db.Conn
}

func NewStore(conn db.Conn) *Store {
	return &Store{conn: conn}
}

// CreateRun inserts a queued run plus one pending Result row per item, in
// submission order, snapshotting each item's current name (spec §4.1).
func (s *Store) CreateRun(ctx context.Context, clusterID, operator string, executor Executor, agentID *string, itemIDs, itemNames []string) (*Run, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	var agentStatus *AgentStatus
	if executor == ExecutorAgent {
		st := AgentStatusQueued
		agentStatus = &st
	}

	_, err := s.conn.Exec(ctx,
		`INSERT INTO inspection_runs (id, cluster_id, operator, status, executor, agent_id, agent_status,
		                               total_items, processed_items, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)`,
		id, clusterID, operator, string(StatusQueued), string(executor), agentID, agentStatusStr(agentStatus),
		len(itemIDs), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	for i, itemID := range itemIDs {
		rid := uuid.NewString()
		itemIDCopy := itemID
		if _, err := s.conn.Exec(ctx,
			`INSERT INTO inspection_results (id, run_id, item_id, item_name, seq, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rid, id, itemIDCopy, itemNames[i], i, now,
		); err != nil {
			return nil, fmt.Errorf("create pending result: %w", err)
		}
	}

	return s.GetRun(ctx, id)
}

const selectRunCols = `SELECT id, cluster_id, operator, status, executor, agent_id, agent_status,
	total_items, processed_items, summary, report_path, created_at, started_at, completed_at, lease_expires_at`

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.conn.QueryRow(ctx, selectRunCols+` FROM inspection_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return nil, apperr.NotFound("run %q not found", id)
	}
	return r, nil
}

// DeleteRun removes a run and its results (cascade delete, spec §3
// "a Run exclusively owns its Results").
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	n, err := s.conn.Exec(ctx, `DELETE FROM inspection_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("run %q not found", id)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.conn.Query(ctx, selectRunCols+` FROM inspection_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListResults returns a run's result rows in item-input order (spec §5).
func (s *Store) ListResults(ctx context.Context, runID string) ([]*Result, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, run_id, item_id, item_name, seq, status, detail, suggestion, created_at
		 FROM inspection_results WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		var res Result
		var status, detail, suggestion *string
		if err := rows.Scan(&res.ID, &res.RunID, &res.ItemID, &res.ItemName, &res.Seq, &status, &detail, &suggestion, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if status != nil {
			res.Status = ResultStatus(*status)
		}
		if detail != nil {
			res.Detail = *detail
		}
		if suggestion != nil {
			res.Suggestion = *suggestion
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// GetPendingResults returns result rows not yet evaluated, in seq order.
func (s *Store) GetPendingResults(ctx context.Context, runID string) ([]*Result, error) {
	all, err := s.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	var pending []*Result
	for _, r := range all {
		if r.Pending() {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// StartRun transitions queued -> running and stamps started_at.
func (s *Store) StartRun(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.conn.Exec(ctx, `UPDATE inspection_runs SET status = $2, started_at = $3 WHERE id = $1`, id, string(StatusRunning), now)
	return err
}

// WriteResult fills in a pending result row's outcome, advances
// processed_items, and returns the updated Run. This is the single atomic
// unit of progress described in spec §3/§4.1. idempotent: if the row was
// already evaluated (non-pending), it is left unchanged.
func (s *Store) WriteResult(ctx context.Context, runID, itemID string, status ResultStatus, detail, suggestion string) (*Result, *Run, error) {
	results, err := s.ListResults(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	var target *Result
	for _, r := range results {
		if r.ItemID != nil && *r.ItemID == itemID {
			target = r
			break
		}
	}
	if target == nil {
		return nil, nil, apperr.NotFound("no pending result for item %q in run %q", itemID, runID)
	}
	if !target.Pending() {
		run, err := s.GetRun(ctx, runID)
		return target, run, err
	}

	if _, err := s.conn.Exec(ctx,
		`UPDATE inspection_results SET status = $2, detail = $3, suggestion = $4 WHERE id = $1`,
		target.ID, string(status), detail, suggestion,
	); err != nil {
		return nil, nil, fmt.Errorf("write result: %w", err)
	}
	target.Status = status
	target.Detail = detail
	target.Suggestion = suggestion

	if _, err := s.conn.Exec(ctx, `UPDATE inspection_runs SET processed_items = processed_items + 1 WHERE id = $1`, runID); err != nil {
		return nil, nil, fmt.Errorf("advance processed_items: %w", err)
	}

	run, err := s.GetRun(ctx, runID)
	return target, run, err
}

// FailRemaining marks every still-pending result row as failed with detail,
// advancing processed_items accordingly. Used by cancellation and
// agent-reported fatal failure (spec §4.1/§4.2), neither of which may
// rewrite already-submitted results.
func (s *Store) FailRemaining(ctx context.Context, runID, detail string) error {
	pending, err := s.GetPendingResults(ctx, runID)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if _, _, err := s.WriteResult(ctx, runID, *p.ItemID, ResultFailed, detail, ""); err != nil {
			return fmt.Errorf("fail remaining result %s: %w", p.ID, err)
		}
	}
	return nil
}

// Finalise sets the run's terminal status, summary, and completed_at. It is
// a no-op (returns current state) if the run is already terminal.
func (s *Store) Finalise(ctx context.Context, id string, status Status, summary string) (*Run, error) {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsTerminal() {
		return r, nil
	}

	now := time.Now().UTC()
	_, err = s.conn.Exec(ctx,
		`UPDATE inspection_runs SET status = $2, summary = $3, completed_at = $4, lease_expires_at = NULL WHERE id = $1`,
		id, string(status), summary, now,
	)
	if err != nil {
		return nil, fmt.Errorf("finalise run: %w", err)
	}
	return s.GetRun(ctx, id)
}

func (s *Store) SetReportPath(ctx context.Context, id, path string) error {
	_, err := s.conn.Exec(ctx, `UPDATE inspection_runs SET report_path = $2 WHERE id = $1`, id, path)
	return err
}

// SetAgentLease stamps agent_status and lease_expires_at; a zero
// leaseExpires clears lease_expires_at to NULL. Used by SubmitResult,
// ReportRunFailure and CancelRun.
func (s *Store) SetAgentLease(ctx context.Context, id string, status AgentStatus, leaseExpires time.Time) error {
	var lease any
	if !leaseExpires.IsZero() {
		lease = leaseExpires
	}
	_, err := s.conn.Exec(ctx,
		`UPDATE inspection_runs SET agent_status = $2, lease_expires_at = $3 WHERE id = $1`,
		id, string(status), lease,
	)
	return err
}

// ListExpiredLeases returns agent runs whose lease has elapsed, for the
// stale-lease sweeper (spec §4.2).
func (s *Store) ListExpiredLeases(ctx context.Context, now time.Time) ([]*Run, error) {
	rows, err := s.conn.Query(ctx,
		selectRunCols+` FROM inspection_runs
		 WHERE executor = $1 AND status = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at < $3`,
		string(ExecutorAgent), string(StatusRunning), now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DetachLease resets a reclaimed run back to queued/no-lease, leaving
// already-submitted results intact.
func (s *Store) DetachLease(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE inspection_runs SET agent_status = $2, lease_expires_at = NULL WHERE id = $1`,
		id, string(AgentStatusQueued),
	)
	return err
}

// ListQueuedForAgent returns runs available for PullTasks: executor=agent,
// agent_id=agentID, agent_status=queued.
func (s *Store) ListQueuedForAgent(ctx context.Context, agentID string, max int) ([]*Run, error) {
	rows, err := s.conn.Query(ctx,
		selectRunCols+` FROM inspection_runs
		 WHERE executor = $1 AND agent_id = $2 AND agent_status = $3
		 ORDER BY created_at ASC LIMIT $4`,
		string(ExecutorAgent), agentID, string(AgentStatusQueued), max,
	)
	if err != nil {
		return nil, fmt.Errorf("list queued runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReserveForAgent atomically transitions one run from queued to running
// under the agent's lease, first-writer-wins: the UPDATE only succeeds if
// agent_status is still 'queued', so concurrent pullers serialise on it
// (spec §5 "serialisable per run").
func (s *Store) ReserveForAgent(ctx context.Context, runID string, leaseExpires time.Time) (bool, error) {
	n, err := s.conn.Exec(ctx,
		`UPDATE inspection_runs SET agent_status = $2, status = $3, lease_expires_at = $4
		 WHERE id = $1 AND agent_status = $5`,
		runID, string(AgentStatusRunning), string(StatusRunning), leaseExpires, string(AgentStatusQueued),
	)
	if err != nil {
		return false, fmt.Errorf("reserve for agent: %w", err)
	}
	return n == 1, nil
}

func scanRun(row db.Row) (*Run, error) {
	var r Run
	var operator, summary, reportPath *string
	var status, executor string
	var agentStatus *string
	err := row.Scan(&r.ID, &r.ClusterID, &operator, &status, &executor, &r.AgentID, &agentStatus,
		&r.TotalItems, &r.ProcessedItems, &summary, &reportPath, &r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.LeaseExpiresAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.Executor = Executor(executor)
	if operator != nil {
		r.Operator = *operator
	}
	if summary != nil {
		r.Summary = *summary
	}
	if reportPath != nil {
		r.ReportPath = *reportPath
	}
	if agentStatus != nil {
		st := AgentStatus(*agentStatus)
		r.AgentStatus = &st
	}
	return &r, nil
}

func agentStatusStr(s *AgentStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
