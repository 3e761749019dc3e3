// Package run implements the Run State Machine & Executor Dispatch (spec
// §4.1): admission, the server-executor background loop, cancellation, and
// finalisation of InspectionRuns.
package run

import (
	"fmt"
	"time"
)

// Status is the InspectionRun state machine's current state (spec §4.1).
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused" // never produced; accepted on read per spec §9.
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// Executor names which plane runs a run's items.
type Executor string

const (
	ExecutorServer Executor = "server"
	ExecutorAgent  Executor = "agent"
)

// AgentStatus is only meaningful when Executor == ExecutorAgent.
type AgentStatus string

const (
	AgentStatusQueued   AgentStatus = "queued"
	AgentStatusRunning  AgentStatus = "running"
	AgentStatusFinished AgentStatus = "finished"
	AgentStatusFailed   AgentStatus = "failed"
)

// ResultStatus is the tri-valued outcome of one item evaluation.
type ResultStatus string

const (
	ResultPassed  ResultStatus = "passed"
	ResultWarning ResultStatus = "warning"
	ResultFailed  ResultStatus = "failed"
)

// Run is one InspectionRun (spec §3).
type Run struct {
	ID             string       `json:"id"`
	ClusterID      string       `json:"cluster_id"`
	Operator       string       `json:"operator,omitempty"`
	Status         Status       `json:"status"`
	Executor       Executor     `json:"executor"`
	AgentID        *string      `json:"agent_id,omitempty"`
	AgentStatus    *AgentStatus `json:"agent_status,omitempty"`
	TotalItems     int          `json:"total_items"`
	ProcessedItems int          `json:"processed_items"`
	Summary        string       `json:"summary,omitempty"`
	ReportPath     string       `json:"report_path,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
}

// Progress returns round(100*processed/total), 0 when there are no items.
func (r *Run) Progress() int {
	if r.TotalItems == 0 {
		return 0
	}
	return int((100*int64(r.ProcessedItems) + int64(r.TotalItems)/2) / int64(r.TotalItems))
}

// IsTerminal reports whether no further writes to status/progress are
// allowed (spec §5).
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusIncomplete, StatusCancelled:
		return true
	default:
		return false
	}
}

// Result is one InspectionResult row (spec §3). Status is empty for a
// pending (not yet evaluated) row, snapshotted at run admission.
type Result struct {
	ID         string       `json:"id"`
	RunID      string       `json:"run_id"`
	ItemID     *string      `json:"item_id,omitempty"`
	ItemName   string       `json:"item_name"`
	Seq        int          `json:"-"`
	Status     ResultStatus `json:"status,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Pending reports whether this row has not yet been evaluated.
func (r *Result) Pending() bool { return r.Status == "" }

// Summarize computes the terminal status and human-readable summary
// sentence for a fully-accounted-for set of results: completed iff every
// result passed, otherwise incomplete (spec §4.1).
func Summarize(results []*Result) (status Status, summary string) {
	var passed, warning, failed int
	for _, r := range results {
		switch r.Status {
		case ResultPassed:
			passed++
		case ResultWarning:
			warning++
		case ResultFailed:
			failed++
		}
	}
	status = StatusCompleted
	if warning > 0 || failed > 0 {
		status = StatusIncomplete
	}
	summary = fmt.Sprintf("%d item(s) passed, %d warning(s), %d failed", passed, warning, failed)
	return status, summary
}
