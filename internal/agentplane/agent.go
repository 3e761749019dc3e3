// Package agentplane implements the Agent Coordination Plane (spec §4.2):
// agent registration, bearer-token authentication, heartbeat tracking, the
// pull/lease task protocol, idempotent result ingestion, and the
// stale-lease sweeper.
package agentplane

import "time"

// Agent is one registered external worker.
type Agent struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ClusterID     *string    `json:"cluster_id,omitempty"`
	Description   string     `json:"description,omitempty"`
	IsEnabled     bool       `json:"is_enabled"`
	PrometheusURL string     `json:"prometheus_url,omitempty"`
	TokenHash     string     `json:"-"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Task is one unit of work handed to a pulling agent.
type Task struct {
	RunID          string    `json:"run_id"`
	ItemID         string    `json:"item_id"`
	ItemSnapshot   string    `json:"item_snapshot"`
	ClusterContext string    `json:"cluster_context"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}
