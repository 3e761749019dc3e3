// Package cluster implements the Cluster entity, its persistence, the
// kubeconfig-based connectivity Probe, and the HTTP handlers for cluster
// management.
package cluster

import "time"

// ExecutionMode selects which plane runs this cluster's inspection items.
type ExecutionMode string

const (
	ExecutionModeServer ExecutionMode = "server"
	ExecutionModeAgent  ExecutionMode = "agent"
)

// ConnectionStatus reflects the outcome of the most recent Probe.
type ConnectionStatus string

const (
	ConnectionConnected ConnectionStatus = "connected"
	ConnectionFailed    ConnectionStatus = "failed"
	ConnectionWarning   ConnectionStatus = "warning"
	ConnectionUnknown   ConnectionStatus = "unknown"
)

// Cluster is one registered Kubernetes cluster the platform can inspect.
type Cluster struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	KubeconfigPath    string           `json:"-"`
	PrometheusURL     string           `json:"prometheus_url,omitempty"`
	Contexts          []string         `json:"contexts"`
	ConnectionStatus  ConnectionStatus `json:"connection_status"`
	ConnectionMessage string           `json:"connection_message,omitempty"`
	KubernetesVersion string           `json:"kubernetes_version,omitempty"`
	NodeCount         *int             `json:"node_count,omitempty"`
	LastCheckedAt     *time.Time       `json:"last_checked_at,omitempty"`
	ExecutionMode     ExecutionMode    `json:"execution_mode"`
	DefaultAgentID    *string          `json:"default_agent_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// EffectiveAgentID returns the agent to dispatch to when the cluster is
// configured for agent execution and that agent is still known-enabled,
// falling back to server execution (ok=false) per the invariant in spec §3.
func (c *Cluster) EffectiveAgentID(agentEnabled bool) (id string, ok bool) {
	if c.ExecutionMode != ExecutionModeAgent || c.DefaultAgentID == nil || !agentEnabled {
		return "", false
	}
	return *c.DefaultAgentID, true
}
