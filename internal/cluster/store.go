package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/db"
)

// Store persists Cluster rows. It is written once against db.Conn so the
// same SQL works against both the Postgres and embedded sqlite backends.
type Store struct {
	conn db.Conn
}

func NewStore(conn db.Conn) *Store {
	return &Store{conn: conn}
}

// CreateCluster inserts a new cluster with connection_status=unknown. A
// duplicate name is reported as apperr.KindConflict.
func (s *Store) CreateCluster(ctx context.Context, name, kubeconfigPath, prometheusURL string, mode ExecutionMode) (*Cluster, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	contexts, _ := json.Marshal([]string{})

	_, err := s.conn.Exec(ctx,
		`INSERT INTO clusters (id, name, kubeconfig_path, prometheus_url, contexts, connection_status,
		                        execution_mode, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		id, name, kubeconfigPath, prometheusURL, string(contexts), string(ConnectionUnknown), string(mode), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("cluster name %q already exists", name)
		}
		return nil, fmt.Errorf("create cluster: %w", err)
	}
	return s.GetCluster(ctx, id)
}

func (s *Store) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	row := s.conn.QueryRow(ctx, selectClusterCols+` FROM clusters WHERE id = $1`, id)
	c, err := scanCluster(row)
	if err != nil {
		return nil, apperr.NotFound("cluster %q not found", id)
	}
	return c, nil
}

func (s *Store) GetClusterByName(ctx context.Context, name string) (*Cluster, error) {
	row := s.conn.QueryRow(ctx, selectClusterCols+` FROM clusters WHERE name = $1`, name)
	c, err := scanCluster(row)
	if err != nil {
		return nil, apperr.NotFound("cluster %q not found", name)
	}
	return c, nil
}

func (s *Store) ListClusters(ctx context.Context) ([]*Cluster, error) {
	rows, err := s.conn.Query(ctx, selectClusterCols+` FROM clusters ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []*Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCluster updates the operator-editable fields.
func (s *Store) UpdateCluster(ctx context.Context, id, name, prometheusURL string, mode ExecutionMode, defaultAgentID *string) (*Cluster, error) {
	now := time.Now().UTC()
	n, err := s.conn.Exec(ctx,
		`UPDATE clusters SET name = $2, prometheus_url = $3, execution_mode = $4, default_agent_id = $5, updated_at = $6
		 WHERE id = $1`,
		id, name, prometheusURL, string(mode), defaultAgentID, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("cluster name %q already exists", name)
		}
		return nil, fmt.Errorf("update cluster: %w", err)
	}
	if n == 0 {
		return nil, apperr.NotFound("cluster %q not found", id)
	}
	return s.GetCluster(ctx, id)
}

func (s *Store) UpdateProbeResult(ctx context.Context, id string, status ConnectionStatus, message, version string, nodeCount *int) error {
	now := time.Now().UTC()
	_, err := s.conn.Exec(ctx,
		`UPDATE clusters SET connection_status = $2, connection_message = $3, kubernetes_version = $4,
		                      node_count = $5, last_checked_at = $6, updated_at = $6
		 WHERE id = $1`,
		id, string(status), message, version, nodeCount, now,
	)
	if err != nil {
		return fmt.Errorf("update probe result: %w", err)
	}
	return nil
}

func (s *Store) DeleteCluster(ctx context.Context, id string) error {
	n, err := s.conn.Exec(ctx, `DELETE FROM clusters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("cluster %q not found", id)
	}
	return nil
}

// ClearDefaultAgent detaches any cluster pointing at agentID as its default
// agent, used when an agent is deleted or disabled.
func (s *Store) ClearDefaultAgent(ctx context.Context, agentID string) error {
	_, err := s.conn.Exec(ctx, `UPDATE clusters SET default_agent_id = NULL WHERE default_agent_id = $1`, agentID)
	return err
}

const selectClusterCols = `SELECT id, name, kubeconfig_path, prometheus_url, contexts, connection_status,
	connection_message, kubernetes_version, node_count, last_checked_at, execution_mode,
	default_agent_id, created_at, updated_at`

func scanCluster(row db.Row) (*Cluster, error) {
	var c Cluster
	var prometheusURL, connMessage, version, contextsJSON *string
	var mode, status string
	err := row.Scan(&c.ID, &c.Name, &c.KubeconfigPath, &prometheusURL, &contextsJSON, &status,
		&connMessage, &version, &c.NodeCount, &c.LastCheckedAt, &mode,
		&c.DefaultAgentID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ConnectionStatus = ConnectionStatus(status)
	c.ExecutionMode = ExecutionMode(mode)
	if prometheusURL != nil {
		c.PrometheusURL = *prometheusURL
	}
	if connMessage != nil {
		c.ConnectionMessage = *connMessage
	}
	if version != nil {
		c.KubernetesVersion = *version
	}
	if contextsJSON != nil {
		_ = json.Unmarshal([]byte(*contextsJSON), &c.Contexts)
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
