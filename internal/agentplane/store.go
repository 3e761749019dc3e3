package agentplane

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/db"
)

// Store persists registered agents and their hashed bearer tokens, following
// the hash-never-store-plaintext pattern used for cluster agent tokens.
type Store struct {
	conn db.Conn
}

func NewStore(conn db.Conn) *Store {
	return &Store{conn: conn}
}

// Register creates an agent and returns it alongside the plaintext token,
// which is shown to the caller exactly once and never persisted or logged.
func (s *Store) Register(ctx context.Context, name string, clusterID *string, description, prometheusURL string) (*Agent, string, error) {
	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate agent token: %w", err)
	}

	a := &Agent{
		ID:            uuid.NewString(),
		Name:          name,
		ClusterID:     clusterID,
		Description:   description,
		IsEnabled:     true,
		PrometheusURL: prometheusURL,
		TokenHash:     hashToken(token),
		CreatedAt:     time.Now().UTC(),
	}

	_, err = s.conn.Exec(ctx,
		`INSERT INTO inspection_agents (id, name, cluster_id, description, is_enabled, prometheus_url, token_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Name, a.ClusterID, a.Description, a.IsEnabled, a.PrometheusURL, a.TokenHash, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, "", apperr.Conflict("an agent named %q already exists", name)
		}
		return nil, "", fmt.Errorf("register agent: %w", err)
	}
	return a, token, nil
}

const selectAgentCols = `SELECT id, name, cluster_id, description, is_enabled, prometheus_url, token_hash, last_seen_at, created_at`

func (s *Store) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.conn.QueryRow(ctx, selectAgentCols+` FROM inspection_agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, apperr.NotFound("agent %q not found", id)
	}
	return a, nil
}

func (s *Store) List(ctx context.Context) ([]*Agent, error) {
	rows, err := s.conn.Query(ctx, selectAgentCols+` FROM inspection_agents ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.conn.Exec(ctx, `UPDATE inspection_agents SET is_enabled = $2 WHERE id = $1`, id, enabled)
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM inspection_agents WHERE id = $1`, id)
	return err
}

func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, `UPDATE inspection_agents SET last_seen_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

// Authenticate looks up the agent by id and compares token against its
// stored hash in constant time. Returns apperr.KindUnauth on any mismatch,
// including an unknown agent id or a disabled agent, without distinguishing
// which in the error message (spec §6 bearer-token transport).
func (s *Store) Authenticate(ctx context.Context, id, token string) (*Agent, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, apperr.New(apperr.KindUnauth, "invalid agent credentials")
	}
	if !a.IsEnabled {
		return nil, apperr.New(apperr.KindUnauth, "invalid agent credentials")
	}
	want := hashToken(token)
	if subtle.ConstantTimeCompare([]byte(want), []byte(a.TokenHash)) != 1 {
		return nil, apperr.New(apperr.KindUnauth, "invalid agent credentials")
	}
	return a, nil
}

// IsEnabled reports whether an agent exists and is currently enabled, for
// the Run Orchestrator's executor-routing decision (spec §4.1) without that
// package depending on agentplane's full Agent type.
func (s *Store) IsEnabled(ctx context.Context, id string) (bool, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return a.IsEnabled, nil
}

func scanAgent(row db.Row) (*Agent, error) {
	var a Agent
	var description, prometheusURL *string
	err := row.Scan(&a.ID, &a.Name, &a.ClusterID, &description, &a.IsEnabled, &prometheusURL, &a.TokenHash, &a.LastSeenAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		a.Description = *description
	}
	if prometheusURL != nil {
		a.PrometheusURL = *prometheusURL
	}
	return &a, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
