// Package audit implements the append-only audit trail (spec §3): a
// relational AuditLog table plus a mirrored JSON-lines file sink, following
// this codebase's append-only audit-file convention.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/db"
)

// Entry is one AuditLog row: {id, actor, action, target, detail, at}.
type Entry struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor,omitempty"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Store persists audit entries relationally and mirrors each one as a
// JSON line in a dedicated append-only file, DATA_DIR/audit.log (not rotated).
type Store struct {
	conn db.Conn
	log  *zap.Logger

	mu   sync.Mutex
	file *os.File
}

// NewStore opens (creating if absent) the append-only JSON-lines file at
// dataDir/audit.log alongside the relational sink.
func NewStore(conn db.Conn, dataDir string, log *zap.Logger) (*Store, error) {
	s := &Store{conn: conn, log: log}
	if dataDir != "" {
		path := filepath.Join(dataDir, "audit.log")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit log file: %w", err)
		}
		s.file = f
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Record inserts one audit entry and mirrors it to the JSON-lines sink.
// File-sink failures are logged but never fail the caller's operation
// (the relational row is the source of truth for the API).
func (s *Store) Record(ctx context.Context, actor, action, target, detail string) error {
	e := Entry{
		ID:     uuid.NewString(),
		Actor:  actor,
		Action: action,
		Target: target,
		Detail: detail,
		At:     time.Now().UTC(),
	}

	_, err := s.conn.Exec(ctx,
		`INSERT INTO audit_log (id, actor, action, target, detail, at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Actor, e.Action, e.Target, e.Detail, e.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	s.appendToFile(e)
	return nil
}

func (s *Store) appendToFile(e Entry) {
	if s.file == nil {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil && s.log != nil {
		s.log.Warn("audit: failed to append to file sink", zap.Error(err))
	}
}

// ListParams holds the query filters for listing audit entries.
type ListParams struct {
	Actor  string
	Action string
	Target string
	Limit  int
	Offset int
}

// List returns audit entries matching params, most recent first.
func (s *Store) List(ctx context.Context, params ListParams) ([]Entry, error) {
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}

	query := `SELECT id, actor, action, target, detail, at FROM audit_log WHERE 1=1`
	var args []any
	argIdx := 1

	if params.Actor != "" {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, params.Actor)
		argIdx++
	}
	if params.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, params.Action)
		argIdx++
	}
	if params.Target != "" {
		query += fmt.Sprintf(" AND target = $%d", argIdx)
		args = append(args, params.Target)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var actor, target, detail *string
		if err := rows.Scan(&e.ID, &actor, &e.Action, &target, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if actor != nil {
			e.Actor = *actor
		}
		if target != nil {
			e.Target = *target
		}
		if detail != nil {
			e.Detail = *detail
		}
		out = append(out, e)
	}
	if out == nil {
		out = []Entry{}
	}
	return out, rows.Err()
}
