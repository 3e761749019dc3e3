package item

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

// Store persists InspectionItem rows.
type Store struct {
	conn db.Conn
}

func NewStore(conn db.Conn) *Store {
	return &Store{conn: conn}
}

func (s *Store) Create(ctx context.Context, name, description string, checkType CheckType, cfg Config) (*Item, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.conn.Exec(ctx,
		`INSERT INTO inspection_items (id, name, description, check_type, config, is_archived, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6, $6)`,
		id, name, description, string(checkType), string(raw), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("item name %q already exists", name)
		}
		return nil, fmt.Errorf("create item: %w", err)
	}
	return s.Get(ctx, id)
}

const selectItemCols = `SELECT id, name, description, check_type, config, is_archived, created_at, updated_at`

func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	row := s.conn.QueryRow(ctx, selectItemCols+` FROM inspection_items WHERE id = $1`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, apperr.NotFound("item %q not found", id)
	}
	return it, nil
}

// List returns items ordered by name. includeArchived controls whether
// archived items are included (item-picker listings default to false,
// spec §3).
func (s *Store) List(ctx context.Context, includeArchived bool) ([]*Item, error) {
	query := selectItemCols + ` FROM inspection_items`
	if !includeArchived {
		query += ` WHERE is_archived = false`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetMany fetches items by id, returning apperr.NotFound if any id is
// missing (used by run admission to validate item_ids wholesale).
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*Item, error) {
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		it, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id, name, description string, checkType CheckType, cfg Config) (*Item, error) {
	now := time.Now().UTC()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	n, err := s.conn.Exec(ctx,
		`UPDATE inspection_items SET name = $2, description = $3, check_type = $4, config = $5, updated_at = $6
		 WHERE id = $1`,
		id, name, description, string(checkType), string(raw), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("item name %q already exists", name)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	if n == 0 {
		return nil, apperr.NotFound("item %q not found", id)
	}
	return s.Get(ctx, id)
}

func (s *Store) SetArchived(ctx context.Context, id string, archived bool) error {
	now := time.Now().UTC()
	n, err := s.conn.Exec(ctx, `UPDATE inspection_items SET is_archived = $2, updated_at = $3 WHERE id = $1`, id, archived, now)
	if err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("item %q not found", id)
	}
	return nil
}

// Delete hard-deletes an item. Historic runs keep their own name snapshot
// (spec §4.1 CreateRun), so deletion never orphans a result row's display.
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.conn.Exec(ctx, `DELETE FROM inspection_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("item %q not found", id)
	}
	return nil
}

func scanItem(row db.Row) (*Item, error) {
	var it Item
	var description *string
	var checkType, rawConfig string
	err := row.Scan(&it.ID, &it.Name, &description, &checkType, &rawConfig, &it.IsArchived, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.CheckType = CheckType(checkType)
	if description != nil {
		it.Description = *description
	}
	cfg, err := DecodeConfig(it.CheckType, []byte(rawConfig))
	if err != nil {
		cfg, _ = DecodeConfig("", []byte(rawConfig))
	}
	it.Config = cfg
	return &it, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
