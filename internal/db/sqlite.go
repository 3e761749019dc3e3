package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// rebind rewrites Postgres-style "$1", "$2", ... placeholders into the bare
// "?" positional placeholders modernc.org/sqlite expects, so every domain
// store can be written once against a single SQL dialect. Because $N refers
// to the Nth argument by index (and may repeat or appear out of order),
// args is reordered/duplicated to match the "?" occurrences it produces.
func rebind(query string, args []any) (string, []any) {
	if !strings.ContainsRune(query, '$') {
		return query, args
	}
	var b strings.Builder
	b.Grow(len(query))
	newArgs := make([]any, 0, len(args))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			n := 0
			for _, d := range query[i+1 : j] {
				n = n*10 + int(d-'0')
			}
			b.WriteByte('?')
			if n-1 >= 0 && n-1 < len(args) {
				newArgs = append(newArgs, args[n-1])
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), newArgs
}

func newSQLite(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	return &DB{
		backend: sqliteConn{sqlDB},
		begin: func(ctx context.Context) (Tx, error) {
			tx, err := sqlDB.BeginTx(ctx, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to begin tx: %w", err)
			}
			return sqliteTx{tx}, nil
		},
		closeFn: func() { _ = sqlDB.Close() },
		driver:  "sqlite",
	}, nil
}

type sqliteConn struct {
	db *sql.DB
}

func (c sqliteConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, a := rebind(query, args)
	res, err := c.db.ExecContext(ctx, q, a...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c sqliteConn) QueryRow(ctx context.Context, query string, args ...any) Row {
	q, a := rebind(query, args)
	return c.db.QueryRowContext(ctx, q, a...)
}

func (c sqliteConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	q, a := rebind(query, args)
	rows, err := c.db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, a := rebind(query, args)
	res, err := t.tx.ExecContext(ctx, q, a...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t sqliteTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	q, a := rebind(query, args)
	return t.tx.QueryRowContext(ctx, q, a...)
}

func (t sqliteTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	q, a := rebind(query, args)
	rows, err := t.tx.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (t sqliteTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t sqliteTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// sqlRows adapts *sql.Rows to Rows, swallowing the Close error the way
// database/sql callers conventionally do with `defer rows.Close()`.
type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }

// SQLitePathFor returns the default embedded database path under dataDir.
func SQLitePathFor(dataDir string) string {
	return filepath.Join(dataDir, "inspector.db")
}
