// Package db provides the storage-backend abstraction shared by every
// domain store in the orchestration core. Two concrete backends satisfy the
// same Conn/Tx interfaces: Postgres (via pgx/pgxpool, used when DATABASE_URL
// is set) and an embedded pure-Go sqlite fallback (via modernc.org/sqlite,
// used otherwise). Domain stores are written once, in Postgres-style `$1`
// placeholder SQL, against these interfaces.
package db

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is the single-row result of QueryRow, satisfied by both pgx.Row and a
// thin sql.Row adapter.
type Row interface {
	Scan(dest ...any) error
}

// Rows is the multi-row result of Query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Conn is the minimal querying surface domain stores depend on. *DB, and
// any Tx opened from it, both implement Conn.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Tx is a Conn plus commit/rollback.
type Tx interface {
	Conn
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner is implemented by *DB to start a transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// DB wraps one of the two backends and implements Conn + TxBeginner.
type DB struct {
	backend Conn
	begin   func(ctx context.Context) (Tx, error)
	closeFn func()
	driver  string
}

// Driver reports which backend is active: "postgres" or "sqlite".
func (d *DB) Driver() string { return d.driver }

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return d.backend.Exec(ctx, sql, args...)
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return d.backend.QueryRow(ctx, sql, args...)
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return d.backend.Query(ctx, sql, args...)
}

func (d *DB) BeginTx(ctx context.Context) (Tx, error) {
	return d.begin(ctx)
}

// Close releases the underlying connection pool/handle.
func (d *DB) Close() {
	if d.closeFn != nil {
		d.closeFn()
	}
}

// New opens the appropriate backend: Postgres when databaseURL is non-empty,
// otherwise an embedded sqlite database rooted at sqlitePath.
func New(ctx context.Context, databaseURL, sqlitePath string) (*DB, error) {
	if databaseURL != "" {
		return newPostgres(ctx, databaseURL)
	}
	return newSQLite(ctx, sqlitePath)
}

func newPostgres(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &DB{
		backend: pgConn{pool},
		begin: func(ctx context.Context) (Tx, error) {
			tx, err := pool.Begin(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to begin tx: %w", err)
			}
			return pgTx{tx}, nil
		},
		closeFn: pool.Close,
		driver:  "postgres",
	}, nil
}

// RunMigrations applies schema migrations for the given backend/DSN pair.
// driver is "postgres" or "sqlite", matching DB.Driver().
func RunMigrations(driver, databaseURL, migrationsPath string) error {
	dsn := databaseURL
	if driver == "sqlite" {
		dsn = "sqlite://" + databaseURL
	}
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
