// Package sqlite implements the repository interfaces using SQLite as the
// system of record for users, addresses, catalog, inventory and orders.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no C compiler, no CGo, works
// wherever Go works. The blank import below registers it with database/sql
// under the driver name "sqlite".
//
// QUERYING:
// Reads go through sqlx (GetContext / SelectContext) so rows land directly
// in the db-tagged model structs. Writes use plain ExecContext with ?
// placeholders, exactly as with database/sql.
//
// CONNECTIONS:
// The pool is capped at ONE open connection. SQLite serialises writers
// anyway, PRAGMAs are per-connection, and an ":memory:" database only exists
// on the connection that created it. The consequence: inside InTx, only the
// Tx may be used; touching *DB from within the callback would wait forever
// for the connection the transaction already holds.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/repository"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// sqlx does not know the modernc driver name; tell it which bindvar it uses.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var (
	_ repository.TxStore = (*DB)(nil)
	_ repository.Tx      = (*Tx)(nil)
)

// store holds every repository method. It runs against whatever q is:
// the pool (DB) or an open transaction (Tx).
type store struct {
	q sqlx.ExtContext
}

// DB wraps the connection pool and provides repository methods.
type DB struct {
	store
	conn *sqlx.DB
}

// Tx is a repository bound to one transaction.
type Tx struct {
	store
	tx *sqlx.Tx
}

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/storefront.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{store: store{q: conn}, conn: conn}

	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate applies every embedded migration that has not run yet.
// golang-migrate records the applied version in schema_migrations, so this
// is safe to call on every start.
func (db *DB) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	drv, err := migratesqlite.WithInstance(db.conn.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	// Do not call m.Close(): it would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise (including on panic).
func (db *DB) InTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	sqlTx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{store: store{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a named SQLite savepoint.
// On failure the savepoint is rolled back and released, leaving the
// enclosing transaction intact, and fn's error is returned.
func (t *Tx) Savepoint(ctx context.Context, fn func() error) error {
	// Savepoint names are identifiers, not bind parameters.
	name := "sp_" + xid.New().String()

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("sqlite: opening savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("sqlite: rolling back savepoint after %v: %w", err, rbErr)
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return fmt.Errorf("sqlite: releasing savepoint after %v: %w", err, relErr)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("sqlite: releasing savepoint: %w", err)
	}
	return nil
}

// uniqueViolation reports the "table.column" named by a UNIQUE constraint
// failure, e.g. "orders.order_number".
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexAny(rest, " ,)"); j >= 0 {
		rest = rest[:j]
	}
	return rest, true
}

// conflictOr translates a UNIQUE violation into apperror.Conflict and wraps
// anything else with the given context.
func conflictOr(err error, resource, format string, args ...any) error {
	if col, ok := uniqueViolation(err); ok {
		field := col
		if k := strings.IndexByte(col, '.'); k >= 0 {
			field = col[k+1:]
		}
		return apperror.Conflict(resource, field)
	}
	return wrapf(err, format, args...)
}

func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf("sqlite: "+format+": %w", append(args, err)...)
}

// notFoundOr translates sql.ErrNoRows into apperror.NotFound.
func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound(resource, id)
	}
	return fmt.Errorf("sqlite: getting %s %s: %w", resource, id, err)
}

// checkAffected returns NotFound when an UPDATE/DELETE matched no rows.
func checkAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
