// Package storage owns the database handle shared by every repository.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"storefront/pkg/storage/memorydriver"
)

// Dialect names the backend behind a DB; its value doubles as the -db-type flag.
type Dialect string

const (
	Memory   Dialect = "memory"
	Postgres Dialect = "pgx"
	MySQL    Dialect = "mysql"
)

// ErrUnsupportedDialect is returned by Open for unknown -db-type values.
var ErrUnsupportedDialect = errors.New("unsupported database type")

// Queryer is satisfied by both *sql.DB and *sql.Tx so repositories can run inside or outside a transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config selects and tunes the backend.
type Config struct {
	Dialect     Dialect
	DSN         string        // pgx / mysql connection string
	Path        string        // memory snapshot file; empty keeps everything in RAM
	LockTimeout time.Duration // memory row-lock wait bound
}

// DB wraps *sql.DB with the dialect knowledge repositories need.
type DB struct {
	*sql.DB
	dialect Dialect
	cleanup func()
}

// Open connects to the configured backend and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch cfg.Dialect {
	case Memory:
		db, cleanup, err := memorydriver.Open(cfg.Path, memorydriver.WithLockTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		return &DB{DB: db, dialect: Memory, cleanup: cleanup}, nil
	case Postgres, MySQL:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("%s requires a connection string", cfg.Dialect)
		}
		db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Dialect, err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", cfg.Dialect, err)
		}
		return &DB{DB: db, dialect: cfg.Dialect}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Dialect)
	}
}

// Wrap adopts an existing handle, mostly for tests that build their own pool.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect}
}

// Dialect reports the backend in use.
func (db *DB) Dialect() Dialect { return db.dialect }

// Close releases the pool and, for the memory backend, flushes and stops the store.
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.cleanup != nil {
		db.cleanup()
	}
	return err
}

// Rebind rewrites `?` placeholders into the form the backend expects.
func (db *DB) Rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert runs an INSERT and returns the generated id.
// PostgreSQL has no LastInsertId, so the statement gets a RETURNING clause there.
func (db *DB) Insert(ctx context.Context, q Queryer, query string, args ...any) (int64, error) {
	if db.dialect == Postgres {
		var id int64
		if err := q.QueryRowContext(ctx, db.Rebind(query)+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InTx runs fn inside a transaction. Any error from fn, a panic, or a failed
// commit leaves nothing behind: the deferred rollback always runs.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return &TxError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &TxError{Op: "commit", Err: err}
	}
	return nil
}
