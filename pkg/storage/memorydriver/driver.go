// Package memorydriver is a database/sql driver backed by a goroutine-owned
// in-memory store. It understands exactly the statements in package query and
// supports transactions with exclusive product row locks, which is enough to
// run the whole application and its tests without an external database.
package memorydriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Option tunes a store created by Open.
type Option func(*options)

type options struct {
	lockTimeout time.Duration
}

// WithLockTimeout bounds how long a statement waits for a locked product row.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// Open creates a fresh store, loading path when it exists, and returns a pool on top of it.
// An empty path keeps everything in RAM. The cleanup function flushes and stops the store.
func Open(path string, opts ...Option) (*sql.DB, func(), error) {
	o := options{lockTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	st, err := newStore(path, o.lockTimeout)
	if err != nil {
		return nil, func() {}, err
	}
	db := sql.OpenDB(&connector{store: st})
	var once sync.Once
	cleanup := func() {
		once.Do(st.close)
	}
	return db, cleanup, nil
}

// connector hands out connections that share one store.
type connector struct {
	store *store
}

func (c *connector) Connect(context.Context) (driver.Conn, error) {
	return &conn{store: c.store}, nil
}

func (c *connector) Driver() driver.Driver { return Driver{} }

// Driver exists to satisfy driver.Connector; named opens are not supported.
type Driver struct{}

// Open always fails because a store must be created through the package-level Open.
func (Driver) Open(string) (driver.Conn, error) {
	return nil, errors.New("memorydriver: use memorydriver.Open")
}

// conn forwards statements to the store; while a transaction is active they run against it.
type conn struct {
	store *store
	tx    *memTx
}

var (
	_ driver.ExecerContext  = (*conn)(nil)
	_ driver.QueryerContext = (*conn)(nil)
	_ driver.ConnBeginTx    = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{conn: c, query: query}, nil
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts a transaction; every isolation level behaves as read committed with row locks.
func (c *conn) BeginTx(ctx context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.tx != nil {
		return nil, errors.New("memorydriver: transaction already in progress")
	}
	select {
	case <-c.store.closed:
		return nil, ErrClosed
	default:
	}
	c.tx = &memTx{
		conn: c,
		held: make(map[int64]chan struct{}),
		rows: make(map[int64]productRecord),
		base: make(map[int64]productRecord),
	}
	return c.tx, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if isDDL(query) {
		// Schema bootstrap statements do not touch the store.
		return execResult{}, nil
	}
	h, ok := execHandlers[query]
	if !ok {
		return nil, fmt.Errorf("memorydriver: unsupported exec: %s", query)
	}
	return h(ctx, c, values(args))
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	h, ok := queryHandlers[query]
	if !ok {
		return nil, fmt.Errorf("memorydriver: unsupported query: %s", query)
	}
	return h(ctx, c, values(args))
}

func isDDL(query string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	return strings.HasPrefix(trimmed, "create ") || strings.HasPrefix(trimmed, "drop ")
}

// memTx holds the rows it locked. Locked product rows are edited on private
// copies; on commit only the columns that differ from base are written back,
// so writes that skip the row lock (supplier detach) survive. Other writes
// are queued.
type memTx struct {
	conn    *conn
	held    map[int64]chan struct{}
	rows    map[int64]productRecord
	base    map[int64]productRecord
	pending []func(st *snapshot)
	done    bool
}

func (t *memTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	defer t.finish()

	return t.conn.store.write(context.Background(), func(st *snapshot) error {
		for id, row := range t.rows {
			if p := st.product(id); p != nil {
				p.merge(t.base[id], row)
			}
		}
		for _, op := range t.pending {
			op(st)
		}
		return nil
	})
}

func (t *memTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.finish()
	return nil
}

func (t *memTx) finish() {
	for _, lock := range t.held {
		release(lock)
	}
	t.held = nil
	t.rows = nil
	t.base = nil
	t.pending = nil
	t.conn.tx = nil
}

// lockRow returns the transaction's view of a product row, taking its lock
// first. The lock is kept only inside a transaction and only when the row
// satisfies match, mirroring a FOR UPDATE that matched nothing.
func (c *conn) lockRow(ctx context.Context, id int64, match func(productRecord) bool) (productRecord, bool, error) {
	if c.tx != nil {
		if row, ok := c.tx.rows[id]; ok {
			return row, match(row), nil
		}
	}

	lock, err := c.store.acquire(ctx, id)
	if err != nil {
		return productRecord{}, false, err
	}
	var (
		row   productRecord
		found bool
	)
	err = c.store.read(ctx, func(st *snapshot) error {
		if p := st.product(id); p != nil {
			row, found = p.clone(), true
		}
		return nil
	})
	if err != nil {
		release(lock)
		return productRecord{}, false, err
	}

	matched := found && match(row)
	if c.tx == nil || !matched {
		release(lock)
		return row, matched, nil
	}
	c.tx.held[id] = lock
	c.tx.rows[id] = row
	c.tx.base[id] = row.clone()
	return row, true, nil
}

// claimsBarcode reports whether an update newly puts a barcode in use.
func claimsBarcode(before, after productRecord) bool {
	if after.Deleted || after.Barcode == "" {
		return false
	}
	return after.Barcode != before.Barcode || before.Deleted
}

// mutateProduct applies fn to one product row under its lock. Inside a
// transaction the change stays private until commit.
func (c *conn) mutateProduct(ctx context.Context, id int64, fn func(p *productRecord) bool) (driver.Result, error) {
	if c.tx != nil {
		row, found, err := c.lockRow(ctx, id, func(productRecord) bool { return true })
		if err != nil || !found {
			return execResult{}, err
		}
		before := row
		if !fn(&row) {
			return execResult{}, nil
		}
		if row.Stock < 0 {
			return nil, ErrCheckViolation
		}
		if claimsBarcode(before, row) {
			if err := c.store.read(ctx, func(st *snapshot) error { return st.barcodeTaken(row) }); err != nil {
				return nil, err
			}
		}
		c.tx.rows[id] = row
		return execResult{affected: 1}, nil
	}

	lock, err := c.store.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release(lock)

	var affected int64
	err = c.store.write(ctx, func(st *snapshot) error {
		p := st.product(id)
		if p == nil {
			return nil
		}
		row := p.clone()
		if !fn(&row) {
			return nil
		}
		if row.Stock < 0 {
			return ErrCheckViolation
		}
		if claimsBarcode(*p, row) {
			if err := st.barcodeTaken(row); err != nil {
				return err
			}
		}
		*p = row
		affected = 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return execResult{affected: affected}, nil
}

// apply runs a non-product write now, or queues it until commit inside a transaction.
func (c *conn) apply(ctx context.Context, op func(st *snapshot)) error {
	if c.tx != nil {
		c.tx.pending = append(c.tx.pending, op)
		return nil
	}
	return c.store.write(ctx, func(st *snapshot) error {
		op(st)
		return nil
	})
}

// products returns a copy of every product row as this connection sees it.
func (c *conn) products(ctx context.Context) ([]productRecord, error) {
	var out []productRecord
	err := c.store.read(ctx, func(st *snapshot) error {
		out = make([]productRecord, len(st.Products))
		for i, p := range st.Products {
			out[i] = p.clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.tx != nil {
		for i := range out {
			if row, ok := c.tx.rows[out[i].ID]; ok {
				out[i] = row
			}
		}
	}
	return out, nil
}

// stmt exists for explicit Prepare calls; it routes through the connection.
type stmt struct {
	conn  *conn
	query string
}

func (s *stmt) Close() error { return nil }

// NumInput returns -1 so database/sql accepts any argument count.
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.ExecContext(context.Background(), s.query, named(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.QueryContext(context.Background(), s.query, named(args))
}

// execResult fulfills driver.Result with the generated identifier.
type execResult struct {
	id       int64
	affected int64
}

func (r execResult) LastInsertId() (int64, error) { return r.id, nil }
func (r execResult) RowsAffected() (int64, error) { return r.affected, nil }

// rows iterates over materialized records.
type rows struct {
	columns []string
	data    [][]driver.Value
	index   int
}

func (r *rows) Columns() []string { return r.columns }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.index >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.index])
	r.index++
	return nil
}

func values(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

// toString converts driver.Value into a usable string.
func toString(value driver.Value) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toInt64 converts driver.Value to int64 for ids and counters.
func toInt64(value driver.Value) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	case []byte:
		parsed, _ := strconv.ParseInt(string(v), 10, 64)
		return parsed
	default:
		return 0
	}
}

// toNullInt64 keeps NULL distinct from zero for optional foreign keys.
func toNullInt64(value driver.Value) *int64 {
	if value == nil {
		return nil
	}
	v := toInt64(value)
	return &v
}

func toBool(value driver.Value) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// toTime handles timestamp columns.
func toTime(value driver.Value) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("memorydriver: unsupported time value %T", value)
	}
}

func nullable(id *int64) driver.Value {
	if id == nil {
		return nil
	}
	return *id
}
