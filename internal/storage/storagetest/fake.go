// Package storagetest provides an in-memory destination that records every
// statement, for tests of code that drives storage.Conn.
package storagetest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"bulkload/internal/schema"
	"bulkload/internal/storage"
	"bulkload/internal/storage/postgres"
)

// ErrAborted mimics Postgres refusing statements after a failed one.
var ErrAborted = errors.New("current transaction is aborted")

// Call is one recorded interaction.
type Call struct {
	Conn int
	// Op is one of: connect, exec, try, begin, copy, commit, rollback,
	// set, describe, close.
	Op  string
	SQL string
}

// Failure makes every statement containing Match fail with Err. Ops without
// SQL (connect, describe, commit) match against "op:<name>" plus the table
// for describe, e.g. "describe:cities".
type Failure struct {
	Match string
	Err   error
}

// DB is a fake server. Safe for concurrent use by many Conns.
type DB struct {
	// Dialect defaults to postgres.Dialect{}.
	Dialect storage.Dialect

	mu       sync.Mutex
	tables   map[string]*schema.Descriptor
	failures []Failure
	calls    []Call
	rows     map[string]int64
	payloads map[string][]string
	nextConn int
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		Dialect:  postgres.Dialect{},
		tables:   map[string]*schema.Descriptor{},
		rows:     map[string]int64{},
		payloads: map[string][]string{},
	}
}

// AddTable registers a destination table.
func (db *DB) AddTable(d *schema.Descriptor) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[d.Table] = d
	return db
}

// FailOn registers a failure rule.
func (db *DB) FailOn(match string, err error) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures = append(db.failures, Failure{Match: match, Err: err})
	return db
}

// Dialer returns a storage.Dialer opening Conns on db.
func (db *DB) Dialer() storage.Dialer {
	return func(ctx context.Context, _ storage.Config) (storage.Conn, error) {
		db.mu.Lock()
		db.nextConn++
		id := db.nextConn
		db.mu.Unlock()
		if err := db.record(id, "connect", "op:connect"); err != nil {
			return nil, err
		}
		return &Conn{db: db, id: id}, nil
	}
}

// Calls returns recorded calls whose Op equals op (all when op is "").
func (db *DB) Calls(op string) []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []Call
	for _, c := range db.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Statements returns the SQL of every call on conn id, in order.
func (db *DB) Statements(conn int) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for _, c := range db.calls {
		if c.Conn == conn && c.SQL != "" && !strings.HasPrefix(c.SQL, "op:") {
			out = append(out, c.SQL)
		}
	}
	return out
}

// Rows returns the committed row count of table.
func (db *DB) Rows(table string) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rows[table]
}

// Payloads returns every committed CSV payload copied into table.
func (db *DB) Payloads(table string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.payloads[table]...)
}

func (db *DB) record(conn int, op, sql string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := Call{Conn: conn, Op: op, SQL: sql}
	db.calls = append(db.calls, c)
	for _, f := range db.failures {
		if strings.Contains(sql, f.Match) {
			return f.Err
		}
	}
	return nil
}

// Conn is a fake storage.Conn.
type Conn struct {
	db     *DB
	id     int
	closed bool
}

var _ storage.Conn = (*Conn)(nil)

// ID identifies the connection in recorded calls.
func (c *Conn) ID() int { return c.id }

func (c *Conn) Exec(_ context.Context, sql string, _ ...any) error {
	return c.db.record(c.id, "exec", sql)
}

func (c *Conn) Try(_ context.Context, sql string) error {
	return c.db.record(c.id, "try", sql)
}

func (c *Conn) Begin(context.Context) (storage.Tx, error) {
	if err := c.db.record(c.id, "begin", "op:begin"); err != nil {
		return nil, err
	}
	return &Tx{conn: c, pending: map[string][]payload{}, truncated: map[string]bool{}}, nil
}

func (c *Conn) Describe(_ context.Context, table string) (*schema.Descriptor, error) {
	if err := c.db.record(c.id, "describe", "op:describe:"+table); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	d, ok := c.db.tables[table]
	c.db.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	out := *d
	out.Columns = append([]schema.Column(nil), d.Columns...)
	out.ForeignKeys = append([]schema.Constraint(nil), d.ForeignKeys...)
	if d.PrimaryKey != nil {
		pk := *d.PrimaryKey
		out.PrimaryKey = &pk
	}
	return &out, nil
}

func (c *Conn) SetSession(_ context.Context, name, value string) error {
	return c.db.record(c.id, "set", fmt.Sprintf("SET %s = %s", name, value))
}

func (c *Conn) Dialect() storage.Dialect { return c.db.Dialect }

func (c *Conn) Close(context.Context) error {
	c.closed = true
	return c.db.record(c.id, "close", "op:close")
}

// Tx is a fake storage.Tx. Copied rows become visible on Commit.
type Tx struct {
	conn      *Conn
	aborted   bool
	done      bool
	pending   map[string][]payload
	truncated map[string]bool
}

type payload struct {
	body string
	rows int64
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) check() error {
	if t.done {
		return errors.New("tx is closed")
	}
	if t.aborted {
		return ErrAborted
	}
	return nil
}

func (t *Tx) Exec(_ context.Context, sql string, _ ...any) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.conn.db.record(t.conn.id, "exec", sql); err != nil {
		t.aborted = true
		return err
	}
	if strings.HasPrefix(sql, "TRUNCATE") {
		db := t.conn.db
		db.mu.Lock()
		for table := range db.tables {
			if sql == db.Dialect.Truncate(table) {
				t.truncated[table] = true
				t.pending[table] = nil
			}
		}
		db.mu.Unlock()
	}
	return nil
}

// Try fails without aborting the transaction.
func (t *Tx) Try(_ context.Context, sql string) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.conn.db.record(t.conn.id, "try", sql)
}

func (t *Tx) CopyCSV(_ context.Context, req storage.CopyRequest, r io.Reader) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := t.conn.db.record(t.conn.id, "copy", t.conn.db.Dialect.CopyStatement(req)); err != nil {
		t.aborted = true
		return 0, err
	}
	recs, err := csv.NewReader(strings.NewReader(string(b))).ReadAll()
	if err != nil {
		t.aborted = true
		return 0, fmt.Errorf("storagetest: bad csv payload: %w", err)
	}
	n := int64(len(recs))
	if req.Header && n > 0 {
		n--
	}
	t.pending[req.Table] = append(t.pending[req.Table], payload{body: string(b), rows: n})
	return n, nil
}

func (t *Tx) Commit(context.Context) error {
	if err := t.check(); err != nil {
		t.done = true
		return err
	}
	t.done = true
	if err := t.conn.db.record(t.conn.id, "commit", "op:commit"); err != nil {
		return err
	}
	db := t.conn.db
	db.mu.Lock()
	defer db.mu.Unlock()
	for table, payloads := range t.pending {
		if t.truncated[table] {
			db.rows[table] = 0
			db.payloads[table] = nil
		}
		for _, p := range payloads {
			db.rows[table] += p.rows
			db.payloads[table] = append(db.payloads[table], p.body)
		}
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.conn.db.record(t.conn.id, "rollback", "op:rollback")
}
