// Package postgres implements the "postgres" storage backend on pgx v5.
//
// Each Conn wraps one *pgx.Conn (no pool: a worker owns exactly one session
// for its job). CSV payloads are streamed with the raw COPY protocol through
// pgconn so COPY options such as FREEZE and HEADER can be used.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bulkload/internal/storage"
)

// connect is a test seam.
var connect = pgx.Connect

func init() {
	storage.Register("postgres", Dial)
}

// Dial opens a single connection using cfg.DSN.
func Dial(ctx context.Context, cfg storage.Config) (storage.Conn, error) {
	c, err := connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Conn{conn: c}, nil
}

// Conn is a storage.Conn over *pgx.Conn.
type Conn struct {
	conn *pgx.Conn
}

var _ storage.Conn = (*Conn)(nil)

// Exec runs sql in autocommit mode.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return describeErr(err)
}

// Try is Exec: outside a transaction a failed statement leaves nothing to
// recover.
func (c *Conn) Try(ctx context.Context, sql string) error {
	return c.Exec(ctx, sql)
}

// Begin starts a transaction.
func (c *Conn) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", describeErr(err))
	}
	return &Tx{tx: tx}, nil
}

// SetSession sets a session parameter with set_config, so the value is bound
// rather than spliced into SQL.
func (c *Conn) SetSession(ctx context.Context, name, value string) error {
	_, err := c.conn.Exec(ctx, "SELECT set_config($1, $2, false)", name, value)
	if err != nil {
		return fmt.Errorf("postgres: set %s: %w", name, describeErr(err))
	}
	return nil
}

func (c *Conn) Dialect() storage.Dialect { return Dialect{} }

func (c *Conn) Close(ctx context.Context) error { return c.conn.Close(ctx) }

// Tx is a storage.Tx over pgx.Tx.
type Tx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return describeErr(err)
}

// Try runs sql inside a savepoint. On failure the savepoint is rolled back and
// the transaction stays usable.
func (t *Tx) Try(ctx context.Context, sql string) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: savepoint: %w", describeErr(err))
	}
	if _, err := sp.Exec(ctx, sql); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(describeErr(err), rbErr)
		}
		return describeErr(err)
	}
	return sp.Commit(ctx)
}

// CopyCSV streams r with COPY ... FROM STDIN.
func (t *Tx) CopyCSV(ctx context.Context, req storage.CopyRequest, r io.Reader) (int64, error) {
	tag, err := t.tx.Conn().PgConn().CopyFrom(ctx, r, Dialect{}.CopyStatement(req))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", req.Table, describeErr(err))
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) Commit(ctx context.Context) error { return describeErr(t.tx.Commit(ctx)) }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// describeErr surfaces SQLSTATE and detail of server errors while keeping the
// *pgconn.PgError reachable through errors.As.
func describeErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			return fmt.Errorf("%w (%s; detail: %s)", err, pgErr.SQLState(), pgErr.Detail)
		}
		return fmt.Errorf("%w (%s)", err, pgErr.SQLState())
	}
	return err
}
