// Package storage contains the destination contracts used by the loader.
//
// A backend registers a Dialer for its kind at init time; callers obtain a
// Conn through Connect and stay backend-agnostic. Each worker owns one Conn
// for the duration of a job; Conns are never shared between goroutines.
package storage

import (
	"context"
	"errors"
	"io"

	"bulkload/internal/schema"
)

// ErrTableNotFound is returned by Describe when the table does not exist.
var ErrTableNotFound = errors.New("storage: table not found")

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// CopyRequest describes one bulk CSV load into Table.
type CopyRequest struct {
	Table   string
	Columns []string
	// Header is true when the payload starts with a header row.
	Header bool
	// Freeze requests rows written already frozen (Postgres COPY FREEZE).
	// Only valid when the table was created or truncated in the same
	// transaction.
	Freeze bool
}

// Execer runs statements.
type Execer interface {
	// Exec runs sql. Inside a transaction a failure aborts the transaction.
	Exec(ctx context.Context, sql string, args ...any) error
	// Try runs sql such that a failure leaves the surrounding transaction
	// usable (a savepoint on Postgres). The error is still returned.
	Try(ctx context.Context, sql string) error
}

// Copier streams CSV payloads into a table.
type Copier interface {
	// CopyCSV loads the CSV payload in r and returns the rows reported by
	// the server.
	CopyCSV(ctx context.Context, req CopyRequest, r io.Reader) (int64, error)
}

// Tx is an open transaction.
type Tx interface {
	Execer
	Copier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a single destination connection.
type Conn interface {
	Execer
	Begin(ctx context.Context) (Tx, error)
	// Describe reads columns and constraints of table from the catalog.
	Describe(ctx context.Context, table string) (*schema.Descriptor, error)
	// SetSession sets a session-level parameter (e.g. maintenance_work_mem).
	SetSession(ctx context.Context, name, value string) error
	Dialect() Dialect
	Close(ctx context.Context) error
}

// Dialect renders backend SQL for the statements the loader issues. Table
// names may be schema qualified ("public.cities").
type Dialect interface {
	Name() string
	QuoteTable(table string) string
	DropConstraint(table, constraint string) string
	AddConstraint(table string, c schema.Constraint) string
	Truncate(table string) string
	Analyze(table string) string
	CopyStatement(req CopyRequest) string
	// TransactionalDDL reports whether ALTER TABLE participates in the
	// surrounding transaction.
	TransactionalDDL() bool
}
