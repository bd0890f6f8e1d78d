// Package sqlarchive implements archive.Archive over any database/sql driver
// whose files hold one table per key (SQLite, DuckDB).
//
// Layout convention:
//   - every user table is a key;
//   - metadata attributes live in table meta_attrs(key, attr, value) where
//     value is a JSON object;
//   - rows are read ordered by rowid, so windows preserve insertion order.
package sqlarchive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"bulkload/internal/archive"
	"bulkload/internal/frame"
)

// MetaTable is the table holding per-key metadata attributes.
const MetaTable = "meta_attrs"

// Dialect captures the few statements that differ between engines.
type Dialect struct {
	// Name prefixes error messages, e.g. "sqlite".
	Name string

	// ListKeys returns one text column with every user table name.
	ListKeys string

	// Convert, when set, rewrites each scanned non-null value. dbType is the
	// driver's DatabaseTypeName for the column, e.g. "DECIMAL(18,3)".
	Convert func(dbType string, v any) any
}

// Archive is a database/sql backed archive.
type Archive struct {
	db *sql.DB
	d  Dialect

	once    sync.Once
	keys    []string
	keySet  map[string]struct{}
	keysErr error
}

var _ archive.Archive = (*Archive)(nil)

// New wraps an already opened database handle. The Archive owns db and
// closes it in Close.
func New(db *sql.DB, d Dialect) *Archive {
	return &Archive{db: db, d: d}
}

func (a *Archive) loadKeys(ctx context.Context) error {
	a.once.Do(func() {
		rows, err := a.db.QueryContext(ctx, a.d.ListKeys)
		if err != nil {
			a.keysErr = fmt.Errorf("%s: list tables: %w", a.d.Name, err)
			return
		}
		defer rows.Close()

		set := map[string]struct{}{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				a.keysErr = fmt.Errorf("%s: scan table name: %w", a.d.Name, err)
				return
			}
			a.keys = append(a.keys, name)
			set[name] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			a.keysErr = fmt.Errorf("%s: list tables: %w", a.d.Name, err)
			return
		}
		a.keySet = set
	})
	return a.keysErr
}

func (a *Archive) has(ctx context.Context, key string) error {
	if err := a.loadKeys(ctx); err != nil {
		return err
	}
	if _, ok := a.keySet[key]; !ok {
		return fmt.Errorf("%w: %q", archive.ErrUnknownKey, key)
	}
	return nil
}

// Keys implements archive.Archive.
func (a *Archive) Keys(ctx context.Context) ([]string, error) {
	if err := a.loadKeys(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), a.keys...), nil
}

// NumRows implements archive.Archive.
func (a *Archive) NumRows(ctx context.Context, key string) (int64, error) {
	if err := a.has(ctx, key); err != nil {
		return 0, err
	}
	var n int64
	q := "SELECT count(*) FROM " + quoteIdent(key)
	if err := a.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", a.d.Name, key, err)
	}
	return n, nil
}

// Read implements archive.Archive.
func (a *Archive) Read(ctx context.Context, key string) (*frame.Frame, error) {
	if err := a.has(ctx, key); err != nil {
		return nil, err
	}
	q := "SELECT * FROM " + quoteIdent(key) + " ORDER BY rowid"
	return a.query(ctx, key, q)
}

// ReadRange implements archive.Archive.
func (a *Archive) ReadRange(ctx context.Context, key string, start, stop int64) (*frame.Frame, error) {
	if err := archive.CheckRange(start, stop); err != nil {
		return nil, err
	}
	if err := a.has(ctx, key); err != nil {
		return nil, err
	}
	q := "SELECT * FROM " + quoteIdent(key) + " ORDER BY rowid LIMIT ? OFFSET ?"
	return a.query(ctx, key, q, stop-start, start)
}

// Attr implements archive.Archive.
func (a *Archive) Attr(ctx context.Context, key, name string) (map[string]any, error) {
	if err := a.loadKeys(ctx); err != nil {
		return nil, err
	}
	if _, ok := a.keySet[MetaTable]; !ok {
		return nil, archive.ErrNoAttr
	}

	var raw sql.NullString
	q := "SELECT value FROM " + quoteIdent(MetaTable) + " WHERE key = ? AND attr = ?"
	err := a.db.QueryRowContext(ctx, q, key, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, archive.ErrNoAttr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read attr %s/%s: %w", a.d.Name, key, name, err)
	}
	return DecodeAttr(raw.String, raw.Valid)
}

// Close implements archive.Archive.
func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) query(ctx context.Context, key, q string, args ...any) (*frame.Frame, error) {
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", a.d.Name, key, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: columns %s: %w", a.d.Name, key, err)
	}

	var dbTypes []string
	if a.d.Convert != nil {
		cts, err := rows.ColumnTypes()
		if err != nil {
			return nil, fmt.Errorf("%s: column types %s: %w", a.d.Name, key, err)
		}
		dbTypes = make([]string, len(cts))
		for i, ct := range cts {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}

	f := frame.New(cols)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan %s: %w", a.d.Name, key, err)
		}
		if dbTypes != nil {
			for i, v := range vals {
				if v != nil {
					vals[i] = a.d.Convert(dbTypes[i], v)
				}
			}
		}
		f.Rows = append(f.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", a.d.Name, key, err)
	}
	return f, nil
}

// DecodeAttr parses a stored attribute value. valid=false (SQL NULL) and any
// non-object JSON are reported as archive.ErrMalformedAttr.
func DecodeAttr(raw string, valid bool) (map[string]any, error) {
	if !valid {
		return nil, fmt.Errorf("%w: null value", archive.ErrMalformedAttr)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrMalformedAttr, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want object, got %T", archive.ErrMalformedAttr, v)
	}
	return m, nil
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
