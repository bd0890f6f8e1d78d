// Package duckdb registers the "duckdb" archive kind: a DuckDB database file
// whose main-schema tables are the source keys.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"bulkload/internal/archive"
	"bulkload/internal/archive/sqlarchive"
)

var dialect = sqlarchive.Dialect{
	Name: "duckdb",
	ListKeys: `SELECT table_name FROM information_schema.tables
	           WHERE table_schema = 'main' AND table_type = 'BASE TABLE'
	           ORDER BY table_name`,
	Convert: convert,
}

func init() {
	archive.Register("duckdb", Open)
}

// Open opens the DuckDB file at path with access_mode=read_only.
func Open(ctx context.Context, path string) (archive.Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("duckdb: %w", err)
	}

	dsn := path + "?" + url.Values{"access_mode": {"read_only"}}.Encode()
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	return sqlarchive.New(db, dialect), nil
}

// convert turns driver values the CSV encoder cannot render as Postgres
// literals into their text form.
func convert(dbType string, v any) any {
	switch t := v.(type) {
	case duckdb.Decimal:
		return archive.FormatDecimal(t.Value, int32(t.Scale))
	case *duckdb.Decimal:
		return archive.FormatDecimal(t.Value, int32(t.Scale))
	case duckdb.Interval:
		return fmt.Sprintf("%d months %d days %d microseconds", t.Months, t.Days, t.Micros)
	case []byte:
		if dbType == "UUID" && len(t) == 16 {
			id, _ := uuid.FromBytes(t)
			return id.String()
		}
		return v
	case time.Time:
		switch {
		case dbType == "DATE":
			return t.Format(time.DateOnly)
		case strings.HasPrefix(dbType, "TIME") && !strings.HasPrefix(dbType, "TIMESTAMP"):
			return t.Format("15:04:05.999999")
		}
		return v
	}
	if dbType == "UUID" {
		if rv := reflect.Indirect(reflect.ValueOf(v)); rv.Kind() == reflect.Array && rv.Len() == 16 {
			var id uuid.UUID
			reflect.Copy(reflect.ValueOf(id[:]), rv)
			return id.String()
		}
	}
	return v
}
