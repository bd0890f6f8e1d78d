// Package sqlite registers the "sqlite" archive kind: a SQLite database file
// where each table is a source key. It uses the pure-Go modernc.org/sqlite
// driver and opens the file read-only.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"bulkload/internal/archive"
	"bulkload/internal/archive/sqlarchive"
)

var dialect = sqlarchive.Dialect{
	Name:     "sqlite",
	ListKeys: `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`,
}

func init() {
	archive.Register("sqlite", Open)
}

// Open opens the SQLite archive at path in read-only mode.
func Open(ctx context.Context, path string) (archive.Archive, error) {
	// The driver would silently create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return sqlarchive.New(db, dialect), nil
}

// dsn builds a read-only URI filename. The path is percent-escaped so '?' and
// '#' in file names do not start the query or fragment.
func dsn(path string) string {
	u := url.URL{Path: path}
	return "file:" + u.EscapedPath() + "?mode=ro"
}
