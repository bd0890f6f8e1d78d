package duckdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkload/internal/archive"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.duckdb")
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE cities (id INTEGER, name VARCHAR, pop DOUBLE, area DECIMAL(9,2), capital TINYINT)`,
		`INSERT INTO cities VALUES
			(1, 'Oslo', 0.7, 454.03, 1),
			(2, 'Lima', NULL, -2672.5, 1),
			(3, '', 9.1, 0.05, 0),
			(4, 'Quito', 2.8, NULL, NULL)`,
		`CREATE TABLE events (ref UUID, day DATE, at TIMESTAMP, span INTERVAL)`,
		`INSERT INTO events VALUES
			('7d444840-9dc0-11d1-b245-5ffdce74fad2', DATE '2024-05-01', TIMESTAMP '2024-05-01 12:00:00', INTERVAL 3 DAY)`,
		`CREATE TABLE meta_attrs (key VARCHAR, attr VARCHAR, value VARCHAR)`,
		`INSERT INTO meta_attrs VALUES
			('cities', 'table_info', '{"sql_table_name":"public.cities","region":"eu"}'),
			('events', 'table_info', '[1,2]')`,
		`CREATE VIEW big_cities AS SELECT * FROM cities WHERE pop > 1`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func open(t *testing.T) archive.Archive {
	t.Helper()
	arc, err := archive.Open(context.Background(), "duckdb", writeFixture(t))
	require.NoError(t, err)
	t.Cleanup(func() { arc.Close() })
	return arc
}

func TestArchive_KeysAndRows(t *testing.T) {
	ctx := context.Background()
	arc := open(t)

	keys, err := arc.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cities", "events", "meta_attrs"}, keys)

	n, err := arc.NumRows(ctx, "cities")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	f, err := arc.Read(ctx, "cities")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "pop", "area", "capital"}, f.Columns)
	require.Equal(t, 4, f.Len())
	assert.EqualValues(t, 1, f.Rows[0][0])
	assert.Equal(t, "Oslo", f.Rows[0][1])
	assert.Equal(t, "454.03", f.Rows[0][3])
	assert.Equal(t, int8(1), f.Rows[0][4])
	assert.Nil(t, f.Rows[1][2])
	assert.Equal(t, "-2672.50", f.Rows[1][3])
	assert.Equal(t, "", f.Rows[2][1])
	assert.Equal(t, "0.05", f.Rows[2][3])
	assert.Nil(t, f.Rows[3][3])
}

func TestArchive_ReadRange(t *testing.T) {
	ctx := context.Background()
	arc := open(t)

	f, err := arc.ReadRange(ctx, "cities", 1, 3)
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, "Lima", f.Rows[0][1])
	assert.Equal(t, "", f.Rows[1][1])

	f, err = arc.ReadRange(ctx, "cities", 3, 100)
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())
	assert.Equal(t, "Quito", f.Rows[0][1])

	_, err = arc.ReadRange(ctx, "cities", 3, 1)
	assert.Error(t, err)
}

func TestArchive_ValueRendering(t *testing.T) {
	arc := open(t)

	f, err := arc.Read(context.Background(), "events")
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())
	row := f.Rows[0]
	assert.Equal(t, "7d444840-9dc0-11d1-b245-5ffdce74fad2", row[0])
	assert.Equal(t, "2024-05-01", row[1])
	assert.Equal(t, "0 months 3 days 0 microseconds", row[3])
}

func TestArchive_Attr(t *testing.T) {
	ctx := context.Background()
	arc := open(t)

	attrs, err := arc.Attr(ctx, "cities", "table_info")
	require.NoError(t, err)
	assert.Equal(t, "public.cities", attrs["sql_table_name"])
	assert.Equal(t, "eu", attrs["region"])

	_, err = arc.Attr(ctx, "cities", "other")
	assert.ErrorIs(t, err, archive.ErrNoAttr)

	_, err = arc.Attr(ctx, "events", "table_info")
	assert.ErrorIs(t, err, archive.ErrMalformedAttr)
}

func TestArchive_UnknownKey(t *testing.T) {
	arc := open(t)
	_, err := arc.NumRows(context.Background(), `x"; DROP TABLE cities; --`)
	assert.ErrorIs(t, err, archive.ErrUnknownKey)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.duckdb"))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	assert.Equal(t, "12:30:05", convert("TIME", mustTime(t, "0001-01-01T12:30:05Z")))
	assert.Equal(t, mustTime(t, "2024-05-01T12:00:00Z"), convert("TIMESTAMP", mustTime(t, "2024-05-01T12:00:00Z")))
	assert.Equal(t, []byte{1, 2}, convert("BLOB", []byte{1, 2}))
	assert.Equal(t, int64(7), convert("BIGINT", int64(7)))
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}
