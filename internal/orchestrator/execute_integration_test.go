package orchestrator

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bulkload/internal/archive/archivetest"
	_ "bulkload/internal/storage/postgres"
	"bulkload/internal/testinfra"
)

func TestExecute_Integration(t *testing.T) {
	dsn := testinfra.PostgresDSN(t)
	ctx := context.Background()

	pg, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pg.Close(ctx)

	for _, s := range []string{
		`DROP TABLE IF EXISTS it_visits, it_places`,
		`CREATE TABLE it_places (id bigint PRIMARY KEY, name text)`,
		`CREATE TABLE it_visits (place_id bigint REFERENCES it_places(id))`,
		`INSERT INTO it_places VALUES (0, 'stale'), (99999, 'gone')`,
	} {
		_, err := pg.Exec(ctx, s)
		require.NoError(t, err, s)
	}

	arc := archivetest.New().Put("/places", archivetest.Sequential(1500, "id", "name"))
	arc.SetAttr("/places", "table_info", map[string]any{"sql_table_name": "it_places"})

	cfg := testConfig()
	cfg.Storage.DB.DSN = dsn
	cfg.Storage.DB.MaintenanceWorkMem = "64MB"

	sum, err := Execute(ctx, cfg, arc, nil, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.EqualValues(t, 3, sum.Results[0].Chunks)

	var n int64
	require.NoError(t, pg.QueryRow(ctx, `SELECT count(*) FROM it_places`).Scan(&n))
	assert.EqualValues(t, 1500, n)

	var name string
	require.NoError(t, pg.QueryRow(ctx, `SELECT name FROM it_places WHERE id = 0`).Scan(&name))
	assert.Equal(t, "name-0", name)

	var pk int
	require.NoError(t, pg.QueryRow(ctx,
		`SELECT count(*) FROM pg_constraint WHERE conrelid = 'it_places'::regclass AND contype = 'p'`).Scan(&pk))
	assert.Equal(t, 1, pk)
}
