package constraints

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"bulkload/internal/schema"
	"bulkload/internal/storage"
	"bulkload/internal/storage/postgres"
	"bulkload/internal/storage/storagetest"
)

func desc() *schema.Descriptor {
	return &schema.Descriptor{
		Table:      "cities",
		PrimaryKey: &schema.Constraint{Name: "cities_pkey", Def: "PRIMARY KEY (id)"},
		ForeignKeys: []schema.Constraint{
			{Name: "cities_country_fkey", Def: "FOREIGN KEY (country) REFERENCES countries(code)"},
			{Name: "cities_region_fkey", Def: "FOREIGN KEY (region) REFERENCES regions(id)"},
		},
	}
}

func begin(t *testing.T, db *storagetest.DB) storage.Tx {
	t.Helper()
	conn, err := db.Dialer()(context.Background(), storage.Config{})
	require.NoError(t, err)
	tx, err := conn.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestManager_Sequence(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New()
	tx := begin(t, db)
	m := New(desc(), postgres.Dialect{}, zap.NewNop())

	assert.Zero(t, m.DropForeignKeys(ctx, tx))
	m.DropPrimaryKey(ctx, tx)
	require.NoError(t, m.Truncate(ctx, tx))
	require.NoError(t, m.CreatePrimaryKey(ctx, tx))
	assert.Zero(t, m.CreateForeignKeys(ctx, tx))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{
		`ALTER TABLE "cities" DROP CONSTRAINT "cities_country_fkey" CASCADE`,
		`ALTER TABLE "cities" DROP CONSTRAINT "cities_region_fkey" CASCADE`,
		`ALTER TABLE "cities" DROP CONSTRAINT "cities_pkey" CASCADE`,
		`TRUNCATE TABLE "cities"`,
		`ALTER TABLE "cities" ADD CONSTRAINT "cities_pkey" PRIMARY KEY (id)`,
		`ALTER TABLE "cities" ADD CONSTRAINT "cities_country_fkey" FOREIGN KEY (country) REFERENCES countries(code)`,
		`ALTER TABLE "cities" ADD CONSTRAINT "cities_region_fkey" FOREIGN KEY (region) REFERENCES regions(id)`,
	}, db.Statements(1))
}

func TestManager_DropFailuresAreRecovered(t *testing.T) {
	ctx := context.Background()
	missing := errors.New(`constraint "cities_pkey" does not exist`)
	db := storagetest.New().
		FailOn(`DROP CONSTRAINT "cities_pkey"`, missing).
		FailOn(`DROP CONSTRAINT "cities_region_fkey"`, missing)
	tx := begin(t, db)

	core, logs := observer.New(zapcore.InfoLevel)
	m := New(desc(), postgres.Dialect{}, zap.New(core))

	assert.Equal(t, 1, m.DropForeignKeys(ctx, tx))
	m.DropPrimaryKey(ctx, tx)

	// The transaction is still usable.
	require.NoError(t, m.Truncate(ctx, tx))

	assert.Equal(t, 1, logs.FilterMessage("foreign key not dropped").Len())
	pk := logs.FilterMessage("primary key not dropped").All()
	require.Len(t, pk, 1)
	assert.Equal(t, zapcore.InfoLevel, pk[0].Level)
}

func TestManager_CreatePrimaryKeyFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	dup := errors.New("could not create unique index")
	db := storagetest.New().FailOn(`ADD CONSTRAINT "cities_pkey"`, dup)
	tx := begin(t, db)

	m := New(desc(), postgres.Dialect{}, nil)
	err := m.CreatePrimaryKey(ctx, tx)
	assert.ErrorIs(t, err, dup)
}

func TestManager_CreateForeignKeysBestEffort(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().FailOn(`ADD CONSTRAINT "cities_country_fkey"`, errors.New("violates"))
	tx := begin(t, db)

	m := New(desc(), postgres.Dialect{}, nil)
	assert.Equal(t, 1, m.CreateForeignKeys(ctx, tx))
	assert.Len(t, db.Calls("try"), 2)
}

func TestManager_NoPrimaryKey(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New()
	tx := begin(t, db)
	m := New(&schema.Descriptor{Table: "logs"}, postgres.Dialect{}, nil)

	m.DropPrimaryKey(ctx, tx)
	require.NoError(t, m.CreatePrimaryKey(ctx, tx))
	assert.Empty(t, db.Statements(1))
}

func TestManager_Analyze(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New()
	conn, err := db.Dialer()(ctx, storage.Config{})
	require.NoError(t, err)

	m := New(desc(), postgres.Dialect{}, nil)
	require.NoError(t, m.Analyze(ctx, conn))
	assert.Equal(t, []string{`ANALYZE "cities"`}, db.Statements(1))
}
