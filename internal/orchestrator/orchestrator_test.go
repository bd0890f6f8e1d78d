package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"bulkload/internal/archive/archivetest"
	"bulkload/internal/catalog"
	"bulkload/internal/config"
	"bulkload/internal/schema"
	"bulkload/internal/storage"
	"bulkload/internal/storage/postgres"
	"bulkload/internal/storage/storagetest"
	"bulkload/internal/transfer"
)

func table(name string) *schema.Descriptor {
	return &schema.Descriptor{
		Table:      name,
		PrimaryKey: &schema.Constraint{Name: name + "_pkey", Def: "PRIMARY KEY (id)"},
		Columns:    []schema.Column{{Name: "id", Type: schema.BigInt}, {Name: "name"}},
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Job = "test"
	cfg.Archive.MetadataAttr = "table_info"
	cfg.Hooks = config.DefaultHooks()
	cfg.Runtime.CSVChunkSize = 500
	return cfg
}

func archiveWith(tables map[string]int) *archivetest.Mem {
	arc := archivetest.New()
	for name, n := range tables {
		key := "/" + name
		arc.Put(key, archivetest.Sequential(n, "id", "name"))
		arc.SetAttr(key, "table_info", map[string]any{"sql_table_name": name})
	}
	return arc
}

func indexOf(calls []storagetest.Call, op, sql string) int {
	for i, c := range calls {
		if c.Op == op && (sql == "" || c.SQL == sql) {
			return i
		}
	}
	return -1
}

func TestExecute_Cities(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().AddTable(table("cities"))
	arc := archiveWith(map[string]int{"cities": 1500})

	sum, err := Execute(ctx, testConfig(), arc, db.Dialer(), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, sum.Results, 1)
	res := sum.Results[0]
	assert.Equal(t, "cities", res.Table)
	assert.Equal(t, transfer.SubChunked, res.Mode)
	assert.EqualValues(t, 3, res.Chunks)
	assert.EqualValues(t, 1500, res.RowsCopied)
	assert.EqualValues(t, 1500, sum.Rows())
	assert.EqualValues(t, 1500, db.Rows("cities"))

	copyStmt := `COPY "cities" ("id", "name") FROM STDIN WITH (FORMAT csv, FREEZE true)`
	assert.Equal(t, []string{
		`ALTER TABLE "cities" DROP CONSTRAINT "cities_pkey" CASCADE`,
		`TRUNCATE TABLE "cities"`,
		copyStmt, copyStmt, copyStmt,
		`ALTER TABLE "cities" ADD CONSTRAINT "cities_pkey" PRIMARY KEY (id)`,
		`ANALYZE "cities"`,
	}, db.Statements(1))

	calls := db.Calls("")
	commit := indexOf(calls, "commit", "")
	analyze := indexOf(calls, "exec", `ANALYZE "cities"`)
	require.NotEqual(t, -1, commit)
	assert.Greater(t, analyze, commit)
	assert.Len(t, db.Calls("close"), 1)
}

func TestExecute_SequentialReusesConnection(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().AddTable(table("cities")).AddTable(table("towns"))
	arc := archiveWith(map[string]int{"cities": 20, "towns": 10})

	cfg := testConfig()
	cfg.Runtime.Parallelism = 1
	cfg.Storage.DB.MaintenanceWorkMem = "512MB"
	sum, err := Execute(ctx, cfg, arc, db.Dialer(), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, sum.Results, 2)
	assert.EqualValues(t, 20, db.Rows("cities"))
	assert.EqualValues(t, 10, db.Rows("towns"))
	assert.Len(t, db.Calls("connect"), 1)
	assert.Len(t, db.Calls("set"), 1)
	assert.Len(t, db.Calls("close"), 1)
	assert.Contains(t, db.Statements(1), `ANALYZE "cities"`)
	assert.Contains(t, db.Statements(1), `ANALYZE "towns"`)
}

func TestWorker_SequentialFailureClosesOnce(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().AddTable(table("cities"))
	w := newWorker(db, archiveWith(map[string]int{"cities": 3})).Sequential()

	_, err := w.Copy(ctx, transfer.JobSpec{Table: "towns", Keys: []string{"/towns"}})
	require.ErrorIs(t, err, storage.ErrTableNotFound)
	assert.Empty(t, db.Calls("close"))

	res, err := w.Copy(ctx, transfer.JobSpec{Table: "cities", Keys: []string{"/cities"}, CSVChunkSize: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsCopied)
	assert.Len(t, db.Calls("connect"), 1)

	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))
	assert.Len(t, db.Calls("close"), 1)
}

func TestExecute_KeyWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().AddTable(table("cities"))
	arc := archiveWith(map[string]int{"cities": 10})
	arc.Put("/orphan", archivetest.Sequential(5, "id", "name"))

	core, logs := observer.New(zapcore.WarnLevel)
	sum, err := Execute(ctx, testConfig(), arc, db.Dialer(), zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Jobs)
	assert.Zero(t, arc.Reads("/orphan"))
	warned := logs.FilterMessage("no metadata found for key; skipping").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "/orphan", warned[0].ContextMap()["key"])
}

func TestExecute_ParallelFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	db := storagetest.New().
		AddTable(table("cities")).
		AddTable(table("towns")).
		FailOn(`COPY "towns"`, boom)
	arc := archiveWith(map[string]int{"cities": 700, "towns": 300})

	cfg := testConfig()
	cfg.Runtime.Parallelism = 2
	core, logs := observer.New(zapcore.ErrorLevel)
	sum, err := Execute(ctx, cfg, arc, db.Dialer(), zap.New(core))

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "load towns")
	require.Len(t, sum.Results, 1)
	assert.Equal(t, "cities", sum.Results[0].Table)
	assert.EqualValues(t, 700, db.Rows("cities"))
	assert.Zero(t, db.Rows("towns"))
	assert.Len(t, db.Calls("rollback"), 1)
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())
}

func TestRun_SequentialStopsAtFirstFailure(t *testing.T) {
	specs := []transfer.JobSpec{{Table: "a"}, {Table: "b"}, {Table: "c"}}
	var ran []string
	err := Run(context.Background(), specs, 1, func(_ context.Context, s transfer.JobSpec) error {
		ran = append(ran, s.Table)
		if s.Table == "b" {
			return errors.New("bad b")
		}
		return nil
	}, nil)

	assert.EqualError(t, err, "bad b")
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRun_ParallelBounded(t *testing.T) {
	specs := make([]transfer.JobSpec, 8)
	for i := range specs {
		specs[i].Table = string(rune('a' + i))
	}

	var running, peak, done atomic.Int32
	err := Run(context.Background(), specs, 3, func(_ context.Context, s transfer.JobSpec) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		if s.Table == "c" {
			return errors.New("bad c")
		}
		return nil
	}, nil)

	assert.EqualError(t, err, "bad c")
	assert.EqualValues(t, 8, done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_Empty(t *testing.T) {
	called := false
	work := func(context.Context, transfer.JobSpec) error { called = true; return nil }
	assert.NoError(t, Run(context.Background(), nil, 1, work, nil))
	assert.NoError(t, Run(context.Background(), nil, 4, work, nil))
	assert.False(t, called)
}

func newWorker(db *storagetest.DB, arc *archivetest.Mem) *Worker {
	return &Worker{Archive: arc, Freeze: true, JobName: "test", Dial: db.Dialer()}
}

func TestWorker_PrimaryKeyFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().
		AddTable(table("cities")).
		FailOn(`ADD CONSTRAINT "cities_pkey"`, errors.New("could not create unique index"))
	arc := archiveWith(map[string]int{"cities": 20})

	_, err := newWorker(db, arc).Copy(ctx, transfer.JobSpec{Table: "cities", Keys: []string{"/cities"}, CSVChunkSize: 500})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create primary key cities_pkey")
	assert.Zero(t, db.Rows("cities"))
	assert.Len(t, db.Calls("rollback"), 1)
	assert.Empty(t, db.Calls("commit"))
	assert.Equal(t, -1, indexOf(db.Calls(""), "exec", `ANALYZE "cities"`))
}

func TestWorker_ForeignKeyFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	d := table("cities")
	d.ForeignKeys = []schema.Constraint{{Name: "cities_country_fkey", Def: "FOREIGN KEY (country) REFERENCES countries(code)"}}
	db := storagetest.New().
		AddTable(d).
		FailOn(`ADD CONSTRAINT "cities_country_fkey"`, errors.New("violates foreign key"))
	arc := archiveWith(map[string]int{"cities": 20})

	res, err := newWorker(db, arc).Copy(ctx, transfer.JobSpec{Table: "cities", Keys: []string{"/cities"}, CSVChunkSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FKFailures)
	assert.EqualValues(t, 20, db.Rows("cities"))
}

type autocommitDDL struct{ postgres.Dialect }

func (autocommitDDL) TransactionalDDL() bool { return false }

func TestWorker_SplitFlow(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New().AddTable(table("cities"))
	db.Dialect = autocommitDDL{}
	arc := archiveWith(map[string]int{"cities": 3})

	res, err := newWorker(db, arc).Copy(ctx, transfer.JobSpec{Table: "cities", Keys: []string{"/cities"}, CSVChunkSize: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsCopied)

	calls := db.Calls("")
	drop := indexOf(calls, "try", `ALTER TABLE "cities" DROP CONSTRAINT "cities_pkey" CASCADE`)
	begin := indexOf(calls, "begin", "")
	commit := indexOf(calls, "commit", "")
	create := indexOf(calls, "exec", `ALTER TABLE "cities" ADD CONSTRAINT "cities_pkey" PRIMARY KEY (id)`)
	require.NotEqual(t, -1, drop)
	assert.Less(t, drop, begin)
	assert.Less(t, commit, create)
}

func TestWorker_SessionAndDescribe(t *testing.T) {
	ctx := context.Background()

	t.Run("maintenance_work_mem", func(t *testing.T) {
		db := storagetest.New().AddTable(table("cities"))
		w := newWorker(db, archiveWith(map[string]int{"cities": 1}))
		w.MaintenanceWorkMem = "1GB"
		_, err := w.Copy(ctx, transfer.JobSpec{Table: "cities", Keys: []string{"/cities"}})
		require.NoError(t, err)
		assert.Equal(t, "SET maintenance_work_mem = 1GB", db.Statements(1)[0])
	})

	t.Run("missing table", func(t *testing.T) {
		db := storagetest.New()
		_, err := newWorker(db, archiveWith(map[string]int{"cities": 1})).Copy(ctx, transfer.JobSpec{Table: "cities", Keys: []string{"/cities"}})
		assert.ErrorIs(t, err, storage.ErrTableNotFound)
		assert.Len(t, db.Calls("close"), 1)
	})

	t.Run("connect", func(t *testing.T) {
		db := storagetest.New().FailOn("op:connect", errors.New("refused"))
		_, err := newWorker(db, archivetest.New()).Copy(ctx, transfer.JobSpec{Table: "cities"})
		assert.ErrorContains(t, err, "connect for cities: refused")
	})
}

func TestBuildJobs(t *testing.T) {
	cat := catalog.New()
	cat.Add("cities", "/2023/cities")
	cat.Add("cities", "/2024/cities")
	cat.Add("towns", "/towns")
	cat.Levels["/2024/cities"] = map[string]any{"year": 2024}

	cfg := testConfig()
	cfg.Tables = map[string][]string{"empty": nil}
	cfg.Runtime.Modes = map[string]string{"towns": "streaming"}

	core, logs := observer.New(zapcore.InfoLevel)
	specs, err := BuildJobs(cat, cfg, zap.New(core))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "cities", specs[0].Table)
	assert.Equal(t, []string{"/2023/cities", "/2024/cities"}, specs[0].Keys)
	assert.Equal(t, map[string]map[string]any{"/2024/cities": {"year": 2024}}, specs[0].Levels)
	assert.Nil(t, specs[0].Mode)
	assert.EqualValues(t, 500, specs[0].CSVChunkSize)

	require.NotNil(t, specs[1].Mode)
	assert.Equal(t, transfer.Streaming, *specs[1].Mode)
	empty := logs.FilterMessage("table has no source keys, nothing to load")
	require.Equal(t, 1, empty.Len())
	assert.Equal(t, zapcore.WarnLevel, empty.All()[0].Level)

	cfg.Runtime.Modes["towns"] = "bulk"
	_, err = BuildJobs(cat, cfg, nil)
	assert.ErrorContains(t, err, "runtime.modes[towns]")
}
