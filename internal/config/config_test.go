package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_YAML(t *testing.T) {
	const src = `
job: nightly
archive:
  kind: sqlite
  path: data/export.db
  metadata_attr: table_info
  metadata_keys: [region]
tables:
  cities: [cities_a, cities_b]
levels:
  cities_a: {region: eu}
storage:
  kind: postgres
  db:
    dsn: postgres://u@localhost/db
    maintenance_work_mem: 1GB
copy:
  header: true
runtime:
  parallelism: 4
  csv_chunksize: 500
  modes: {cities: streaming}
hooks:
  - kind: normalize_text
    options: {trim: true}
hook_params:
  locale: cs
`
	cfg, err := Decode(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "nightly", cfg.Job)
	assert.Equal(t, "sqlite", cfg.Archive.Kind)
	assert.Equal(t, DefaultTableNameField, cfg.Archive.TableNameField)
	assert.Equal(t, []string{"region"}, cfg.Archive.MetadataKeys)
	assert.Equal(t, []string{"cities_a", "cities_b"}, cfg.Tables["cities"])
	assert.Equal(t, "eu", cfg.Levels["cities_a"]["region"])
	assert.Equal(t, "1GB", cfg.Storage.DB.MaintenanceWorkMem)
	assert.True(t, cfg.Copy.Header)
	assert.True(t, cfg.Copy.Freeze, "freeze keeps its default")
	assert.Equal(t, 4, cfg.Runtime.Parallelism)
	assert.EqualValues(t, 500, cfg.Runtime.CSVChunkSize)
	assert.EqualValues(t, DefaultSourceChunkSize, cfg.Runtime.SourceChunkSize)
	require.Len(t, cfg.Hooks, 1)
	assert.True(t, cfg.Hooks[0].Options.Bool("trim", false))
	assert.Equal(t, "cs", cfg.HookParams.String("locale", ""))
}

func TestDecode_JSONAndDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`{"archive":{"kind":"parquet","path":"/x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "parquet", cfg.Archive.Kind)
	assert.Equal(t, DefaultHooks(), cfg.Hooks)
	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, DefaultParallelism, cfg.Runtime.Parallelism)
	assert.NotNil(t, cfg.HookParams)
}

func TestDecode_UnknownField(t *testing.T) {
	_, err := Decode(strings.NewReader("runtime:\n  batch_size: 10\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(p, []byte("job: x\n"), 0o644))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Job)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Hooks, 2)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDSN:                "postgres://env@localhost/db",
		EnvParallelism:        "3",
		EnvCSVChunkSize:       "250",
		EnvMaintenanceWorkMem: "2GB",
	}
	old := getenv
	getenv = func(k string) string { return env[k] }
	defer func() { getenv = old }()

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg))
	assert.Equal(t, "postgres://env@localhost/db", cfg.Storage.DB.DSN)
	assert.Equal(t, 3, cfg.Runtime.Parallelism)
	assert.EqualValues(t, 250, cfg.Runtime.CSVChunkSize)
	assert.EqualValues(t, DefaultSourceChunkSize, cfg.Runtime.SourceChunkSize)
	assert.Equal(t, "2GB", cfg.Storage.DB.MaintenanceWorkMem)

	env[EnvSourceChunkSize] = "lots"
	assert.Error(t, ApplyEnv(&cfg))
}

func TestOptions(t *testing.T) {
	o := Options{
		"s": "v", "b": true,
		"ss":   []any{"a", 2, "b"},
		"strs": []string{"x"},
	}
	assert.Equal(t, "v", o.String("s", "d"))
	assert.Equal(t, "d", o.String("b", "d"))
	assert.True(t, o.Bool("b", false))
	assert.False(t, o.Bool("s", false))
	assert.Equal(t, []string{"a", "b"}, o.StringSlice("ss"))
	assert.Equal(t, []string{"x"}, o.StringSlice("strs"))
	assert.Nil(t, o.StringSlice("missing"))
}
