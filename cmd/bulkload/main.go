// Command bulkload copies the tables of an archive (SQLite, DuckDB or a
// directory of Parquet files) into Postgres with COPY, one job per
// destination table.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// register all archive and storage backends; the config selects one.
	_ "bulkload/internal/archive/all"
	_ "bulkload/internal/storage/all"
)

var rootCmd = &cobra.Command{
	Use:   "bulkload",
	Short: "Bulk load archive tables into Postgres",
	Long: `bulkload reads every key of an archive, maps it to a destination table
through per-key metadata (or an explicit mapping), and reloads each table in a
single transaction: drop constraints, truncate, COPY FREEZE the rows as CSV,
recreate constraints, commit, ANALYZE.

Exit Codes:
  0  - Success
  1  - Load failed or configuration invalid`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&flags.configPath, "config", "c", "", "run config (YAML or JSON)")
	f.StringVar(&flags.archive, "archive", "", "archive path (overrides archive.path)")
	f.StringVar(&flags.archiveKind, "archive-kind", "", "archive kind: sqlite|duckdb|parquet")
	f.StringSliceVar(&flags.keys, "keys", nil, "only load these source keys")
	f.IntVarP(&flags.parallel, "parallel", "p", 0, "number of tables loaded at once")
	f.Int64Var(&flags.csvChunk, "csv-chunksize", 0, "rows per COPY payload")
	f.Int64Var(&flags.sourceChunk, "source-chunksize", 0, "rows per archive read in streaming mode")
	f.StringVar(&flags.dsn, "dsn", "", "destination connection string (or $"+"BULKLOAD_DSN)")
	f.StringVar(&flags.maintenanceWorkMem, "maintenance-work-mem", "", "session maintenance_work_mem for constraint rebuilds, e.g. 1GB")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
