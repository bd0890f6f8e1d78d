package main

import (
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bulkload/internal/config"
)

type flagValues struct {
	configPath         string
	archive            string
	archiveKind        string
	keys               []string
	parallel           int
	csvChunk           int64
	sourceChunk        int64
	dsn                string
	maintenanceWorkMem string
	verbose            bool
}

var flags flagValues

// loadConfig layers the config file, .env and BULKLOAD_* variables, and the
// flags the user set, in that order of increasing precedence.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyFlags(cmd, &cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("archive") {
		cfg.Archive.Path = flags.archive
	}
	if set("archive-kind") {
		cfg.Archive.Kind = flags.archiveKind
	}
	if set("keys") {
		cfg.Archive.Keys = flags.keys
	}
	if set("parallel") {
		cfg.Runtime.Parallelism = flags.parallel
	}
	if set("csv-chunksize") {
		cfg.Runtime.CSVChunkSize = flags.csvChunk
	}
	if set("source-chunksize") {
		cfg.Runtime.SourceChunkSize = flags.sourceChunk
	}
	if set("dsn") {
		cfg.Storage.DB.DSN = flags.dsn
	}
	if set("maintenance-work-mem") {
		cfg.Storage.DB.MaintenanceWorkMem = flags.maintenanceWorkMem
	}
}

// reportIssues prints issues to w and fails when any is an error.
func reportIssues(w io.Writer, issues []config.Issue) error {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}
