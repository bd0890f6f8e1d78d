package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bulkload/internal/archive"
	"bulkload/internal/config"
	"bulkload/internal/logging"
	"bulkload/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the archive into the destination",
	Long: `Run builds the table catalog from archive metadata, then reloads every
destination table. With --parallel N up to N tables load at once, each on its
own connection; a failing table does not stop the others.

Examples:
  bulkload run -c load.yaml
  bulkload run --archive-kind sqlite --archive export.db --dsn postgres://localhost/db -p 4`,
	Args: cobra.NoArgs,
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runLoad(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := reportIssues(cmd.ErrOrStderr(), config.Validate(cfg)); err != nil {
		return err
	}

	log, err := logging.New(flags.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID), zap.String("job", cfg.Job))
	defer setupMetrics(cfg, log)()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arc, err := archive.Open(ctx, cfg.Archive.Kind, cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := arc.Close(); err != nil {
			log.Warn("close archive", zap.Error(err))
		}
	}()

	log.Info("run starting",
		zap.String("archive_kind", cfg.Archive.Kind),
		zap.String("archive", cfg.Archive.Path),
		zap.String("storage", cfg.Storage.Kind),
	)
	sum, err := orchestrator.Execute(ctx, cfg, arc, nil, log)
	printSummary(cmd.OutOrStdout(), sum)
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return err
	}
	return nil
}

func printSummary(w io.Writer, sum orchestrator.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tMODE\tROWS\tCHUNKS\tFK_FAILURES\tELAPSED")
	for _, r := range sum.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Table, r.Mode, r.RowsCopied, r.Chunks, r.FKFailures, r.Duration.Truncate(time.Millisecond))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d/%d tables, %d rows in %s\n",
		len(sum.Results), sum.Jobs, sum.Rows(), sum.Duration.Truncate(time.Millisecond))
}
