package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"bulkload/internal/archive"
	"bulkload/internal/catalog"
	"bulkload/internal/config"
	"bulkload/internal/csvstream"
	"bulkload/internal/hooks"
	"bulkload/internal/logging"
	"bulkload/internal/storage"
	"bulkload/internal/transfer"
)

// Summary reports a whole run.
type Summary struct {
	// Results of the jobs that succeeded, sorted by table.
	Results  []Result
	Jobs     int
	Duration time.Duration
}

// Rows is the total of rows copied by successful jobs.
func (s Summary) Rows() int64 {
	var n int64
	for _, r := range s.Results {
		n += r.RowsCopied
	}
	return n
}

// Execute builds the catalog of arc, plans one job per table and runs them
// with cfg.Runtime.Parallelism workers. A sequential run shares one
// connection between its jobs. dial may be nil to use the storage registry.
func Execute(ctx context.Context, cfg config.Config, arc archive.Archive, dial storage.Dialer, log *zap.Logger) (Summary, error) {
	start := time.Now()
	log = logging.OrNop(log)
	var sum Summary

	cat, err := catalog.Build(ctx, arc, catalog.Options{
		Keys:           cfg.Archive.Keys,
		MetadataAttr:   cfg.Archive.MetadataAttr,
		MetadataKeys:   cfg.Archive.MetadataKeys,
		TableNameField: cfg.Archive.TableNameField,
	}, log)
	if err != nil {
		return sum, fmt.Errorf("build catalog: %w", err)
	}
	cat = catalog.Resolve(cat, cfg.Tables, cfg.Archive.Keys)
	cat.MergeLevels(cfg.Levels)

	specs, err := BuildJobs(cat, cfg, log)
	if err != nil {
		return sum, err
	}
	sum.Jobs = len(specs)

	chain, err := hooks.Build(cfg.Hooks)
	if err != nil {
		return sum, err
	}

	w := &Worker{
		Storage:            storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DB.DSN},
		MaintenanceWorkMem: cfg.Storage.DB.MaintenanceWorkMem,
		Archive:            arc,
		Hooks:              chain,
		Params:             cfg.HookParams,
		CSV:                csvstream.Options{Header: cfg.Copy.Header},
		Freeze:             cfg.Copy.Freeze,
		JobName:            cfg.Job,
		Log:                log.Named("worker"),
		Dial:               dial,
	}

	if cfg.Runtime.Parallelism <= 1 {
		w = w.Sequential()
		defer func() {
			if err := w.Close(ctx); err != nil {
				log.Warn("close connection", zap.Error(err))
			}
		}()
	}

	log.Info("starting load",
		zap.Int("jobs", len(specs)),
		zap.Int("parallelism", cfg.Runtime.Parallelism),
		zap.Int64("csv_chunksize", cfg.Runtime.CSVChunkSize),
		zap.Int64("source_chunksize", cfg.Runtime.SourceChunkSize),
	)

	var mu sync.Mutex
	err = Run(ctx, specs, cfg.Runtime.Parallelism, func(ctx context.Context, s transfer.JobSpec) error {
		res, err := w.Copy(ctx, s)
		if err != nil {
			return err
		}
		mu.Lock()
		sum.Results = append(sum.Results, res)
		mu.Unlock()
		return nil
	}, log)

	sort.Slice(sum.Results, func(i, j int) bool { return sum.Results[i].Table < sum.Results[j].Table })
	sum.Duration = time.Since(start)
	if err != nil {
		return sum, err
	}
	log.Info("load finished",
		zap.Int("tables", len(sum.Results)),
		zap.Int64("rows", sum.Rows()),
		zap.Duration("elapsed", sum.Duration.Truncate(time.Millisecond)),
	)
	return sum, nil
}
