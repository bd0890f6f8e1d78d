// Package orchestrator runs one load job per destination table, sequentially
// or on a bounded pool of goroutines, each with its own connection.
package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bulkload/internal/logging"
	"bulkload/internal/transfer"
)

// WorkFunc executes one job.
type WorkFunc func(ctx context.Context, spec transfer.JobSpec) error

// Run executes every spec with work.
//
// With parallelism <= 1 jobs run in order and the first failure stops the
// run. Otherwise at most parallelism jobs run at once; a failed job does not
// cancel the others and the first failure is returned once all have finished.
func Run(ctx context.Context, specs []transfer.JobSpec, parallelism int, work WorkFunc, log *zap.Logger) error {
	log = logging.OrNop(log)

	if parallelism <= 1 {
		for i, s := range specs {
			if err := work(ctx, s); err != nil {
				log.Error("job failed", zap.String("table", s.Table), zap.Error(err))
				if rest := len(specs) - i - 1; rest > 0 {
					log.Warn("stopping, remaining jobs not run", zap.Int("remaining", rest))
				}
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, s := range specs {
		// Go blocks until a slot is free.
		g.Go(func() error {
			if err := work(ctx, s); err != nil {
				log.Error("job failed", zap.String("table", s.Table), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
