// Package transfer moves the rows of a table's source keys into the
// destination as CSV COPY payloads.
//
// The engine only streams; constraint handling, truncation and the
// transaction around it belong to the caller, which hands in a
// storage.Copier (normally the open transaction).
package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"bulkload/internal/archive"
	"bulkload/internal/config"
	"bulkload/internal/csvstream"
	"bulkload/internal/frame"
	"bulkload/internal/hooks"
	"bulkload/internal/logging"
	"bulkload/internal/metrics"
	"bulkload/internal/storage"
)

// Engine holds what every job shares. The archive must be safe for
// concurrent reads when one Engine serves several goroutines.
type Engine struct {
	Archive archive.Archive
	Hooks   hooks.Chain
	// Params is passed unchanged to every hook call.
	Params config.Options
	CSV    csvstream.Options
	// Freeze requests COPY FREEZE.
	Freeze bool
	// JobName labels metrics.
	JobName string
	Log     *zap.Logger
}

// Plan counts the rows of every key and sets job.Mode. It returns the
// per-key counts in spec order.
func (e *Engine) Plan(ctx context.Context, job *Job) ([]int64, error) {
	counts := make([]int64, len(job.Spec.Keys))
	var largest int64
	for i, key := range job.Spec.Keys {
		n, err := e.Archive.NumRows(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("count rows of %s: %w", key, err)
		}
		counts[i] = n
		largest = max(largest, n)
	}
	if job.Spec.Mode != nil {
		job.Mode = *job.Spec.Mode
	} else {
		job.Mode = SelectMode(largest, job.Spec.CSVChunkSize, job.Spec.SourceChunkSize)
	}
	return counts, nil
}

// Run transfers every key of job through copier. Any read, format or copy
// failure aborts the job.
func (e *Engine) Run(ctx context.Context, job *Job, copier storage.Copier) error {
	log := logging.OrNop(e.Log).With(zap.String("table", job.Spec.Table))

	counts, err := e.Plan(ctx, job)
	if err != nil {
		return err
	}
	log.Info("transfer starting",
		zap.Stringer("mode", job.Mode),
		zap.Int("keys", len(job.Spec.Keys)),
		zap.Int64s("rows", counts),
	)

	job.started = time.Now()
	job.lastFlush = job.started
	for i, key := range job.Spec.Keys {
		klog := log.With(zap.String("key", key))
		if err := e.runKey(ctx, job, key, counts[i], copier, klog); err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
	}

	log.Info("transfer finished",
		zap.Int64("rows_read", job.RowsRead),
		zap.Int64("rows_copied", job.RowsCopied),
		zap.Int64("chunks", job.Chunks),
		zap.Duration("elapsed", time.Since(job.started).Truncate(time.Millisecond)),
	)
	if job.RowsRead != job.RowsCopied {
		log.Warn("copied row count differs from rows read",
			zap.Int64("rows_read", job.RowsRead),
			zap.Int64("rows_copied", job.RowsCopied),
		)
	}
	return nil
}

func (e *Engine) runKey(ctx context.Context, job *Job, key string, rows int64, copier storage.Copier, log *zap.Logger) error {
	if job.Mode != Streaming {
		f, err := e.Archive.Read(ctx, key)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		return e.emit(ctx, job, key, f, copier, log)
	}

	for _, w := range Windows(rows, job.Spec.SourceChunkSize) {
		f, err := e.Archive.ReadRange(ctx, key, w.Start, w.Stop)
		if err != nil {
			return fmt.Errorf("read [%d, %d): %w", w.Start, w.Stop, err)
		}
		log.Debug("source window read", zap.Int64("start", w.Start), zap.Int64("stop", w.Stop))
		if err := e.emit(ctx, job, key, f, copier, log); err != nil {
			return err
		}
	}
	return nil
}

// emit formats one source frame and copies it in one or more payloads.
func (e *Engine) emit(ctx context.Context, job *Job, key string, f *frame.Frame, copier storage.Copier, log *zap.Logger) error {
	read := int64(f.Len())
	job.RowsRead += read
	metrics.RecordRows(e.JobName, job.Spec.Table, "read", read)

	hc := &hooks.Context{
		Table:     job.Spec.Table,
		SourceKey: key,
		Schema:    job.Desc,
		Levels:    job.Spec.Levels[key],
	}
	f, err := e.Hooks.Apply(ctx, f, hc, e.Params)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if f, err = job.conform(f); err != nil {
		return err
	}

	if job.Mode == Direct {
		if f.Len() == 0 {
			return nil
		}
		return e.copyChunk(ctx, job, f, copier, log)
	}
	for _, w := range Windows(int64(f.Len()), job.Spec.CSVChunkSize) {
		if err := e.copyChunk(ctx, job, f.Slice(int(w.Start), int(w.Stop)), copier, log); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) copyChunk(ctx context.Context, job *Job, f *frame.Frame, copier storage.Copier, log *zap.Logger) error {
	r, size, err := csvstream.NewReader(f, e.CSV)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", job.Chunks+1, err)
	}
	req := storage.CopyRequest{
		Table:   job.Spec.Table,
		Columns: job.columns,
		Header:  e.CSV.Header,
		Freeze:  e.Freeze,
	}

	start := time.Now()
	n, err := copier.CopyCSV(ctx, req, io.TeeReader(r, job.hash))
	metrics.RecordStep(e.JobName, job.Spec.Table, "copy", err, time.Since(start))
	if err != nil {
		log.Error("COPY failed", zap.Int64("chunk", job.Chunks+1), zap.Int64("total_copied", job.RowsCopied), zap.Error(err))
		return fmt.Errorf("copy chunk %d: %w", job.Chunks+1, err)
	}

	job.Chunks++
	job.RowsCopied += n
	metrics.RecordRows(e.JobName, job.Spec.Table, "copied", n)
	metrics.RecordChunks(e.JobName, job.Spec.Table, 1)

	now := time.Now()
	sinceLast := now.Sub(job.lastFlush)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(n) / sinceLast.Seconds()
	}
	log.Info("chunk copied",
		zap.Int64("chunk", job.Chunks),
		zap.Float64("rps", rps),
		zap.Int64("copied", n),
		zap.Int("bytes", size),
		zap.Int64("total_copied", job.RowsCopied),
		zap.Duration("elapsed", now.Sub(job.started).Truncate(time.Millisecond)),
		zap.Duration("since_last", sinceLast.Truncate(time.Millisecond)),
	)
	job.lastFlush = now
	if n != int64(f.Len()) {
		log.Warn("COPY row count differs from chunk size", zap.Int64("chunk", job.Chunks), zap.Int("sent", f.Len()), zap.Int64("copied", n))
	}
	return nil
}
