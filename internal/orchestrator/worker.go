package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bulkload/internal/archive"
	"bulkload/internal/config"
	"bulkload/internal/constraints"
	"bulkload/internal/csvstream"
	"bulkload/internal/hooks"
	"bulkload/internal/logging"
	"bulkload/internal/metrics"
	"bulkload/internal/schema"
	"bulkload/internal/storage"
	"bulkload/internal/transfer"
)

// Result summarizes one finished job.
type Result struct {
	Table      string
	Mode       transfer.Mode
	RowsRead   int64
	RowsCopied int64
	Chunks     int64
	Checksum   uint64
	// FKFailures counts foreign keys that could not be dropped or restored.
	FKFailures int
	Duration   time.Duration
}

// Worker loads one table per Copy call. It holds only configuration and
// shared read-only resources; every call opens its own connection unless the
// worker was obtained from Sequential.
type Worker struct {
	Storage            storage.Config
	MaintenanceWorkMem string

	Archive archive.Archive
	Hooks   hooks.Chain
	Params  config.Options
	CSV     csvstream.Options
	Freeze  bool

	JobName string
	Log     *zap.Logger

	// Dial overrides storage.Connect.
	Dial storage.Dialer

	reuse bool
	conn  storage.Conn
}

// Sequential returns a copy of w that dials once and runs every Copy on the
// same connection. It must not be used concurrently; Close releases the
// connection.
func (w *Worker) Sequential() *Worker {
	s := *w
	s.reuse = true
	s.conn = nil
	return &s
}

// Close closes the connection kept by a Sequential worker.
func (w *Worker) Close(ctx context.Context) error {
	if w.conn == nil {
		return nil
	}
	conn := w.conn
	w.conn = nil
	return conn.Close(ctx)
}

// Copy loads spec.Table: connect, describe, then drop constraints, truncate,
// copy and restore constraints, commit, and finally analyze.
func (w *Worker) Copy(ctx context.Context, spec transfer.JobSpec) (Result, error) {
	start := time.Now()
	res := Result{Table: spec.Table}
	log := logging.OrNop(w.Log).With(zap.String("table", spec.Table))

	conn, release, err := w.acquire(ctx, spec.Table, log)
	if err != nil {
		return res, err
	}
	defer release()

	var desc *schema.Descriptor
	err = w.step(spec.Table, "describe", func() (err error) {
		desc, err = conn.Describe(ctx, spec.Table)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("describe %s: %w", spec.Table, err)
	}

	mgr := constraints.New(desc, conn.Dialect(), log)
	job := transfer.NewJob(spec, desc)
	eng := &transfer.Engine{
		Archive: w.Archive,
		Hooks:   w.Hooks,
		Params:  w.Params,
		CSV:     w.CSV,
		Freeze:  w.Freeze,
		JobName: w.JobName,
		Log:     log,
	}

	if conn.Dialect().TransactionalDDL() {
		err = w.loadInTx(ctx, conn, mgr, eng, job, &res)
	} else {
		err = w.loadSplit(ctx, conn, mgr, eng, job, &res)
	}
	res.Mode = job.Mode
	res.RowsRead, res.RowsCopied, res.Chunks = job.RowsRead, job.RowsCopied, job.Chunks
	res.Checksum = job.Checksum()
	if err != nil {
		return res, fmt.Errorf("load %s: %w", spec.Table, err)
	}

	if err := w.step(spec.Table, "analyze", func() error { return mgr.Analyze(ctx, conn) }); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	log.Info("table loaded",
		zap.Stringer("mode", res.Mode),
		zap.Int64("rows", res.RowsCopied),
		zap.Int64("chunks", res.Chunks),
		zap.Int("fk_failures", res.FKFailures),
		zap.Duration("elapsed", res.Duration.Truncate(time.Millisecond)),
	)
	return res, nil
}

// loadInTx runs the whole drop, truncate, copy, create sequence in one
// transaction. Truncating in the same transaction is what allows COPY FREEZE.
func (w *Worker) loadInTx(ctx context.Context, conn storage.Conn, mgr *constraints.Manager, eng *transfer.Engine, job *transfer.Job, res *Result) error {
	table := job.Spec.Table
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				eng.Log.Warn("rollback", zap.Error(err))
			}
		}
	}()

	_ = w.step(table, "drop_constraints", func() error {
		res.FKFailures += mgr.DropForeignKeys(ctx, tx)
		mgr.DropPrimaryKey(ctx, tx)
		return nil
	})
	if err := w.step(table, "truncate", func() error { return mgr.Truncate(ctx, tx) }); err != nil {
		return err
	}
	if err := eng.Run(ctx, job, tx); err != nil {
		return err
	}
	err = w.step(table, "create_constraints", func() error {
		if err := mgr.CreatePrimaryKey(ctx, tx); err != nil {
			return err
		}
		res.FKFailures += mgr.CreateForeignKeys(ctx, tx)
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.step(table, "commit", func() error { return tx.Commit(ctx) }); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// loadSplit is used when constraint DDL cannot take part in a transaction:
// constraints are dropped and restored on the connection and only truncate
// and copy share a transaction.
func (w *Worker) loadSplit(ctx context.Context, conn storage.Conn, mgr *constraints.Manager, eng *transfer.Engine, job *transfer.Job, res *Result) error {
	table := job.Spec.Table
	_ = w.step(table, "drop_constraints", func() error {
		res.FKFailures += mgr.DropForeignKeys(ctx, conn)
		mgr.DropPrimaryKey(ctx, conn)
		return nil
	})

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := w.step(table, "truncate", func() error { return mgr.Truncate(ctx, tx) }); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := eng.Run(ctx, job, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := w.step(table, "commit", func() error { return tx.Commit(ctx) }); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return w.step(table, "create_constraints", func() error {
		if err := mgr.CreatePrimaryKey(ctx, conn); err != nil {
			return err
		}
		res.FKFailures += mgr.CreateForeignKeys(ctx, conn)
		return nil
	})
}

// acquire returns the connection for a job and the func that releases it. A
// Sequential worker keeps its connection open across jobs.
func (w *Worker) acquire(ctx context.Context, table string, log *zap.Logger) (storage.Conn, func(), error) {
	if w.reuse && w.conn != nil {
		return w.conn, func() {}, nil
	}

	var conn storage.Conn
	err := w.step(table, "connect", func() (err error) {
		conn, err = w.dial(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect for %s: %w", table, err)
	}
	closeConn := func() {
		if err := conn.Close(ctx); err != nil {
			log.Warn("close connection", zap.Error(err))
		}
	}

	if w.MaintenanceWorkMem != "" {
		if err := conn.SetSession(ctx, "maintenance_work_mem", w.MaintenanceWorkMem); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("set maintenance_work_mem: %w", err)
		}
	}

	if w.reuse {
		w.conn = conn
		return conn, func() {}, nil
	}
	return conn, closeConn, nil
}

func (w *Worker) dial(ctx context.Context) (storage.Conn, error) {
	if w.Dial != nil {
		return w.Dial(ctx, w.Storage)
	}
	return storage.Connect(ctx, w.Storage)
}

// step times fn and records it under name.
func (w *Worker) step(table, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(w.JobName, table, name, err, time.Since(start))
	return err
}
