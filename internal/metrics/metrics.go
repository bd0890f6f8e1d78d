// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics of a bulk load.
//
// A global, pluggable backend defaults to a no-op implementation, so metrics
// are always safe to call even when no real backend is configured. Concrete
// systems live in subpackages (prompush, datadog).
package metrics

import "time"

// Metric names.
const (
	StepTotal           = "bulkload_step_total"
	StepDurationSeconds = "bulkload_step_duration_seconds"
	RowsTotal           = "bulkload_rows_total"
	ChunksTotal         = "bulkload_chunks_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
// Call it before any job starts.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a load step (connect, describe,
// drop_constraints, truncate, copy, create_constraints, commit, analyze) and
// observes its duration.
func RecordStep(job, table, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"table":  table,
		"step":   step,
		"status": status,
	}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows increments the row counter for kind ("read" or "copied").
func RecordRows(job, table, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":   job,
		"table": table,
		"kind":  kind,
	})
}

// RecordChunks increments the COPY payload counter.
func RecordChunks(job, table string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ChunksTotal, float64(delta), Labels{
		"job":   job,
		"table": table,
	})
}
