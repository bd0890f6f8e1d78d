package transfer

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeebo/xxh3"

	"bulkload/internal/frame"
	"bulkload/internal/schema"
)

var (
	// ErrColumnMismatch reports a frame whose column set differs from the
	// one fixed by the job's first frame.
	ErrColumnMismatch = errors.New("transfer: column set changed")

	// ErrUnknownColumn reports a frame column the destination table lacks.
	ErrUnknownColumn = errors.New("transfer: column not in destination table")
)

// JobSpec is the plain description of one destination table load. It holds
// no live resources and can be built before any connection exists.
type JobSpec struct {
	Table string
	// Keys are the source keys loaded into Table, in order.
	Keys []string
	// Levels holds per-key constant column values.
	Levels map[string]map[string]any

	CSVChunkSize    int64
	SourceChunkSize int64
	// Mode forces a transfer mode; nil lets SelectMode decide.
	Mode *Mode
}

// Job is the running state of one JobSpec.
type Job struct {
	Spec JobSpec
	Desc *schema.Descriptor
	Mode Mode

	RowsRead   int64
	RowsCopied int64
	Chunks     int64

	columns   []string
	hash      *xxh3.Hasher
	started   time.Time
	lastFlush time.Time
}

// NewJob prepares spec for a run against the table described by desc.
func NewJob(spec JobSpec, desc *schema.Descriptor) *Job {
	return &Job{Spec: spec, Desc: desc, hash: xxh3.New()}
}

// Columns returns the COPY column list, empty until the first frame.
func (j *Job) Columns() []string { return slices.Clone(j.columns) }

// Checksum is the xxh3 digest of every CSV payload sent, in order.
func (j *Job) Checksum() uint64 { return j.hash.Sum64() }

// conform checks f against the destination and the job's column cache. The
// first frame fixes the cache; later frames with the same set in another
// order are reordered.
func (j *Job) conform(f *frame.Frame) (*frame.Frame, error) {
	if j.Desc != nil && len(j.Desc.Columns) > 0 {
		for _, c := range f.Columns {
			if _, ok := j.Desc.Column(c); !ok {
				return nil, fmt.Errorf("%w: %q in %s", ErrUnknownColumn, c, j.Spec.Table)
			}
		}
	}
	if j.columns == nil {
		j.columns = slices.Clone(f.Columns)
		return f, nil
	}
	if slices.Equal(j.columns, f.Columns) {
		return f, nil
	}
	if !sameSet(j.columns, f.Columns) {
		return nil, fmt.Errorf("%w: have %v, got %v", ErrColumnMismatch, j.columns, f.Columns)
	}
	return f.Reorder(j.columns)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
