// Package archivetest provides an in-memory archive.Archive for tests.
package archivetest

import (
	"context"
	"fmt"
	"sync"

	"bulkload/internal/archive"
	"bulkload/internal/frame"
)

// Mem is an in-memory archive. Populate it with Put/SetAttr before sharing
// it between goroutines.
type Mem struct {
	order  []string
	tables map[string]*frame.Frame
	attrs  map[string]map[string]map[string]any
	bad    map[string]bool

	// ReadErr, when set for a key, is returned by Read and ReadRange.
	ReadErr map[string]error

	mu     sync.Mutex
	reads  map[string]int
	closed bool
}

var _ archive.Archive = (*Mem)(nil)

// New returns an empty archive.
func New() *Mem {
	return &Mem{
		tables:  map[string]*frame.Frame{},
		attrs:   map[string]map[string]map[string]any{},
		bad:     map[string]bool{},
		ReadErr: map[string]error{},
		reads:   map[string]int{},
	}
}

// Put stores f under key.
func (m *Mem) Put(key string, f *frame.Frame) *Mem {
	if _, ok := m.tables[key]; !ok {
		m.order = append(m.order, key)
	}
	m.tables[key] = f
	return m
}

// SetAttr stores attribute name for key.
func (m *Mem) SetAttr(key, name string, v map[string]any) *Mem {
	if m.attrs[key] == nil {
		m.attrs[key] = map[string]map[string]any{}
	}
	m.attrs[key][name] = v
	return m
}

// SetMalformed makes every Attr call on key fail with ErrMalformedAttr.
func (m *Mem) SetMalformed(key string) *Mem {
	m.bad[key] = true
	return m
}

// Reads returns how many Read/ReadRange calls hit key.
func (m *Mem) Reads(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[key]
}

// Closed reports whether Close was called.
func (m *Mem) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mem) get(key string) (*frame.Frame, error) {
	f, ok := m.tables[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", archive.ErrUnknownKey, key)
	}
	m.mu.Lock()
	m.reads[key]++
	m.mu.Unlock()
	if err := m.ReadErr[key]; err != nil {
		return nil, err
	}
	return f, nil
}

func (m *Mem) Keys(context.Context) ([]string, error) {
	return append([]string(nil), m.order...), nil
}

func (m *Mem) NumRows(_ context.Context, key string) (int64, error) {
	f, ok := m.tables[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", archive.ErrUnknownKey, key)
	}
	return int64(f.Len()), nil
}

func (m *Mem) Read(_ context.Context, key string) (*frame.Frame, error) {
	f, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

func (m *Mem) ReadRange(_ context.Context, key string, start, stop int64) (*frame.Frame, error) {
	if err := archive.CheckRange(start, stop); err != nil {
		return nil, err
	}
	f, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return f.Slice(int(start), int(stop)).Clone(), nil
}

func (m *Mem) Attr(_ context.Context, key, name string) (map[string]any, error) {
	if m.bad[key] {
		return nil, fmt.Errorf("%w: key %s", archive.ErrMalformedAttr, key)
	}
	v, ok := m.attrs[key][name]
	if !ok {
		return nil, archive.ErrNoAttr
	}
	return v, nil
}

func (m *Mem) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Sequential returns a frame with columns cols and n rows where the first
// column holds 0..n-1 as int64 and the rest hold "<col>-<i>".
func Sequential(n int, cols ...string) *frame.Frame {
	f := frame.New(cols)
	for i := 0; i < n; i++ {
		row := make([]any, len(cols))
		for j, c := range cols {
			if j == 0 {
				row[j] = int64(i)
				continue
			}
			row[j] = fmt.Sprintf("%s-%d", c, i)
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}
