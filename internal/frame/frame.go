// Package frame holds the in-memory row batch that moves through the loader:
// an ordered list of column names plus row-major values aligned to it.
//
// Frames are produced by archive readers, rewritten by formatting hooks and
// serialized by the CSV bridge. They are not safe for concurrent mutation; a
// frame belongs to the job that read it.
package frame

import "fmt"

// Frame is a batch of rows sharing one column layout.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty frame with the given columns.
func New(columns []string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Index returns the position of column name, or -1.
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row. The row must have one value per column.
func (f *Frame) Append(row []any) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("frame: row has %d values, want %d", len(row), len(f.Columns))
	}
	f.Rows = append(f.Rows, row)
	return nil
}

// Slice returns a view of rows [start, stop). The view shares row storage with
// f; stop is clamped to Len.
func (f *Frame) Slice(start, stop int) *Frame {
	if stop > len(f.Rows) {
		stop = len(f.Rows)
	}
	if start > stop {
		start = stop
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[start:stop]}
}

// SetColumn writes value into column name on every row, adding the column at
// the end when it does not exist yet.
func (f *Frame) SetColumn(name string, value any) {
	idx := f.Index(name)
	if idx < 0 {
		f.Columns = append(f.Columns, name)
		for i, r := range f.Rows {
			f.Rows[i] = append(r, value)
		}
		return
	}
	for _, r := range f.Rows {
		r[idx] = value
	}
}

// Reorder returns a frame whose columns follow order. Every name in order must
// exist in f and f must have no extra columns.
func (f *Frame) Reorder(order []string) (*Frame, error) {
	if len(order) != len(f.Columns) {
		return nil, fmt.Errorf("frame: reorder to %d columns, have %d", len(order), len(f.Columns))
	}
	pos := make([]int, len(order))
	for i, name := range order {
		j := f.Index(name)
		if j < 0 {
			return nil, fmt.Errorf("frame: column %q not present", name)
		}
		pos[i] = j
	}

	out := &Frame{Columns: append([]string(nil), order...), Rows: make([][]any, len(f.Rows))}
	for i, r := range f.Rows {
		nr := make([]any, len(pos))
		for k, j := range pos {
			nr[k] = r[j]
		}
		out.Rows[i] = nr
	}
	return out, nil
}

// Clone returns a deep copy of the column list and row slices. Values
// themselves are not copied.
func (f *Frame) Clone() *Frame {
	out := &Frame{Columns: append([]string(nil), f.Columns...), Rows: make([][]any, len(f.Rows))}
	for i, r := range f.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}
