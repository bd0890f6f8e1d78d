// Package archive defines the read-only view of a multi-table source file and
// a small factory registry for the supported formats.
//
// Backends register themselves at init time (see archive/all), so callers can
// open an archive from configuration alone:
//
//	arc, err := archive.Open(ctx, "sqlite", "export.sqlite")
//	if err != nil { ... }
//	defer arc.Close()
//
// Implementations must be safe for concurrent use: one archive is opened per
// run and shared by every worker.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"bulkload/internal/frame"
)

var (
	// ErrNoAttr reports that a key carries no attribute of the requested name.
	ErrNoAttr = errors.New("archive: attribute not found")

	// ErrMalformedAttr reports an attribute that exists but is not a JSON object.
	ErrMalformedAttr = errors.New("archive: malformed attribute")

	// ErrUnknownKey reports a key that is not present in the archive.
	ErrUnknownKey = errors.New("archive: unknown key")
)

// Archive is a source dataset containing independently keyed tables.
type Archive interface {
	// Keys lists every table key in a stable order.
	Keys(ctx context.Context) ([]string, error)

	// NumRows returns the row count of key without materializing it.
	NumRows(ctx context.Context, key string) (int64, error)

	// Read loads key fully.
	Read(ctx context.Context, key string) (*frame.Frame, error)

	// ReadRange loads rows [start, stop) of key, in source order.
	ReadRange(ctx context.Context, key string, start, stop int64) (*frame.Frame, error)

	// Attr returns the metadata attribute name of key. It returns ErrNoAttr
	// when absent and ErrMalformedAttr when the stored value is not an object.
	Attr(ctx context.Context, key, name string) (map[string]any, error)

	Close() error
}

// Opener opens the archive at path.
type Opener func(ctx context.Context, path string) (Archive, error)

var (
	mu      sync.RWMutex
	openers = map[string]Opener{}
)

// Register installs (or replaces) the opener for kind.
func Register(kind string, fn Opener) {
	mu.Lock()
	defer mu.Unlock()
	openers[kind] = fn
}

// Kinds returns the registered archive kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open opens path with the backend registered for kind.
func Open(ctx context.Context, kind, path string) (Archive, error) {
	mu.RLock()
	fn, ok := openers[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("archive: no backend registered for kind=%q", kind)
	}
	return fn(ctx, path)
}

// CheckRange validates a [start, stop) window request.
func CheckRange(start, stop int64) error {
	if start < 0 || stop < start {
		return fmt.Errorf("archive: invalid range [%d, %d)", start, stop)
	}
	return nil
}
