package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Dialer opens a Conn for a backend kind.
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

var (
	mu      sync.RWMutex
	dialers = map[string]Dialer{}
)

// Register registers (or replaces) the Dialer for kind. Backends call it from
// init().
func Register(kind string, d Dialer) {
	mu.Lock()
	defer mu.Unlock()
	dialers[kind] = d
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(dialers))
	for k := range dialers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Connect opens a Conn using the Dialer registered for cfg.Kind.
func Connect(ctx context.Context, cfg Config) (Conn, error) {
	mu.RLock()
	d, ok := dialers[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for kind=%q", cfg.Kind)
	}
	return d(ctx, cfg)
}
