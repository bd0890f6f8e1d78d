// Package hooks holds the formatting chain applied to every frame before it
// is encoded for COPY.
//
// A hook receives the frame, the job context (destination table, source key,
// table descriptor, level values) and the run-wide params, and returns the
// frame to pass on. Hooks run in order, once per frame read from the archive.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bulkload/internal/config"
	"bulkload/internal/frame"
	"bulkload/internal/schema"
)

// Context is what a hook knows about the frame it formats.
type Context struct {
	Table     string
	SourceKey string
	Schema    *schema.Descriptor
	// Levels are constant column values for SourceKey.
	Levels map[string]any
}

// Hook formats one frame. It may modify f in place and return it.
type Hook func(ctx context.Context, f *frame.Frame, hc *Context, params config.Options) (*frame.Frame, error)

// Factory builds a hook from its options.
type Factory func(opts config.Options) (Hook, error)

// Step is a named hook in a chain.
type Step struct {
	Kind string
	Hook Hook
}

// Chain is an ordered list of hooks.
type Chain []Step

// Apply runs every hook in order. params are passed to each hook unchanged.
func (c Chain) Apply(ctx context.Context, f *frame.Frame, hc *Context, params config.Options) (*frame.Frame, error) {
	out := f
	for _, s := range c {
		next, err := s.Hook(ctx, out, hc, params)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", s.Kind, err)
		}
		if next == nil {
			return nil, fmt.Errorf("hook %s: returned no frame", s.Kind)
		}
		out = next
	}
	return out, nil
}

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists registered hook kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build turns configured hook specs into a Chain.
func Build(specs []config.Hook) (Chain, error) {
	chain := make(Chain, 0, len(specs))
	for i, s := range specs {
		mu.RLock()
		f, ok := factories[s.Kind]
		mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("hooks[%d]: unknown kind %q", i, s.Kind)
		}
		opts := s.Options
		if opts == nil {
			opts = config.Options{}
		}
		h, err := f(opts)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d] %s: %w", i, s.Kind, err)
		}
		chain = append(chain, Step{Kind: s.Kind, Hook: h})
	}
	return chain, nil
}

// Default is the chain used when none is configured.
func Default() Chain {
	c, err := Build(config.DefaultHooks())
	if err != nil {
		panic(err)
	}
	return c
}

func init() {
	Register("cast_nulls", func(config.Options) (Hook, error) { return CastNulls, nil })
	Register("stamp_levels", func(config.Options) (Hook, error) { return StampLevels, nil })
	Register("normalize_text", NewNormalizeText)
}
