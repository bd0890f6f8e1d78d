package hooks

import (
	"context"
	"sort"

	"bulkload/internal/config"
	"bulkload/internal/frame"
)

// StampLevels broadcasts the source key's level values onto every row, adding
// columns as needed. Levels are applied in column-name order.
func StampLevels(_ context.Context, f *frame.Frame, hc *Context, _ config.Options) (*frame.Frame, error) {
	if hc == nil || len(hc.Levels) == 0 {
		return f, nil
	}
	names := make([]string, 0, len(hc.Levels))
	for k := range hc.Levels {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		f.SetColumn(k, hc.Levels[k])
	}
	return f, nil
}
