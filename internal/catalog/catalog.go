// Package catalog maps archive keys to destination tables.
//
// A catalog is built once per run from per-key metadata attributes and is
// read-only afterwards. Each destination table is fed by one or more source
// keys; each key may carry constant "level" values that are stamped onto
// every row read from it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"bulkload/internal/archive"
	"bulkload/internal/logging"
)

// DefaultTableNameField is the attribute field holding the destination table.
const DefaultTableNameField = "sql_table_name"

// Options controls Build.
type Options struct {
	// Keys restricts the catalog to these keys. Empty means all keys.
	Keys []string
	// MetadataAttr names the attribute to read per key. Empty means identity
	// mapping: every key loads into a table of the same name.
	MetadataAttr string
	// MetadataKeys are attribute fields copied into Levels.
	MetadataKeys []string
	// TableNameField defaults to DefaultTableNameField.
	TableNameField string
}

// Catalog is an ordered destination table -> source keys mapping.
type Catalog struct {
	order []string
	keys  map[string][]string

	// Levels holds constant column values per source key.
	Levels map[string]map[string]any
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{keys: map[string][]string{}, Levels: map[string]map[string]any{}}
}

// Add maps key into table. Tables keep first-seen order; a key is added to a
// table at most once.
func (c *Catalog) Add(table, key string) {
	ks, ok := c.keys[table]
	if !ok {
		c.order = append(c.order, table)
	}
	for _, k := range ks {
		if k == key {
			return
		}
	}
	c.keys[table] = append(ks, key)
}

// Tables returns destination tables in discovery order.
func (c *Catalog) Tables() []string { return append([]string(nil), c.order...) }

// Keys returns the source keys feeding table.
func (c *Catalog) Keys(table string) []string { return append([]string(nil), c.keys[table]...) }

// Len is the number of destination tables.
func (c *Catalog) Len() int { return len(c.order) }

// MergeLevels overlays explicit per-key levels on top of discovered ones.
func (c *Catalog) MergeLevels(explicit map[string]map[string]any) {
	for key, lv := range explicit {
		dst, ok := c.Levels[key]
		if !ok {
			dst = map[string]any{}
			c.Levels[key] = dst
		}
		for col, v := range lv {
			dst[col] = v
		}
	}
}

// IsMetaKey reports whether key follows the reserved meta naming convention
// (a path segment starting with "meta", e.g. "meta_attrs" or "/meta/x").
// Such keys never produce diagnostics when they lack metadata.
func IsMetaKey(key string) bool {
	return strings.Contains("/"+strings.TrimPrefix(key, "/"), "/meta")
}

// Build reads metadata for every selected key of arc.
//
// Keys without the attribute are excluded (meta keys silently, others with a
// warning). Keys whose attribute lacks a usable table name are excluded with
// a warning. A malformed attribute or a read failure is returned.
func Build(ctx context.Context, arc archive.Archive, opts Options, log *zap.Logger) (*Catalog, error) {
	log = logging.OrNop(log).Named("catalog")

	keys := opts.Keys
	if len(keys) == 0 {
		var err error
		if keys, err = arc.Keys(ctx); err != nil {
			return nil, fmt.Errorf("catalog: list keys: %w", err)
		}
	}
	field := opts.TableNameField
	if field == "" {
		field = DefaultTableNameField
	}

	c := New()
	for _, key := range keys {
		if opts.MetadataAttr == "" {
			if !IsMetaKey(key) {
				c.Add(strings.TrimPrefix(key, "/"), key)
			}
			continue
		}

		md, err := arc.Attr(ctx, key, opts.MetadataAttr)
		switch {
		case errors.Is(err, archive.ErrNoAttr):
			if !IsMetaKey(key) {
				log.Warn("no metadata found for key; skipping",
					zap.String("key", key), zap.String("attr", opts.MetadataAttr))
			}
			continue
		case err != nil:
			return nil, fmt.Errorf("catalog: key %s: %w", key, err)
		}
		log.Debug("metadata", zap.String("key", key), zap.Any("metadata", md))

		for _, mk := range opts.MetadataKeys {
			v, ok := md[mk]
			if !ok {
				continue
			}
			if c.Levels[key] == nil {
				c.Levels[key] = map[string]any{}
			}
			c.Levels[key][mk] = v
		}

		table, _ := md[field].(string)
		if strings.TrimSpace(table) == "" {
			log.Warn("no destination table name found for key; skipping",
				zap.String("key", key), zap.String("field", field))
			continue
		}
		c.Add(table, key)
	}

	log.Info("catalog built", zap.Int("keys", len(keys)), zap.Int("tables", c.Len()))
	return c, nil
}

// Resolve combines the catalog with an explicit mapping and a key filter:
//
//   - explicit mapping and key filter: explicit mapping restricted to the keys;
//   - key filter only: catalog restricted to the keys, or an identity mapping
//     of the keys when the catalog is empty;
//   - explicit mapping only: the explicit mapping;
//   - neither: the catalog.
//
// Tables left without keys are dropped. Levels are carried over from cat.
func Resolve(cat *Catalog, explicit map[string][]string, keys []string) *Catalog {
	if cat == nil {
		cat = New()
	}

	base := cat
	if len(explicit) > 0 {
		base = New()
		tables := make([]string, 0, len(explicit))
		for t := range explicit {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			for _, k := range explicit[t] {
				base.Add(t, k)
			}
		}
	}

	out := New()
	out.Levels = cat.Levels
	if len(keys) == 0 {
		for _, t := range base.order {
			for _, k := range base.keys[t] {
				out.Add(t, k)
			}
		}
		return out
	}

	if base.Len() == 0 {
		for _, k := range keys {
			out.Add(strings.TrimPrefix(k, "/"), k)
		}
		return out
	}

	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	for _, t := range base.order {
		for _, k := range base.keys[t] {
			if _, ok := allowed[k]; ok {
				out.Add(t, k)
			}
		}
	}
	return out
}
