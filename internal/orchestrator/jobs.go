package orchestrator

import (
	"fmt"

	"go.uber.org/zap"

	"bulkload/internal/catalog"
	"bulkload/internal/config"
	"bulkload/internal/logging"
	"bulkload/internal/transfer"
)

// BuildJobs turns the resolved catalog into one JobSpec per destination
// table, in catalog order. Explicitly configured tables with no keys are
// logged and skipped.
func BuildJobs(cat *catalog.Catalog, cfg config.Config, log *zap.Logger) ([]transfer.JobSpec, error) {
	log = logging.OrNop(log)

	for table, keys := range cfg.Tables {
		if len(keys) == 0 {
			log.Warn("table has no source keys, nothing to load", zap.String("table", table))
		}
	}

	specs := make([]transfer.JobSpec, 0, cat.Len())
	for _, table := range cat.Tables() {
		keys := cat.Keys(table)
		if len(keys) == 0 {
			log.Warn("table has no source keys, nothing to load", zap.String("table", table))
			continue
		}

		s := transfer.JobSpec{
			Table:           table,
			Keys:            keys,
			CSVChunkSize:    cfg.Runtime.CSVChunkSize,
			SourceChunkSize: cfg.Runtime.SourceChunkSize,
		}
		for _, k := range keys {
			if lv, ok := cat.Levels[k]; ok {
				if s.Levels == nil {
					s.Levels = map[string]map[string]any{}
				}
				s.Levels[k] = lv
			}
		}
		if name, ok := cfg.Runtime.Modes[table]; ok {
			m, err := transfer.ParseMode(name)
			if err != nil {
				return nil, fmt.Errorf("runtime.modes[%s]: %w", table, err)
			}
			s.Mode = &m
		}
		specs = append(specs, s)
	}
	return specs, nil
}
