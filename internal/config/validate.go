package config

import (
	"fmt"
	"sort"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.db.dsn",
// "hooks[1].kind"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Known kinds. Unknown kinds are warnings so out-of-tree backends can register.
var (
	knownArchiveKinds = map[string]struct{}{"sqlite": {}, "duckdb": {}, "parquet": {}}
	knownStorageKinds = map[string]struct{}{"postgres": {}}
	knownHookKinds    = map[string]struct{}{"cast_nulls": {}, "stamp_levels": {}, "normalize_text": {}}
	knownModes        = map[string]struct{}{"direct": {}, "subchunked": {}, "streaming": {}}
)

// Validate lints cfg without mutating it. Callers decide whether warnings
// are fatal.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(cfg.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics will be grouped under the default job name",
		})
	}
	issues = append(issues, validateArchive(cfg.Archive)...)
	issues = append(issues, validateTables(cfg.Tables)...)
	issues = append(issues, validateStorage(cfg.Storage)...)
	issues = append(issues, validateRuntime(cfg.Runtime)...)
	issues = append(issues, validateHooks(cfg.Hooks)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	return issues
}

func validateArchive(a Archive) []Issue {
	var issues []Issue

	if strings.TrimSpace(a.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "archive.kind",
			Message:  "archive.kind must not be empty",
		})
	} else if _, ok := knownArchiveKinds[a.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "archive.kind",
			Message:  fmt.Sprintf("unknown archive kind %q; ensure a matching backend is registered", a.Kind),
		})
	}
	if strings.TrimSpace(a.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "archive.path",
			Message:  "archive.path must not be empty",
		})
	}
	if a.MetadataAttr == "" && len(a.MetadataKeys) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "archive.metadata_keys",
			Message:  "metadata_keys has no effect without metadata_attr",
		})
	}
	return issues
}

func validateTables(tables map[string][]string) []Issue {
	var issues []Issue
	names := make([]string, 0, len(tables))
	for t := range tables {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		if len(tables[t]) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "tables." + t,
				Message:  "table maps to no source keys; it will be skipped",
			})
		}
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	} else if _, ok := knownStorageKinds[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "storage.db.dsn must not be empty (or set " + EnvDSN + ")",
		})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	if r.Parallelism < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.parallelism",
			Message:  "parallelism must not be negative",
		})
	}
	if r.CSVChunkSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.csv_chunksize",
			Message:  fmt.Sprintf("csv_chunksize=%d; must be positive", r.CSVChunkSize),
		})
	}
	if r.SourceChunkSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.source_chunksize",
			Message:  fmt.Sprintf("source_chunksize=%d; must be positive", r.SourceChunkSize),
		})
	}
	if r.CSVChunkSize > 0 && r.SourceChunkSize > 0 && r.SourceChunkSize < r.CSVChunkSize {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.source_chunksize",
			Message:  "source_chunksize is smaller than csv_chunksize; streaming windows will be copied as single payloads",
		})
	}

	tables := make([]string, 0, len(r.Modes))
	for t := range r.Modes {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		if _, ok := knownModes[strings.ToLower(r.Modes[t])]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "runtime.modes." + t,
				Message:  fmt.Sprintf("unknown mode %q; want direct, subchunked or streaming", r.Modes[t]),
			})
		}
	}
	return issues
}

func validateHooks(hs []Hook) []Issue {
	var issues []Issue

	if len(hs) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "hooks",
			Message:  "no hooks configured; frames are copied as read, without null casting or level columns",
		})
		return issues
	}
	for i, h := range hs {
		path := fmt.Sprintf("hooks[%d].kind", i)
		if strings.TrimSpace(h.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "hook kind must not be empty",
			})
			continue
		}
		if _, ok := knownHookKinds[h.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("unknown hook kind %q", h.Kind),
			})
		}
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway_url is empty; PUSHGATEWAY_URL or http://localhost:9091 will be used",
			})
		}
	case "datadog":
		if m.StatsdAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.statsd_addr",
				Message:  "datadog backend requires statsd_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend),
		})
	}
	return issues
}
