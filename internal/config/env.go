package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvDSN                = "BULKLOAD_DSN"
	EnvParallelism        = "BULKLOAD_PARALLELISM"
	EnvCSVChunkSize       = "BULKLOAD_CSV_CHUNKSIZE"
	EnvSourceChunkSize    = "BULKLOAD_SOURCE_CHUNKSIZE"
	EnvMaintenanceWorkMem = "BULKLOAD_MAINTENANCE_WORK_MEM"
)

// getenv is a test seam.
var getenv = os.Getenv

// ApplyEnv overlays BULKLOAD_* variables onto cfg. Unset variables leave the
// field alone; malformed numbers are an error.
func ApplyEnv(cfg *Config) error {
	if s := getenv(EnvDSN); s != "" {
		cfg.Storage.DB.DSN = s
	}
	if s := getenv(EnvMaintenanceWorkMem); s != "" {
		cfg.Storage.DB.MaintenanceWorkMem = s
	}
	if n, ok, err := getenvInt(EnvParallelism); err != nil {
		return err
	} else if ok {
		cfg.Runtime.Parallelism = int(n)
	}
	if n, ok, err := getenvInt(EnvCSVChunkSize); err != nil {
		return err
	} else if ok {
		cfg.Runtime.CSVChunkSize = n
	}
	if n, ok, err := getenvInt(EnvSourceChunkSize); err != nil {
		return err
	} else if ok {
		cfg.Runtime.SourceChunkSize = n
	}
	return nil
}

func getenvInt(k string) (int64, bool, error) {
	s := getenv(k)
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("config: %s=%q: not an integer", k, s)
	}
	return n, true, nil
}
