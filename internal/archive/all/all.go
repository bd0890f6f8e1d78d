// Package all wires every built-in archive backend into the archive factory.
// Import it for side effects:
//
//	import _ "bulkload/internal/archive/all"
//
// Registered kinds: "sqlite", "duckdb", "parquet".
package all

import (
	_ "bulkload/internal/archive/duckdb"
	_ "bulkload/internal/archive/parquet"
	_ "bulkload/internal/archive/sqlite"
)
