// Package all wires the built-in storage backends into the storage factory.
// Import it for side effects:
//
//	import _ "bulkload/internal/storage/all"
//
// Registered kinds: "postgres".
package all

import (
	_ "bulkload/internal/storage/postgres"
)
