// ABOUTME: Driver selection for building a MessageStore from configuration
// ABOUTME: Maps a driver name to the SQLite or PostgreSQL implementation

package store

import (
	"context"
	"fmt"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the store named by driver. For sqlite, target is a file path
// or ":memory:". For postgres, target is a lib/pq connection string.
func Open(ctx context.Context, driver, target string) (MessageStore, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(target)
	case DriverPostgres:
		return NewPostgresStore(ctx, target)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
