// Package storage selects the report persistence backend.
package storage

import (
	"fmt"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/storage/badger"
	"github.com/bobmcallan/stockgen/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendSurrealDB = "surrealdb"
	BackendBadger    = "badger"
)

// NewStorageManager creates a storage manager based on the configuration.
// Supported backends: "surrealdb" (default), "badger".
func NewStorageManager(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendSurrealDB
	}

	switch backend {
	case BackendSurrealDB:
		return surrealdb.NewManager(logger, config)

	case BackendBadger:
		path := config.Storage.Path
		if path == "" {
			path = "data/stockgen"
		}
		return badger.NewStore(logger, path)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: surrealdb, badger)", backend)
	}
}
