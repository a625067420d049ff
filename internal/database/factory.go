package database

import (
	"fmt"
	"os"
	"path/filepath"

	"idem/internal/config"
	"idem/internal/index"
)

// IndexFileName is the on-disk name of the index store within db_dir.
const IndexFileName = "index.db"

// NewStoreFromConfig creates an index.Store based on the store config
// type. clock may be nil for the real clock.
func NewStoreFromConfig(cfg config.StoreConfig, clock index.Clock) (index.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, IndexFileName), clock)
	case "memory":
		return NewSQLiteStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// OpenStoreFromConfig opens an existing store for read paths. The
// schema is checked rather than migrated, so a status query never
// mutates the index.
func OpenStoreFromConfig(cfg config.StoreConfig, clock index.Clock) (index.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		return OpenSQLiteStore(filepath.Join(cfg.DataDir, IndexFileName), clock)
	case "memory":
		// An in-memory store has no prior state to open.
		return NewSQLiteStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
