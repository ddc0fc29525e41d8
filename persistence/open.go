package persistence

import (
	"context"
	"fmt"

	"isocity/server/config"
)

// Open builds the store selected by cfg.Type
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	var (
		store Storage
		err   error
	)
	switch cfg.Type {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageJSON:
		var s *JSONStore
		if s, err = NewJSONStore(cfg.Path); err == nil {
			store = s
		}
	case config.StorageSQLite:
		var s *SQLiteStore
		if s, err = NewSQLiteStore(ctx, cfg.Path); err == nil {
			store = s
		}
	case config.StorageLevelDB:
		var s *LevelDBStore
		if s, err = NewLevelDBStore(cfg.Path); err == nil {
			store = s
		}
	case config.StoragePostgres:
		var s *PostgresStore
		if s, err = NewPostgresStore(ctx, cfg.DSN); err == nil {
			store = s
		}
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Type, err)
	}
	return store, nil
}
