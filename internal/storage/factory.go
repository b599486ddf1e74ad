package storage

import (
	"fmt"

	"trustgate/internal/models"
)

// Factory provides a centralized way to create store instances based on
// configuration. This allows for easy extensibility and backend swapping
// without code changes.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a store based on the provided configuration.
// Supported backends:
//   - json: JSON file-based storage (thread-safe with caching)
//   - memory: In-memory storage (for testing/development)
//   - postgres: PostgreSQL database storage (production-ready)
//   - sqlite: SQLite database storage (lightweight database)
func (f *Factory) Create(config models.StorageConfig, audit models.AuditConfig) (Store, error) {
	storeConfig := Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		AccessLogCap:     audit.MaxEntries,
	}

	switch config.Type {
	case models.StorageTypeJSON:
		return NewJSONStore(storeConfig)
	case models.StorageTypeMemory:
		return NewMemoryStore(storeConfig)
	case models.StorageTypePostgres:
		return NewPostgresStore(storeConfig)
	case models.StorageTypeSQLite:
		return NewSQLiteStore(storeConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedBackends returns a list of all supported storage backend types
func (f *Factory) GetSupportedBackends() []string {
	return []string{models.StorageTypeJSON, models.StorageTypeMemory, models.StorageTypePostgres, models.StorageTypeSQLite}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypeMemory:
		// No configuration required
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}
