package storage

import (
	"context"

	"trustgate/internal/models"
)

// Store defines the interface for API key and access log persistence.
// It provides a clean abstraction that can be implemented by different
// backends such as JSON files, SQLite, or PostgreSQL.
type Store interface {
	// CreateAPIKey stores a new API key record
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKeyByHash retrieves a key by its token hash
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// GetAPIKeyByID retrieves a key by its ID
	GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error)

	// ListAPIKeys returns all registered keys
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey stores updated limits, scopes, or expiry for an existing key
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey removes a key by its ID
	DeleteAPIKey(ctx context.Context, id string) error

	// AppendAccessLog records one access log entry, evicting the oldest
	// entries beyond the store's retention cap
	AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error

	// AccessLogs returns the most recent entries, newest first. limit <= 0
	// returns everything retained.
	AccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// AccessLogCap bounds access log retention; zero means the default cap
	AccessLogCap int `json:"access_log_cap,omitempty" yaml:"access_log_cap,omitempty"`
}

func (c Config) accessLogCap() int {
	if c.AccessLogCap > 0 {
		return c.AccessLogCap
	}
	return models.DefaultAccessLogCap
}
