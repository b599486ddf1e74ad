package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/models"
)

func TestFactory_CreateMemory(t *testing.T) {
	factory := NewFactory()

	store, err := factory.Create(models.StorageConfig{Type: models.StorageTypeMemory}, models.AuditConfig{})
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &MemoryStore{}, store)
}

func TestFactory_CreateJSON(t *testing.T) {
	factory := NewFactory()

	store, err := factory.Create(models.StorageConfig{
		Type: models.StorageTypeJSON,
		Path: filepath.Join(t.TempDir(), "keys.json"),
	}, models.AuditConfig{MaxEntries: 100})
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &JSONStore{}, store)
}

func TestFactory_CreateSQLite(t *testing.T) {
	factory := NewFactory()

	store, err := factory.Create(models.StorageConfig{
		Type:     models.StorageTypeSQLite,
		Database: models.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "test.db")},
	}, models.AuditConfig{})
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &SQLiteStore{}, store)
}

func TestFactory_CreateUnsupported(t *testing.T) {
	factory := NewFactory()

	_, err := factory.Create(models.StorageConfig{Type: "etcd"}, models.AuditConfig{})
	assert.Error(t, err)
}

func TestFactory_ValidateConfig(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name    string
		config  models.StorageConfig
		wantErr bool
	}{
		{"memory", models.StorageConfig{Type: models.StorageTypeMemory}, false},
		{"json with path", models.StorageConfig{Type: models.StorageTypeJSON, Path: "/tmp/keys.json"}, false},
		{"json without path", models.StorageConfig{Type: models.StorageTypeJSON}, true},
		{"postgres with dsn", models.StorageConfig{Type: models.StorageTypePostgres, Database: models.DatabaseConfig{DSN: "postgres://localhost/tg"}}, false},
		{"postgres without dsn", models.StorageConfig{Type: models.StorageTypePostgres}, true},
		{"sqlite without dsn", models.StorageConfig{Type: models.StorageTypeSQLite}, true},
		{"unknown", models.StorageConfig{Type: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := factory.ValidateConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFactory_GetSupportedBackends(t *testing.T) {
	factory := NewFactory()
	backends := factory.GetSupportedBackends()

	assert.Contains(t, backends, models.StorageTypeJSON)
	assert.Contains(t, backends, models.StorageTypeMemory)
	assert.Contains(t, backends, models.StorageTypePostgres)
	assert.Contains(t, backends, models.StorageTypeSQLite)
}
