package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"trustgate/internal/models"
)

// jsonCacheTTL bounds how long the in-memory snapshot is trusted before
// the file's modification time is re-checked.
const jsonCacheTTL = 5 * time.Minute

// JSONStore implements the Store interface using a JSON file for
// persistence. It keeps an in-memory cache for performance and supports
// concurrent access.
type JSONStore struct {
	filePath     string
	accessLogCap int
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Keys        []*models.APIKey         `json:"keys"`
	AccessLogs  []*models.AccessLogEntry `json:"access_logs"`
	LastUpdated time.Time                `json:"last_updated"`
}

// NewJSONStore creates a new JSON-file-backed store instance
func NewJSONStore(config Config) (*JSONStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	store := &JSONStore{
		filePath:     config.Path,
		accessLogCap: config.accessLogCap(),
	}

	if err := store.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := store.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return store, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStore) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		emptyData := &JSONData{
			Keys:       []*models.APIKey{},
			AccessLogs: []*models.AccessLogEntry{},
		}
		return j.writeFile(emptyData)
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStore) loadData() error {
	// Fast path: cache is still valid.
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	// Slow path: acquire write lock and re-validate before doing any I/O.
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.loadDataLocked()
}

// loadDataLocked re-reads the file if needed. Callers must hold the write lock.
func (j *JSONStore) loadDataLocked() error {
	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(jsonCacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(jsonCacheTTL)
	return nil
}

// writeFile marshals and writes the data. Callers must hold the write lock
// (or be in construction, before the store is shared).
func (j *JSONStore) writeFile(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(j.filePath, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	j.data = data
	j.cacheExpiry = time.Now().Add(jsonCacheTTL)
	return nil
}

// CreateAPIKey stores a new API key record
func (j *JSONStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.loadDataLocked(); err != nil {
		return err
	}

	for _, existing := range j.data.Keys {
		if existing.ID == key.ID {
			return fmt.Errorf("api key %s: %w", key.ID, ErrDuplicate)
		}
		if existing.KeyHash == key.KeyHash {
			return fmt.Errorf("api key hash: %w", ErrDuplicate)
		}
	}

	keyCopy := *key
	j.data.Keys = append(j.data.Keys, &keyCopy)
	return j.writeFile(j.data)
}

// GetAPIKeyByHash retrieves a key by its token hash
func (j *JSONStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, key := range j.data.Keys {
		if key.KeyHash == hash {
			keyCopy := *key
			return &keyCopy, nil
		}
	}
	return nil, fmt.Errorf("api key by hash: %w", ErrNotFound)
}

// GetAPIKeyByID retrieves a key by its ID
func (j *JSONStore) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, key := range j.data.Keys {
		if key.ID == id {
			keyCopy := *key
			return &keyCopy, nil
		}
	}
	return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
}

// ListAPIKeys returns all registered keys sorted by creation time (oldest first)
func (j *JSONStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	keys := make([]*models.APIKey, 0, len(j.data.Keys))
	for _, key := range j.data.Keys {
		keyCopy := *key
		keys = append(keys, &keyCopy)
	}

	sort.Slice(keys, func(i, k int) bool {
		if keys[i].CreatedAt.Equal(keys[k].CreatedAt) {
			return keys[i].ID < keys[k].ID
		}
		return keys[i].CreatedAt.Before(keys[k].CreatedAt)
	})

	return keys, nil
}

// UpdateAPIKey stores updated limits, scopes, or expiry for an existing key
func (j *JSONStore) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.loadDataLocked(); err != nil {
		return err
	}

	for i, existing := range j.data.Keys {
		if existing.ID == key.ID {
			keyCopy := *key
			keyCopy.UpdatedAt = time.Now().UTC()
			j.data.Keys[i] = &keyCopy
			return j.writeFile(j.data)
		}
	}
	return fmt.Errorf("api key %s: %w", key.ID, ErrNotFound)
}

// DeleteAPIKey removes a key by its ID
func (j *JSONStore) DeleteAPIKey(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.loadDataLocked(); err != nil {
		return err
	}

	for i, existing := range j.data.Keys {
		if existing.ID == id {
			j.data.Keys = append(j.data.Keys[:i], j.data.Keys[i+1:]...)
			return j.writeFile(j.data)
		}
	}
	return fmt.Errorf("api key %s: %w", id, ErrNotFound)
}

// AppendAccessLog records one access log entry, evicting the oldest beyond the cap
func (j *JSONStore) AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.loadDataLocked(); err != nil {
		return err
	}

	entryCopy := *entry
	j.data.AccessLogs = append(j.data.AccessLogs, &entryCopy)
	if overflow := len(j.data.AccessLogs) - j.accessLogCap; overflow > 0 {
		j.data.AccessLogs = append([]*models.AccessLogEntry(nil), j.data.AccessLogs[overflow:]...)
	}
	return j.writeFile(j.data)
}

// AccessLogs returns the most recent entries, newest first
func (j *JSONStore) AccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.data.AccessLogs)
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]*models.AccessLogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		entryCopy := *j.data.AccessLogs[i]
		result = append(result, &entryCopy)
	}
	return result, nil
}

// Ping verifies the backing file is accessible
func (j *JSONStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close is a no-op for JSON storage
func (j *JSONStore) Close() error {
	return nil
}
