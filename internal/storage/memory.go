package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustgate/internal/models"
)

// MemoryStore implements the Store interface using in-memory data structures.
// This provider is ideal for development, testing, and single-instance
// deployments where persistence across restarts is not required.
type MemoryStore struct {
	mu           sync.RWMutex
	keys         map[string]*models.APIKey // keyed by ID
	hashIndex    map[string]string         // token hash -> ID
	accessLogs   []*models.AccessLogEntry  // oldest first
	accessLogCap int
}

// NewMemoryStore creates a new memory-based store instance
func NewMemoryStore(config Config) (*MemoryStore, error) {
	return &MemoryStore{
		keys:         make(map[string]*models.APIKey),
		hashIndex:    make(map[string]string),
		accessLogCap: config.accessLogCap(),
	}, nil
}

// CreateAPIKey stores a new API key record
func (m *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key.ID]; exists {
		return fmt.Errorf("api key %s: %w", key.ID, ErrDuplicate)
	}
	if _, exists := m.hashIndex[key.KeyHash]; exists {
		return fmt.Errorf("api key hash: %w", ErrDuplicate)
	}

	// Store a copy to prevent external modification
	keyCopy := *key
	m.keys[key.ID] = &keyCopy
	m.hashIndex[key.KeyHash] = key.ID
	return nil
}

// GetAPIKeyByHash retrieves a key by its token hash
func (m *MemoryStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.hashIndex[hash]
	if !exists {
		return nil, fmt.Errorf("api key by hash: %w", ErrNotFound)
	}

	keyCopy := *m.keys[id]
	return &keyCopy, nil
}

// GetAPIKeyByID retrieves a key by its ID
func (m *MemoryStore) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, exists := m.keys[id]
	if !exists {
		return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}

	keyCopy := *key
	return &keyCopy, nil
}

// ListAPIKeys returns all registered keys sorted by creation time (oldest first)
func (m *MemoryStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*models.APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		keyCopy := *key
		keys = append(keys, &keyCopy)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})

	return keys, nil
}

// UpdateAPIKey stores updated limits, scopes, or expiry for an existing key
func (m *MemoryStore) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.keys[key.ID]
	if !exists {
		return fmt.Errorf("api key %s: %w", key.ID, ErrNotFound)
	}

	// The hash index must follow when a key is rotated.
	if existing.KeyHash != key.KeyHash {
		delete(m.hashIndex, existing.KeyHash)
		m.hashIndex[key.KeyHash] = key.ID
	}

	keyCopy := *key
	keyCopy.UpdatedAt = time.Now().UTC()
	m.keys[key.ID] = &keyCopy
	return nil
}

// DeleteAPIKey removes a key by its ID
func (m *MemoryStore) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, exists := m.keys[id]
	if !exists {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}

	delete(m.hashIndex, key.KeyHash)
	delete(m.keys, id)
	return nil
}

// AppendAccessLog records one access log entry, evicting the oldest beyond the cap
func (m *MemoryStore) AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryCopy := *entry
	m.accessLogs = append(m.accessLogs, &entryCopy)
	if overflow := len(m.accessLogs) - m.accessLogCap; overflow > 0 {
		m.accessLogs = append([]*models.AccessLogEntry(nil), m.accessLogs[overflow:]...)
	}
	return nil
}

// AccessLogs returns the most recent entries, newest first
func (m *MemoryStore) AccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.accessLogs)
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]*models.AccessLogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		entryCopy := *m.accessLogs[i]
		result = append(result, &entryCopy)
	}
	return result, nil
}

// Ping verifies the backend is reachable
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStore) Close() error {
	return nil
}
