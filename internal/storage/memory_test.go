package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/models"
)

func testKey(id, ownerID, hash string) *models.APIKey {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.APIKey{
		ID:          id,
		OwnerID:     ownerID,
		KeyHash:     hash,
		Prefix:      "tg_12345",
		Scopes:      []string{"read", "usage"},
		Tier:        models.TierFree,
		DailyLimit:  500,
		MinuteLimit: 20,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// runStoreTests exercises the Store contract against any backend.
func runStoreTests(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		key := testKey("key-1", "alice", "hash-1")
		require.NoError(t, store.CreateAPIKey(ctx, key))

		byID, err := store.GetAPIKeyByID(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.OwnerID)
		assert.Equal(t, []string{"read", "usage"}, byID.Scopes)
		assert.Equal(t, models.TierFree, byID.Tier)
		assert.Nil(t, byID.ExpiresAt)

		byHash, err := store.GetAPIKeyByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "key-1", byHash.ID)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		key := testKey("key-1", "alice", "hash-other")
		err := store.CreateAPIKey(ctx, key)
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetAPIKeyByID(ctx, "no-such-key")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.GetAPIKeyByHash(ctx, "no-such-hash")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		key2 := testKey("key-2", "bob", "hash-2")
		key2.CreatedAt = key2.CreatedAt.Add(time.Second)
		expiry := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
		key2.ExpiresAt = &expiry
		require.NoError(t, store.CreateAPIKey(ctx, key2))

		keys, err := store.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "key-1", keys[0].ID)
		assert.Equal(t, "key-2", keys[1].ID)
		require.NotNil(t, keys[1].ExpiresAt)
	})

	t.Run("Update", func(t *testing.T) {
		key, err := store.GetAPIKeyByID(ctx, "key-1")
		require.NoError(t, err)

		key.DailyLimit = 10000
		key.Tier = models.TierPartner2
		key.Scopes = []string{"read", "context", "usage"}
		require.NoError(t, store.UpdateAPIKey(ctx, key))

		updated, err := store.GetAPIKeyByID(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, 10000, updated.DailyLimit)
		assert.Equal(t, models.TierPartner2, updated.Tier)
		assert.Equal(t, []string{"read", "context", "usage"}, updated.Scopes)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		key := testKey("no-such-key", "nobody", "hash-x")
		err := store.UpdateAPIKey(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteAPIKey(ctx, "key-2"))

		_, err := store.GetAPIKeyByID(ctx, "key-2")
		assert.ErrorIs(t, err, ErrNotFound)

		// Hash lookup must miss after deletion.
		_, err = store.GetAPIKeyByHash(ctx, "hash-2")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.DeleteAPIKey(ctx, "key-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AccessLogs", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		for i := 0; i < 3; i++ {
			entry := &models.AccessLogEntry{
				AgentID:   "alice",
				Endpoint:  "/api/v1/context",
				Status:    200,
				Timestamp: base.Add(time.Duration(i) * time.Second),
				ClientIP:  "10.0.0.1",
			}
			require.NoError(t, store.AppendAccessLog(ctx, entry))
		}

		entries, err := store.AccessLogs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		// Newest first.
		assert.True(t, entries[0].Timestamp.After(entries[2].Timestamp))

		limited, err := store.AccessLogs(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	store, err := NewMemoryStore(Config{})
	require.NoError(t, err)
	defer store.Close()

	runStoreTests(t, store)
}

func TestMemoryStore_AccessLogCap(t *testing.T) {
	store, err := NewMemoryStore(Config{AccessLogCap: 5})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		entry := &models.AccessLogEntry{
			AgentID:   "alice",
			Endpoint:  "/api/v1/context",
			Status:    200,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
			ClientIP:  "10.0.0.1",
		}
		require.NoError(t, store.AppendAccessLog(ctx, entry))
	}

	entries, err := store.AccessLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "oldest entries beyond the cap should be evicted")
}

func TestMemoryStore_RotatedHashIndex(t *testing.T) {
	store, err := NewMemoryStore(Config{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	key := testKey("key-1", "alice", "hash-old")
	require.NoError(t, store.CreateAPIKey(ctx, key))

	key.KeyHash = "hash-new"
	require.NoError(t, store.UpdateAPIKey(ctx, key))

	_, err = store.GetAPIKeyByHash(ctx, "hash-old")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := store.GetAPIKeyByHash(ctx, "hash-new")
	require.NoError(t, err)
	assert.Equal(t, "key-1", found.ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store, err := NewMemoryStore(Config{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.CreateAPIKey(ctx, testKey("key-1", "alice", "hash-1")))

	got, err := store.GetAPIKeyByID(ctx, "key-1")
	require.NoError(t, err)
	got.OwnerID = "mallory"

	again, err := store.GetAPIKeyByID(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.OwnerID, "mutating a returned key must not affect the store")
}
