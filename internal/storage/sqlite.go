package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustgate/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface over a local SQLite database.
// Suitable for single-instance deployments that need persistence without
// running a database server.
type SQLiteStore struct {
	db           *sql.DB
	accessLogCap int
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	key_hash     TEXT NOT NULL UNIQUE,
	prefix       TEXT NOT NULL,
	scopes       TEXT NOT NULL,
	tier         TEXT NOT NULL,
	daily_limit  INTEGER NOT NULL,
	minute_limit INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	expires_at   TEXT
);

CREATE TABLE IF NOT EXISTS access_logs (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id  TEXT NOT NULL,
	endpoint  TEXT NOT NULL,
	status    INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	client_ip TEXT NOT NULL
);
`

// NewSQLiteStore creates a new SQLite store instance and applies the schema
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{
		db:           db,
		accessLogCap: config.accessLogCap(),
	}, nil
}

// CreateAPIKey stores a new API key record
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, owner_id, key_hash, prefix, scopes, tier, daily_limit, minute_limit, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.OwnerID, key.KeyHash, key.Prefix, string(scopes), string(key.Tier),
		key.DailyLimit, key.MinuteLimit,
		key.CreatedAt.UTC().Format(time.RFC3339Nano),
		key.UpdatedAt.UTC().Format(time.RFC3339Nano),
		formatNullableTime(key.ExpiresAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("api key %s: %w", key.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

const sqliteKeyColumns = "id, owner_id, key_hash, prefix, scopes, tier, daily_limit, minute_limit, created_at, updated_at, expires_at"

// GetAPIKeyByHash retrieves a key by its token hash
func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sqliteKeyColumns+" FROM api_keys WHERE key_hash = ?", hash)
	key, err := scanSQLiteKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key by hash: %w", ErrNotFound)
	}
	return key, err
}

// GetAPIKeyByID retrieves a key by its ID
func (s *SQLiteStore) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sqliteKeyColumns+" FROM api_keys WHERE id = ?", id)
	key, err := scanSQLiteKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return key, err
}

// ListAPIKeys returns all registered keys sorted by creation time (oldest first)
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteKeyColumns+" FROM api_keys ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanSQLiteKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateAPIKey stores updated limits, scopes, or expiry for an existing key
func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET owner_id = ?, key_hash = ?, prefix = ?, scopes = ?, tier = ?,
		    daily_limit = ?, minute_limit = ?, updated_at = ?, expires_at = ?
		WHERE id = ?`,
		key.OwnerID, key.KeyHash, key.Prefix, string(scopes), string(key.Tier),
		key.DailyLimit, key.MinuteLimit,
		time.Now().UTC().Format(time.RFC3339Nano),
		formatNullableTime(key.ExpiresAt),
		key.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("api key %s: %w", key.ID, ErrNotFound)
	}
	return nil
}

// DeleteAPIKey removes a key by its ID
func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendAccessLog records one access log entry, evicting the oldest beyond the cap
func (s *SQLiteStore) AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_logs (agent_id, endpoint, status, timestamp, client_ip)
		VALUES (?, ?, ?, ?, ?)`,
		entry.AgentID, entry.Endpoint, entry.Status,
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM access_logs
		WHERE seq NOT IN (SELECT seq FROM access_logs ORDER BY seq DESC LIMIT ?)`,
		s.accessLogCap,
	)
	if err != nil {
		return fmt.Errorf("failed to trim access log: %w", err)
	}
	return nil
}

// AccessLogs returns the most recent entries, newest first
func (s *SQLiteStore) AccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	if limit <= 0 {
		limit = s.accessLogCap
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, endpoint, status, timestamp, client_ip
		FROM access_logs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query access logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.AccessLogEntry
	for rows.Next() {
		var entry models.AccessLogEntry
		var ts string
		if err := rows.Scan(&entry.AgentID, &entry.Endpoint, &entry.Status, &ts, &entry.ClientIP); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Ping verifies the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteKey(row rowScanner) (*models.APIKey, error) {
	var key models.APIKey
	var scopes, tier, createdAt, updatedAt string
	var expiresAt sql.NullString

	err := row.Scan(&key.ID, &key.OwnerID, &key.KeyHash, &key.Prefix, &scopes, &tier,
		&key.DailyLimit, &key.MinuteLimit, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scopes), &key.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	key.Tier = models.Tier(tier)

	if key.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if key.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		key.ExpiresAt = &t
	}

	return &key, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
