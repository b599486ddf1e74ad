package storage

import (
	"context"
	"errors"
	"fmt"

	"trustgate/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using PostgreSQL. This is
// the backend for multi-instance deployments, typically paired with the
// Redis counter store.
type PostgresStore struct {
	pool         *pgxpool.Pool
	accessLogCap int
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	key_hash     TEXT NOT NULL UNIQUE,
	prefix       TEXT NOT NULL,
	scopes       TEXT[] NOT NULL,
	tier         TEXT NOT NULL,
	daily_limit  INTEGER NOT NULL,
	minute_limit INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS access_logs (
	seq       BIGSERIAL PRIMARY KEY,
	agent_id  TEXT NOT NULL,
	endpoint  TEXT NOT NULL,
	status    INTEGER NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	client_ip TEXT NOT NULL
);
`

// NewPostgresStore creates a new PostgreSQL store instance and applies the schema.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	pool, err := pgxpool.New(context.Background(), config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{
		pool:         pool,
		accessLogCap: config.accessLogCap(),
	}, nil
}

// CreateAPIKey stores a new API key record.
func (p *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO api_keys (id, owner_id, key_hash, prefix, scopes, tier, daily_limit, minute_limit, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key.ID, key.OwnerID, key.KeyHash, key.Prefix, key.Scopes, string(key.Tier),
		key.DailyLimit, key.MinuteLimit, key.CreatedAt, key.UpdatedAt, key.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("api key %s: %w", key.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

const pgKeyColumns = "id, owner_id, key_hash, prefix, scopes, tier, daily_limit, minute_limit, created_at, updated_at, expires_at"

// GetAPIKeyByHash retrieves a key by its token hash.
func (p *PostgresStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+pgKeyColumns+" FROM api_keys WHERE key_hash = $1", hash)
	key, err := scanPostgresKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("api key by hash: %w", ErrNotFound)
	}
	return key, err
}

// GetAPIKeyByID retrieves a key by its ID.
func (p *PostgresStore) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+pgKeyColumns+" FROM api_keys WHERE id = $1", id)
	key, err := scanPostgresKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return key, err
}

// ListAPIKeys returns all registered keys sorted by creation time (oldest first).
func (p *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+pgKeyColumns+" FROM api_keys ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanPostgresKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateAPIKey stores updated limits, scopes, or expiry for an existing key.
func (p *PostgresStore) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys
		SET owner_id = $1, key_hash = $2, prefix = $3, scopes = $4, tier = $5,
		    daily_limit = $6, minute_limit = $7, updated_at = now(), expires_at = $8
		WHERE id = $9`,
		key.OwnerID, key.KeyHash, key.Prefix, key.Scopes, string(key.Tier),
		key.DailyLimit, key.MinuteLimit, key.ExpiresAt, key.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", key.ID, ErrNotFound)
	}
	return nil
}

// DeleteAPIKey removes a key by its ID.
func (p *PostgresStore) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM api_keys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendAccessLog records one access log entry, evicting the oldest beyond the cap.
func (p *PostgresStore) AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO access_logs (agent_id, endpoint, status, timestamp, client_ip)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.AgentID, entry.Endpoint, entry.Status, entry.Timestamp, entry.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access log: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		DELETE FROM access_logs
		WHERE seq NOT IN (SELECT seq FROM access_logs ORDER BY seq DESC LIMIT $1)`,
		p.accessLogCap,
	)
	if err != nil {
		return fmt.Errorf("failed to trim access log: %w", err)
	}
	return nil
}

// AccessLogs returns the most recent entries, newest first.
func (p *PostgresStore) AccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	if limit <= 0 {
		limit = p.accessLogCap
	}

	rows, err := p.pool.Query(ctx, `
		SELECT agent_id, endpoint, status, timestamp, client_ip
		FROM access_logs ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query access logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.AccessLogEntry
	for rows.Next() {
		var entry models.AccessLogEntry
		if err := rows.Scan(&entry.AgentID, &entry.Endpoint, &entry.Status, &entry.Timestamp, &entry.ClientIP); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Ping verifies the database connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgresKey(row pgx.Row) (*models.APIKey, error) {
	var key models.APIKey
	var tier string

	err := row.Scan(&key.ID, &key.OwnerID, &key.KeyHash, &key.Prefix, &key.Scopes, &tier,
		&key.DailyLimit, &key.MinuteLimit, &key.CreatedAt, &key.UpdatedAt, &key.ExpiresAt)
	if err != nil {
		return nil, err
	}

	key.Tier = models.Tier(tier)
	return &key, nil
}
