package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/models"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
server:
  port: 8080
  host: "localhost"
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  tls_enabled: false
  cors:
    enabled: true
    allowed_origins: ["*"]
    allowed_methods: ["GET", "POST"]
    allowed_headers: ["Content-Type"]
    max_age: 3600

storage:
  type: "json"
  path: "./data/test.json"

security:
  bootstrap_key: "tg_bootstrap"
  signature_exempt_paths: ["/", "/api/v1/docs"]

guard:
  enabled: true
  trap_path: "/api/internal/seed_debug"
  ban_duration: 12h
  pattern_threshold: 8
  pattern_window: 5m
  pattern_penalty: 2s
  signature_max_skew: 5m

rate_limit:
  store: "redis"
  sweep_interval: 60s
  redis:
    addr: "localhost:6379"
    db: 2
    pool_size: 20
  anonymous:
    enabled: true
    requests_per_minute: 100
    burst_size: 10
    cleanup_interval: 300s

audit:
  max_entries: 500

logging:
  level: "debug"
  format: "json"
  output: "stdout"

metrics:
  enabled: true
  path: "/metrics"
  port: 9090
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	require.NoError(t, err)

	config, err := Load(configFile)
	require.NoError(t, err)

	// Verify server config
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, config.Server.IdleTimeout)
	assert.False(t, config.Server.TLSEnabled)

	// Verify CORS config
	assert.True(t, config.Server.CORS.Enabled)
	assert.Equal(t, []string{"*"}, config.Server.CORS.AllowedOrigins)
	assert.Equal(t, []string{"GET", "POST"}, config.Server.CORS.AllowedMethods)
	assert.Equal(t, 3600, config.Server.CORS.MaxAge)

	// Verify storage config
	assert.Equal(t, "json", config.Storage.Type)
	assert.Equal(t, "./data/test.json", config.Storage.Path)

	// Verify security config
	assert.Equal(t, "tg_bootstrap", config.Security.BootstrapKey)
	assert.Equal(t, []string{"/", "/api/v1/docs"}, config.Security.SignatureExemptPaths)

	// Verify guard config
	assert.True(t, config.Guard.Enabled)
	assert.Equal(t, "/api/internal/seed_debug", config.Guard.TrapPath)
	assert.Equal(t, 12*time.Hour, config.Guard.BanDuration)
	assert.Equal(t, 8, config.Guard.PatternThreshold)
	assert.Equal(t, 5*time.Minute, config.Guard.PatternWindow)
	assert.Equal(t, 2*time.Second, config.Guard.PatternPenalty)

	// Verify rate limit config
	assert.Equal(t, models.CounterStoreRedis, config.RateLimit.Store)
	assert.Equal(t, time.Minute, config.RateLimit.SweepInterval)
	assert.Equal(t, "localhost:6379", config.RateLimit.Redis.Addr)
	assert.Equal(t, 2, config.RateLimit.Redis.DB)
	assert.Equal(t, 20, config.RateLimit.Redis.PoolSize)
	assert.True(t, config.RateLimit.Anonymous.Enabled)
	assert.Equal(t, 100, config.RateLimit.Anonymous.RequestsPerMinute)
	assert.Equal(t, 10, config.RateLimit.Anonymous.BurstSize)

	// Verify audit config
	assert.Equal(t, 500, config.Audit.MaxEntries)

	// Verify logging config
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Verify metrics config
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9090, config.Metrics.Port)
}

func TestLoad_WithoutConfigFile(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	// Defaults apply
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, models.StorageTypeJSON, config.Storage.Type)
	assert.Equal(t, models.CounterStoreMemory, config.RateLimit.Store)
	assert.True(t, config.Guard.Enabled)
	assert.Equal(t, "/api/internal/seed_debug", config.Guard.TrapPath)
	assert.Equal(t, 24*time.Hour, config.Guard.BanDuration)
	assert.Equal(t, 12, config.Guard.PatternThreshold)
	assert.Equal(t, models.DefaultAccessLogCap, config.Audit.MaxEntries)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server: [not: valid"), 0644))

	_, err := Load(configFile)
	assert.Error(t, err)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server:\n  port: -1\n"), 0644))

	_, err := Load(configFile)
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TRUSTGATE_PORT", "9000")
	t.Setenv("TRUSTGATE_HOST", "127.0.0.1")
	t.Setenv("TRUSTGATE_STORAGE_TYPE", "memory")
	t.Setenv("TRUSTGATE_LOG_LEVEL", "debug")
	t.Setenv("TRUSTGATE_RATELIMIT_STORE", "redis")
	t.Setenv("TRUSTGATE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("TRUSTGATE_GUARD_TRAP_PATH", "/api/internal/hidden")
	t.Setenv("TRUSTGATE_GUARD_BAN_DURATION", "1h")
	t.Setenv("TRUSTGATE_BOOTSTRAP_KEY", "tg_from_env")
	t.Setenv("TRUSTGATE_AUDIT_MAX_ENTRIES", "250")
	t.Setenv("TRUSTGATE_METRICS_ENABLED", "false")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, models.CounterStoreRedis, config.RateLimit.Store)
	assert.Equal(t, "redis.internal:6379", config.RateLimit.Redis.Addr)
	assert.Equal(t, "/api/internal/hidden", config.Guard.TrapPath)
	assert.Equal(t, time.Hour, config.Guard.BanDuration)
	assert.Equal(t, "tg_from_env", config.Security.BootstrapKey)
	assert.Equal(t, 250, config.Audit.MaxEntries)
	assert.False(t, config.Metrics.Enabled)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server:\n  port: 8081\n"), 0644))

	t.Setenv("TRUSTGATE_PORT", "9001")

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 9001, config.Server.Port, "environment wins over the file")
}

func TestLoad_IgnoresInvalidEnvValues(t *testing.T) {
	t.Setenv("TRUSTGATE_PORT", "not-a-number")
	t.Setenv("TRUSTGATE_GUARD_BAN_DURATION", "eleventy")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 24*time.Hour, config.Guard.BanDuration)
}

func TestLoad_DeprecatedKeysAreIgnored(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
security:
  hmac_secret: "old-secret"
  api_keys:
    - "tg_inline_key"
guard:
  crawler_agents: ["curl"]
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	// Deprecated keys log warnings but never fail the load.
	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestSaveExample(t *testing.T) {
	tempDir := t.TempDir()
	examplePath := filepath.Join(tempDir, "nested", "example.yaml")

	require.NoError(t, SaveExample(examplePath))

	// The example must load back cleanly.
	config, err := Load(examplePath)
	require.NoError(t, err)
	assert.Equal(t, "tg_your-bootstrap-key-here", config.Security.BootstrapKey)
}
