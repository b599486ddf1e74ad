// Package models - Service configuration and operational settings.
// Hierarchical configuration with environment-friendly defaults and
// validation that catches misconfigurations at startup.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Counter store backend constants
const (
	CounterStoreMemory = "memory"
	CounterStoreRedis  = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Guard         GuardConfig         `yaml:"guard" json:"guard"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Audit         AuditConfig         `yaml:"audit" json:"audit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" json:"driver"`
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	// BootstrapKey, when set, is seeded into storage at startup as an
	// admin-scoped key. Intended for first-boot provisioning only.
	BootstrapKey string `yaml:"bootstrap_key" json:"bootstrap_key"`

	// SignatureExemptPaths bypass x-timestamp/x-signature enforcement
	// (documentation and root paths).
	SignatureExemptPaths []string `yaml:"signature_exempt_paths" json:"signature_exempt_paths"`
}

type GuardConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	TrapPath         string        `yaml:"trap_path" json:"trap_path"`
	BanDuration      time.Duration `yaml:"ban_duration" json:"ban_duration"`
	PatternThreshold int           `yaml:"pattern_threshold" json:"pattern_threshold"`
	PatternWindow    time.Duration `yaml:"pattern_window" json:"pattern_window"`
	PatternPenalty   time.Duration `yaml:"pattern_penalty" json:"pattern_penalty"`
	SignatureMaxSkew time.Duration `yaml:"signature_max_skew" json:"signature_max_skew"`
}

type RateLimitConfig struct {
	// Store selects the counter backend: memory or redis.
	Store         string        `yaml:"store" json:"store"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`

	// Anonymous controls the token-bucket limiter applied to
	// unauthenticated public paths, keyed by client IP.
	Anonymous AnonymousLimitConfig `yaml:"anonymous" json:"anonymous"`
}

type AnonymousLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type AuditConfig struct {
	// MaxEntries caps the retained access log; oldest entries are evicted.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
// The guard and rate limiter are enabled from the start; storage defaults
// to a JSON file so the service runs without external dependencies.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeJSON,
			Path: "./data/keystore.json",
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			SignatureExemptPaths: []string{"/", "/api/v1/docs", "/api/v1/openapi.yaml", "/api-docs", "/api-reference"},
		},
		Guard: GuardConfig{
			Enabled:          true,
			TrapPath:         "/api/internal/seed_debug",
			BanDuration:      24 * time.Hour,
			PatternThreshold: 12,
			PatternWindow:    5 * time.Minute,
			PatternPenalty:   2 * time.Second,
			SignatureMaxSkew: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Store:         CounterStoreMemory,
			SweepInterval: time.Minute,
			Anonymous: AnonymousLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Audit: AuditConfig{
			MaxEntries: DefaultAccessLogCap,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "trustgate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.Guard.Validate(); err != nil {
		return fmt.Errorf("invalid guard config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("invalid audit config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}
	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypeMemory:
		// Memory storage requires no additional configuration
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (gc *GuardConfig) Validate() error {
	if !gc.Enabled {
		return nil
	}
	if gc.TrapPath == "" {
		return errors.New("trap path cannot be empty")
	}
	if gc.BanDuration <= 0 {
		return errors.New("ban duration must be positive")
	}
	if gc.PatternThreshold <= 0 {
		return errors.New("pattern threshold must be positive")
	}
	if gc.PatternWindow <= 0 {
		return errors.New("pattern window must be positive")
	}
	if gc.SignatureMaxSkew <= 0 {
		return errors.New("signature max skew must be positive")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	switch rc.Store {
	case CounterStoreMemory:
	case CounterStoreRedis:
		if rc.Redis.Addr == "" {
			return errors.New("redis address is required when counter store is redis")
		}
	default:
		return fmt.Errorf("invalid counter store: %s", rc.Store)
	}
	if rc.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if rc.Anonymous.Enabled {
		if rc.Anonymous.RequestsPerMinute <= 0 {
			return errors.New("anonymous requests per minute must be positive")
		}
		if rc.Anonymous.BurstSize <= 0 {
			return errors.New("anonymous burst size must be positive")
		}
	}
	return nil
}

func (ac *AuditConfig) Validate() error {
	if ac.MaxEntries <= 0 {
		return errors.New("audit max entries must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}
