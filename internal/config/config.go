package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"trustgate/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors removed config fields for detecting stale operator configs.
type deprecatedConfig struct {
	Security struct {
		APIKeys    interface{} `yaml:"api_keys"`
		HMACSecret string      `yaml:"hmac_secret"`
	} `yaml:"security"`
	Guard struct {
		CrawlerAgents interface{} `yaml:"crawler_agents"`
	} `yaml:"guard"`
}

// warnDeprecatedKeys logs a warning for each removed config key found in the YAML data.
// The service continues to start normally - these keys are silently ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.APIKeys != nil {
		slog.Warn("Config key is no longer supported; keys live in storage and are provisioned via the admin API.", "config_key", "security.api_keys")
	}
	if dep.Security.HMACSecret != "" {
		slog.Warn("Config key is no longer used; request signatures are keyed by each caller's own token.", "config_key", "security.hmac_secret")
	}
	if dep.Guard.CrawlerAgents != nil {
		slog.Warn("Config key is no longer supported; the crawler user agent list is built in.", "config_key", "guard.crawler_agents")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("TRUSTGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("TRUSTGATE_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("TRUSTGATE_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("TRUSTGATE_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("TRUSTGATE_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("TRUSTGATE_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("TRUSTGATE_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("TRUSTGATE_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Storage configuration
	if storageType := os.Getenv("TRUSTGATE_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}

	if storagePath := os.Getenv("TRUSTGATE_STORAGE_PATH"); storagePath != "" {
		config.Storage.Path = storagePath
	}

	if dsn := os.Getenv("TRUSTGATE_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}

	if driver := os.Getenv("TRUSTGATE_DATABASE_DRIVER"); driver != "" {
		config.Storage.Database.Driver = driver
	}

	if maxOpen := os.Getenv("TRUSTGATE_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Storage.Database.MaxOpenConns = conns
		}
	}

	if maxIdle := os.Getenv("TRUSTGATE_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.Storage.Database.MaxIdleConns = conns
		}
	}

	// Security configuration
	if bk := os.Getenv("TRUSTGATE_BOOTSTRAP_KEY"); bk != "" {
		config.Security.BootstrapKey = bk
	}

	// Guard configuration
	if enabled := os.Getenv("TRUSTGATE_GUARD_ENABLED"); enabled != "" {
		config.Guard.Enabled = strings.ToLower(enabled) == "true"
	}

	if trapPath := os.Getenv("TRUSTGATE_GUARD_TRAP_PATH"); trapPath != "" {
		config.Guard.TrapPath = trapPath
	}

	if banDuration := os.Getenv("TRUSTGATE_GUARD_BAN_DURATION"); banDuration != "" {
		if d, err := time.ParseDuration(banDuration); err == nil {
			config.Guard.BanDuration = d
		}
	}

	if threshold := os.Getenv("TRUSTGATE_GUARD_PATTERN_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Guard.PatternThreshold = n
		}
	}

	// Rate limit configuration
	if store := os.Getenv("TRUSTGATE_RATELIMIT_STORE"); store != "" {
		config.RateLimit.Store = store
	}

	if interval := os.Getenv("TRUSTGATE_RATELIMIT_SWEEP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.RateLimit.SweepInterval = d
		}
	}

	// Redis configuration
	if addr := os.Getenv("TRUSTGATE_REDIS_ADDR"); addr != "" {
		config.RateLimit.Redis.Addr = addr
	}

	if password := os.Getenv("TRUSTGATE_REDIS_PASSWORD"); password != "" {
		config.RateLimit.Redis.Password = password
	}

	if db := os.Getenv("TRUSTGATE_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.RateLimit.Redis.DB = dbNum
		}
	}

	if poolSize := os.Getenv("TRUSTGATE_REDIS_POOL_SIZE"); poolSize != "" {
		if size, err := strconv.Atoi(poolSize); err == nil {
			config.RateLimit.Redis.PoolSize = size
		}
	}

	// Anonymous limiter configuration
	if enabled := os.Getenv("TRUSTGATE_ANON_LIMIT_ENABLED"); enabled != "" {
		config.RateLimit.Anonymous.Enabled = strings.ToLower(enabled) == "true"
	}

	if rpm := os.Getenv("TRUSTGATE_ANON_REQUESTS_PER_MINUTE"); rpm != "" {
		if n, err := strconv.Atoi(rpm); err == nil {
			config.RateLimit.Anonymous.RequestsPerMinute = n
		}
	}

	if burst := os.Getenv("TRUSTGATE_ANON_BURST_SIZE"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			config.RateLimit.Anonymous.BurstSize = n
		}
	}

	// Audit configuration
	if maxEntries := os.Getenv("TRUSTGATE_AUDIT_MAX_ENTRIES"); maxEntries != "" {
		if n, err := strconv.Atoi(maxEntries); err == nil {
			config.Audit.MaxEntries = n
		}
	}

	// Logging configuration
	if level := os.Getenv("TRUSTGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("TRUSTGATE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("TRUSTGATE_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("TRUSTGATE_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("TRUSTGATE_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("TRUSTGATE_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("TRUSTGATE_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Set example bootstrap key
	config.Security.BootstrapKey = "tg_your-bootstrap-key-here"

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
