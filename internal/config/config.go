package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Watch   WatchConfig   `mapstructure:"watch"`
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// WatchConfig defines the watched directory and how it is polled
type WatchConfig struct {
	Dir           string `mapstructure:"dir"`
	PollInterval  string `mapstructure:"poll_interval"`
	UseFSNotify   bool   `mapstructure:"use_fsnotify"`
	Debounce      string `mapstructure:"debounce"`
	ParseWorkers  int    `mapstructure:"parse_workers"`
	IncludeHidden bool   `mapstructure:"include_hidden"` // Parse dot-files (editor swap files are skipped by default)
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	CheckLimit  int    `mapstructure:"check_rate_limit"` // Change checks per client per minute; 0 disables
}

// CacheConfig defines the in-process parse cache
type CacheConfig struct {
	Size int `mapstructure:"size"` // Parsed files kept in the LRU
}

// StorageConfig defines where the last parsed pass is published
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "memory" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	TTL          string `mapstructure:"ttl"` // Expiry of published inventories; "0" keeps them forever
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LICENSEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// isNotFound reports whether viper failed only because the file does not exist. An
// explicit SetConfigFile surfaces this as an fs error rather than ConfigFileNotFoundError.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Watch defaults
	v.SetDefault("watch.dir", "./incoming")
	v.SetDefault("watch.poll_interval", "5s")
	v.SetDefault("watch.use_fsnotify", true)
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("watch.parse_workers", 4)
	v.SetDefault("watch.include_hidden", false)

	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 3001)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.check_rate_limit", 30)

	// Cache defaults
	v.SetDefault("cache.size", 128)

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "licensewatch")
	v.SetDefault("storage.redis.ttl", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Watch.Dir == "" {
		return fmt.Errorf("watch directory is required")
	}
	if _, err := time.ParseDuration(cfg.Watch.PollInterval); err != nil {
		return fmt.Errorf("invalid poll interval %q: %w", cfg.Watch.PollInterval, err)
	}
	if _, err := time.ParseDuration(cfg.Watch.Debounce); err != nil {
		return fmt.Errorf("invalid debounce %q: %w", cfg.Watch.Debounce, err)
	}
	if cfg.Watch.ParseWorkers <= 0 {
		cfg.Watch.ParseWorkers = 1
	}

	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Server.CheckLimit < 0 {
		return fmt.Errorf("check rate limit must not be negative: %d", cfg.Server.CheckLimit)
	}

	if cfg.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive: %d", cfg.Cache.Size)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected 'memory' or 'redis')", cfg.Storage.Type)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}
