// Package config provides configuration loading for the control plane and
// the worker agent.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the control plane process.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the postgres:// URL form used by the migration runner.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration. An empty host disables Redis and
// with it the rate-limiting middleware.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a Redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// AuthConfig holds the external identity provider configuration plus the
// optional pre-shared fleet token.
type AuthConfig struct {
	ClerkPublishableKey string        `mapstructure:"clerk_publishable_key"`
	ClerkSecretKey      string        `mapstructure:"clerk_secret_key"`
	ClerkJavascriptSrc  string        `mapstructure:"clerk_javascript_src"`
	WorkerToken         string        `mapstructure:"worker_token"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/runtime-land")

	v.SetEnvPrefix("LAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The platform's documented environment variables do not carry the LAND_
	// prefix, so bind them explicitly.
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.port", "POSTGRES_PORT")
	v.BindEnv("database.user", "POSTGRES_USER")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.database", "POSTGRES_DATABASE")
	v.BindEnv("database.max_open_conns", "DB_POOL_SIZE")
	v.BindEnv("auth.clerk_publishable_key", "CLERK_PUBLISHABLE_KEY")
	v.BindEnv("auth.clerk_secret_key", "CLERK_SECRET_KEY")
	v.BindEnv("auth.clerk_javascript_src", "CLERK_JAVASCRIPT_SRC")
	v.BindEnv("auth.worker_token", "LAND_SERVER_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 7901)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "land")
	v.SetDefault("database.password", "land")
	v.SetDefault("database.database", "land")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.min_idle_conns", 3)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.acquire_timeout", "10s")

	// Redis defaults (disabled unless a host is set)
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.request_timeout", "10s")
}

// WorkerConfig holds configuration for the worker agent process.
type WorkerConfig struct {
	ServerURL   string        `mapstructure:"server_url"`
	ServerToken string        `mapstructure:"server_token"`
	DataDir     string        `mapstructure:"data_dir"`
	SyncPeriod  time.Duration `mapstructure:"sync_period"`
}

// LoadWorker reads the worker agent configuration from environment
// variables (LAND_SERVER_URL, LAND_SERVER_TOKEN, LAND_DATA_DIR).
func LoadWorker() (*WorkerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("LAND")
	v.AutomaticEnv()

	v.SetDefault("data_dir", "/var/lib/runtime-land")
	v.SetDefault("sync_period", "1s")
	v.BindEnv("server_url", "LAND_SERVER_URL")
	v.BindEnv("server_token", "LAND_SERVER_TOKEN")
	v.BindEnv("data_dir", "LAND_DATA_DIR")

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("LAND_SERVER_URL is required")
	}
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("LAND_SERVER_TOKEN is required")
	}
	return &cfg, nil
}
