// Package config loads application configuration from an optional YAML file,
// TXGUARD_-prefixed environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"txguard/internal/core/tx"
	"txguard/pkg/logger"
)

// Database drivers.
const (
	DriverMemory = "memory"
	DriverPgx    = "pgx"
	DriverSQLX   = "sqlx"
)

// Config is the application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"` // development, staging, production
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string   `mapstructure:"level"` // debug, info, warn, error
	OutputPaths []string `mapstructure:"output_paths"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	MaxWorkers      int             `mapstructure:"max_workers"`
	AcceptCount     int             `mapstructure:"accept_count"`
	Charset         string          `mapstructure:"charset"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the token bucket in front of the API.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`  // Requests per second
	Burst   int     `mapstructure:"burst"` // Burst capacity
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver            string        `mapstructure:"driver"` // memory, pgx, sqlx
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int           `mapstructure:"max_conns"`
	MinConns          int           `mapstructure:"min_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `mapstructure:"conn_max_idle_time"`
	StatementTimeout  time.Duration `mapstructure:"statement_timeout"`
	Isolation         string        `mapstructure:"isolation"` // read committed, repeatable read, serializable
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
	CompressThreshold int           `mapstructure:"compress_threshold"`
}

// OutboxConfig configures the relay worker.
type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DLQInterval  time.Duration `mapstructure:"dlq_interval"`
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// LoggerConfig maps log settings to pkg/logger.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Development: c.IsDevelopment(),
		OutputPaths: c.Log.OutputPaths,
	}
}

// IsolationLevel returns the configured default isolation.
func (c DatabaseConfig) IsolationLevel() tx.IsolationLevel {
	return tx.IsolationLevel(c.Isolation)
}

// Load reads configuration. configPath may be empty, in which case config.yaml
// is looked up in the working directory and ./config; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TXGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPgx, DriverSQLX:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}

	switch c.Database.IsolationLevel() {
	case tx.IsolationDefault, tx.IsolationReadCommitted, tx.IsolationRepeatableRead, tx.IsolationSerializable:
	default:
		errs = append(errs, fmt.Errorf("database.isolation: unknown level %q", c.Database.Isolation))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if c.Server.MaxWorkers < 0 {
		errs = append(errs, errors.New("server.max_workers cannot be negative"))
	}
	if c.Server.AcceptCount < 0 {
		errs = append(errs, errors.New("server.accept_count cannot be negative"))
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Rate <= 0 || c.Server.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("server.rate_limit: rate and burst must be positive when enabled"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "txguard")
	v.SetDefault("app.env", "development")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_paths", []string{"stdout"})

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_workers", 200)
	v.SetDefault("server.accept_count", 100)
	v.SetDefault("server.charset", "utf-8")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rate", 100)
	v.SetDefault("server.rate_limit.burst", 200)

	// Database
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("database.isolation", string(tx.IsolationReadCommitted))
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.compress_threshold", 10*1024)

	// Outbox
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.dlq_interval", "5m")
}
