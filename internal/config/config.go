package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers accepted in STORAGE_DRIVER
const (
	StoragePostgres = "postgres"
	StoragePgx      = "pgx"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Config holds the server configuration
type Config struct {
	GRPCPort string
	APIToken string

	StorageDriver string
	SQLitePath    string
	Database      DatabaseConfig

	Redis RedisConfig
	Retry RetryConfig
	Log   LogConfig
}

// DatabaseConfig holds the PostgreSQL connection settings
// ConnStr wins over the individual fields when set.
type DatabaseConfig struct {
	ConnStr  string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// RedisConfig holds the balance cache settings; an empty Addr disables the cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RetryConfig bounds how often a contended operation is attempted
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// LogConfig selects the logger level and encoding
type LogConfig struct {
	Level  string
	Format string
}

var defaults = map[string]any{
	"grpc_port":          ":8080",
	"api_token":          "dev-token",
	"storage_driver":     StoragePostgres,
	"sqlite_path":        "fundledger.db",
	"db_host":            "localhost",
	"db_port":            "5432",
	"db_user":            "postgres",
	"db_password":        "postgres",
	"db_name":            "fundledger",
	"redis_db":           0,
	"balance_cache_ttl":  "5m",
	"retry_max_attempts": 3,
	"retry_base_delay":   "10ms",
	"log_level":          "info",
	"log_format":         "json",
}

// Load reads the configuration from the environment
// When configFile is set (for example ".env"), its values are read first and
// environment variables override them.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"db_conn_str", "redis_addr", "redis_password"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if strings.HasSuffix(configFile, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		GRPCPort:      v.GetString("grpc_port"),
		APIToken:      v.GetString("api_token"),
		StorageDriver: strings.ToLower(v.GetString("storage_driver")),
		SQLitePath:    v.GetString("sqlite_path"),
		Database: DatabaseConfig{
			ConnStr:  v.GetString("db_conn_str"),
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			TTL:      v.GetDuration("balance_cache_ttl"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry_max_attempts"),
			BaseDelay:   v.GetDuration("retry_base_delay"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: strings.ToLower(v.GetString("log_format")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can start a server
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StoragePostgres, StoragePgx, StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver))
	}

	if c.GRPCPort == "" {
		errs = append(errs, errors.New("GRPC_PORT is required"))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("RETRY_BASE_DELAY must not be negative, got %s", c.Retry.BaseDelay))
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, fmt.Errorf("BALANCE_CACHE_TTL must not be negative, got %s", c.Redis.TTL))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported LOG_FORMAT %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
// If DB_CONN_STR is missing, it is built from the individual DB_* variables.
func (c *Config) DatabaseDSN() string {
	if c.Database.ConnStr != "" {
		return c.Database.ConnStr
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}
