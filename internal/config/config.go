package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Lock     LockConfig     `mapstructure:"lock"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	JournalMode     string        `mapstructure:"journal_mode"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LockConfig selects the lock backend. The memory backend serializes
// within one process; redis serializes across instances.
type LockConfig struct {
	Backend     string        `mapstructure:"backend"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the redis lock settings
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Expiry     time.Duration `mapstructure:"expiry"`
	Tries      int           `mapstructure:"tries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Prefix     string        `mapstructure:"prefix"`
}

// BudgetConfig holds ledger settings
type BudgetConfig struct {
	// ControlEnabled applies when the seed file does not set budget_control
	ControlEnabled bool `mapstructure:"control_enabled"`
}

// RoutingConfig points at the YAML seed applied at startup. Empty means
// the stored route table is used as is.
type RoutingConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SPEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables in path unless they are already set
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for k, val := range env {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, val); err != nil {
			return err
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults. SQLite has one writer; a single connection keeps
	// transactions from queueing on busy_timeout.
	v.SetDefault("database.path", "data/spend.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.journal_mode", "WAL")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Lock defaults
	v.SetDefault("lock.backend", LockBackendMemory)
	v.SetDefault("lock.wait_timeout", 10*time.Second)
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.expiry", 10*time.Second)
	v.SetDefault("lock.redis.tries", 32)
	v.SetDefault("lock.redis.retry_delay", 100*time.Millisecond)
	v.SetDefault("lock.redis.prefix", "spend-approval:")

	v.SetDefault("budget.control_enabled", true)
	v.SetDefault("routing.seed_file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.path", "SPEND_DB_PATH")
	_ = v.BindEnv("lock.redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("lock.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("lock.backend must be %q or %q, got %q", LockBackendMemory, LockBackendRedis, c.Lock.Backend)
	}
	if c.Lock.WaitTimeout <= 0 {
		return fmt.Errorf("lock.wait_timeout must be positive")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}
