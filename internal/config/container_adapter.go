package config

import (
	"github.com/garyjia/spend-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	metricsPath := ""
	if c.Metrics.Enabled {
		metricsPath = c.Metrics.Path
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			JournalMode:     c.Database.JournalMode,
		},
		Lock: container.LockConfig{
			Backend:       c.Lock.Backend,
			WaitTimeout:   c.Lock.WaitTimeout,
			RedisAddr:     c.Lock.Redis.Addr,
			RedisPassword: c.Lock.Redis.Password,
			RedisDB:       c.Lock.Redis.DB,
			Expiry:        c.Lock.Redis.Expiry,
			Tries:         c.Lock.Redis.Tries,
			RetryDelay:    c.Lock.Redis.RetryDelay,
			Prefix:        c.Lock.Redis.Prefix,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
			MetricsPath:  metricsPath,
		},
		BudgetControl:  c.Budget.ControlEnabled,
		SeedFile:       c.Routing.SeedFile,
		MetricsEnabled: c.Metrics.Enabled,
	}
}
