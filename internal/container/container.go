package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/spend-approval/internal/application/dispatcher"
	"github.com/garyjia/spend-approval/internal/application/ledger"
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/application/workflow"
	"github.com/garyjia/spend-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/spend-approval/internal/infrastructure/seed"
	"github.com/garyjia/spend-approval/pkg/database"
	"github.com/garyjia/spend-approval/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *Config
	logger *zap.Logger
	kv     *utils.KVLogger

	// Infrastructure - Data
	conn *database.DB
	db   *sqlite.DB

	// Infrastructure - Locks and metrics
	locker  port.Locker
	redis   redis.UniversalClient
	metrics port.MetricsRecorder

	// Application
	dispatcher dispatcher.Dispatcher
	ledger     ledger.Ledger
	engine     workflow.Engine

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
		kv:     utils.NewKVLogger(logger),
	}, nil
}

// Start initializes all components:
// 1. Database and migrations
// 2. Lock backend and metrics
// 3. Event dispatcher
// 4. Ledger, cascade guard and workflow engine
// 5. Seed file, when configured
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.conn = dbBundle.Conn
	c.db = dbBundle.TransactionMgr
	c.logger.Info("Database initialized")

	// Step 2: Initialize locks and metrics
	lockBundle, err := ProvideLocker(ctx, &c.config.Lock, c.kv)
	if err != nil {
		c.shutdown()
		return fmt.Errorf("failed to initialize locker: %w", err)
	}
	c.locker = lockBundle.Locker
	c.redis = lockBundle.Redis
	c.metrics = ProvideMetrics(c.config.MetricsEnabled)
	c.logger.Info("Locker initialized", zap.String("backend", c.config.Lock.Backend))

	// Step 3: Initialize dispatcher
	disp, err := ProvideDispatcher(c.kv)
	if err != nil {
		c.shutdown()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.dispatcher = disp

	// Step 4: Initialize engine
	engineBundle, err := ProvideEngine(&EngineDeps{
		DB:         c.db,
		Locker:     c.locker,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.kv,
	})
	if err != nil {
		c.shutdown()
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.engine = engineBundle.Engine
	c.ledger = engineBundle.Ledger
	c.logger.Info("Workflow engine initialized")

	// Step 5: Apply seed
	if c.config.SeedFile != "" {
		if _, err := c.seed(ctx, c.config.SeedFile); err != nil {
			c.shutdown()
			return err
		}
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Seed applies a YAML seed file through the container's stores.
func (c *Container) Seed(ctx context.Context, path string) (*seed.Result, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("container not started")
	}
	return c.seed(ctx, path)
}

func (c *Container) seed(ctx context.Context, path string) (*seed.Result, error) {
	f, err := seed.Load(path)
	if err != nil {
		return nil, err
	}
	res, err := seed.Apply(ctx, seed.Stores{
		Routes:    c.db.RouteSettings(),
		Budgets:   c.db.Budgets(),
		Directory: c.db.Directory(),
	}, f, c.config.BudgetControl)
	if err != nil {
		return nil, fmt.Errorf("failed to apply seed %s: %w", path, err)
	}

	c.logger.Info("Seed applied",
		zap.String("path", path),
		zap.Int64("route_version", res.RouteVersion),
		zap.Int("routes", res.Routes),
		zap.Int("budgets", res.Budgets),
		zap.Int("users", res.Users))
	return res, nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.shutdown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// shutdown releases whatever Start has built so far
func (c *Container) shutdown() []error {
	var errs []error

	// Dispatcher first so async handlers drain before the database goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redis = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.conn = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if c.conn == nil {
		set("database", fmt.Errorf("not initialized"))
	} else {
		set("database", c.conn.PingContext(ctx))
	}

	if c.redis != nil {
		set("redis", c.redis.Ping(ctx).Err())
	}

	if c.engine == nil {
		set("workflow", fmt.Errorf("not initialized"))
	} else {
		set("workflow", nil)
	}

	return status
}

// DB returns the transaction manager and repository accessors.
func (c *Container) DB() *sqlite.DB {
	return c.db
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Ledger returns the budget reservation ledger.
func (c *Container) Ledger() ledger.Ledger {
	return c.ledger
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// KVLogger returns the key/value adapter handed to application packages.
func (c *Container) KVLogger() *utils.KVLogger {
	return c.kv
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
