package container

import (
	"context"
	"fmt"

	"github.com/garyjia/spend-approval/internal/application/cascade"
	"github.com/garyjia/spend-approval/internal/application/dispatcher"
	"github.com/garyjia/spend-approval/internal/application/ledger"
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/application/workflow"
	"github.com/garyjia/spend-approval/internal/domain/event"
	"github.com/garyjia/spend-approval/internal/infrastructure/artifact"
	"github.com/garyjia/spend-approval/internal/infrastructure/lock"
	"github.com/garyjia/spend-approval/internal/infrastructure/metrics"
	"github.com/garyjia/spend-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/spend-approval/pkg/database"
	"github.com/garyjia/spend-approval/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// LockBundle holds the locker and, for the redis backend, its client.
type LockBundle struct {
	Locker port.Locker
	Redis  redis.UniversalClient
}

// ProvideDatabase opens the SQLite database and applies the embedded
// migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
		JournalMode:     cfg.JournalMode,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := sqlite.Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn),
	}, nil
}

// ProvideLocker builds the configured lock backend. The redis backend is
// pinged before it is handed out.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *utils.KVLogger) (*LockBundle, error) {
	switch cfg.Backend {
	case "", "memory":
		return &LockBundle{Locker: lock.NewKeyedLocker(cfg.WaitTimeout)}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		locker := lock.NewRedisLocker(client, lock.Options{
			Expiry:     cfg.Expiry,
			Tries:      cfg.Tries,
			RetryDelay: cfg.RetryDelay,
			Prefix:     cfg.Prefix,
		}, logger.Named("lock"))
		return &LockBundle{Locker: locker, Redis: client}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// ProvideMetrics returns the Prometheus recorder, or the no-op recorder
// when metrics are disabled.
func ProvideMetrics(enabled bool) port.MetricsRecorder {
	if !enabled {
		return port.NopMetrics{}
	}
	return metrics.NewRecorder()
}

// ProvideDispatcher creates the event dispatcher and subscribes the event
// log, which records every domain event at info level.
func ProvideDispatcher(logger *utils.KVLogger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := dispatcher.NewDispatcher(
		dispatcher.WithLogger(logger.Named("dispatcher")),
	)

	events := logger.Named("events")
	d.SubscribeNamed(dispatcher.AnyType, "event_log", func(ctx context.Context, evt *event.Event) error {
		events.Info("Domain event",
			"event_id", evt.ID,
			"type", evt.Type.String(),
			"request_id", evt.RequestID,
			"actor", evt.Actor,
			"correlation_id", evt.CorrelationID,
			"payload", evt.Payload,
		)
		return nil
	})
	return d, nil
}

// EngineDeps groups what ProvideEngine needs.
type EngineDeps struct {
	DB         *sqlite.DB
	Locker     port.Locker
	Dispatcher dispatcher.Dispatcher
	Metrics    port.MetricsRecorder
	Logger     *utils.KVLogger
}

// EngineBundle holds the engine and the collaborators built for it.
type EngineBundle struct {
	Engine  workflow.Engine
	Ledger  ledger.Ledger
	Guard   cascade.Guard
	Gateway *artifact.Gateway
}

// ProvideEngine wires the ledger, cascade guard, artifact gateway and
// workflow engine over the SQLite repositories.
func ProvideEngine(deps *EngineDeps) (*EngineBundle, error) {
	if deps == nil || deps.DB == nil || deps.Locker == nil || deps.Dispatcher == nil || deps.Logger == nil {
		return nil, fmt.Errorf("engine dependencies are incomplete")
	}
	db := deps.DB

	led := ledger.NewLedger(db.Budgets(), db.Reservations(), deps.Locker, deps.Metrics, deps.Logger.Named("ledger"))
	gateway := artifact.NewGateway(deps.Dispatcher, deps.Logger.Named("artifact"))
	guard := cascade.NewGuard(db.Links(), gateway, db, deps.Metrics, deps.Logger.Named("cascade"))

	engine := workflow.NewEngine(workflow.Deps{
		Requests:     db.Requests(),
		Settings:     db.RouteSettings(),
		Directory:    db.Directory(),
		History:      db.History(),
		Links:        db.Links(),
		Reservations: db.Reservations(),
		TxManager:    db,
		Locker:       deps.Locker,
		Ledger:       led,
		Guard:        guard,
	},
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithLogger(deps.Logger.Named("workflow")),
	)

	return &EngineBundle{
		Engine:  engine,
		Ledger:  led,
		Guard:   guard,
		Gateway: gateway,
	}, nil
}
