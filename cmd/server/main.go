package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/garyjia/spend-approval/internal/config"
	"github.com/garyjia/spend-approval/internal/container"
	httpapi "github.com/garyjia/spend-approval/internal/interfaces/http"
	"github.com/garyjia/spend-approval/pkg/utils"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := os.Getenv("SPEND_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting spend approval service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port),
		zap.String("lock_backend", cfg.Lock.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	srvCfg := c.Config().Server
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         srvCfg.Host,
		Port:         srvCfg.Port,
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		MetricsPath:  srvCfg.MetricsPath,
	}, c.Engine(), func(ctx context.Context) (bool, interface{}) {
		h := c.Health(ctx)
		return h.Overall, h.Components
	}, c.KVLogger().Named("http"))

	// Start blocks until a signal cancels ctx or the listener fails
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server exited with error", zap.Error(err))
		return
	}

	logger.Info("Server exited successfully")
}
