package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/spend-approval/internal/config"
	"github.com/garyjia/spend-approval/internal/container"
	"github.com/garyjia/spend-approval/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

// globals holds the persistent flags shared by every subcommand
type globals struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "spendctl",
		Short:         "Operate the spend approval engine against its database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "Path to config.yaml")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level written to stderr")

	cmd.AddCommand(
		newCreateCmd(g),
		newSubmitCmd(g),
		newApproveCmd(g),
		newRejectCmd(g),
		newCancelCmd(g),
		newReopenCmd(g),
		newStatusCmd(g),
		newListCmd(g),
		newBalanceCmd(g),
		newSeedRoutesCmd(g),
	)
	return cmd
}

// withContainer loads config, starts a container without applying the
// configured seed file and runs fn against it.
func (g *globals) withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *container.Container) error) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      g.logLevel,
		OutputPath: "stderr",
		Format:     "console",
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	cc := cfg.ToContainerConfig()
	cc.SeedFile = ""
	cc.MetricsEnabled = false

	c, err := container.NewContainer(cc, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}
