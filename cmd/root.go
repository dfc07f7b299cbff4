// Package cmd defines the rankcrawl command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/app"
	"github.com/JakeFAU/rankcrawl/internal/config"
	"github.com/JakeFAU/rankcrawl/internal/logging"
)

// newService is the service factory. Tests replace it to pass a private
// Prometheus registry.
var newService = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.Service, error) {
	return app.Build(ctx, cfg, nil, logger)
}

// cli carries what PersistentPreRunE builds for the subcommands.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	svc     *app.Service
}

// newRootCmd creates the root command. Subcommands read the service from c
// once the pre-run hook has built it.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rankcrawl",
		Short: "Crawls a ranking API unit by unit under a daily request quota.",
		Long: `rankcrawl walks every (content type, server) pair of a selection against
an upstream ranking API, pacing requests, retrying failures and persisting a
checkpoint so interrupted runs can resume. It can run once in the foreground
or serve an HTTP control surface with a built-in scheduler.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			svc, err := newService(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			c.cfg, c.logger, c.svc = cfg, logger, svc
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newServeCmd(c),
		newRunCmd(c),
		newCheckpointCmd(c),
		newHistoryCmd(c),
	)
	return cmd
}

// close shuts the service down once the command returned, whether or not it
// failed.
func (c *cli) close() {
	if c.svc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout())
	defer cancel()
	if err := c.svc.Shutdown(ctx); err != nil {
		c.logger.Warn("service shutdown incomplete", zap.Error(err))
	}
	_ = c.logger.Sync()
	c.svc = nil
}

func execute(ctx context.Context, c *cli, args []string, configure func(*cobra.Command)) error {
	root := newRootCmd(c)
	root.SetArgs(args)
	if configure != nil {
		configure(root)
	}
	defer c.close()
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("rankcrawl: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute(args []string) error {
	return execute(context.Background(), &cli{}, args, nil)
}
