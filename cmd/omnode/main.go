// Command omnode runs a single Byzantine Oral-Messages consensus node: a
// UDP peer socket for gossip and consensus datagrams, a line-oriented TCP
// CLI, and a read-only HTTP admin surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omnode/omnode/internal/config"
	"github.com/omnode/omnode/internal/node"
	pkgconfig "github.com/omnode/omnode/pkg/config"
	"github.com/omnode/omnode/pkg/log"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "omnode",
		Short: "run an Oral-Messages consensus node",
		Long: `Run an Oral-Messages consensus node.

A node gossips with peers to discover the mesh, and participates in
Byzantine Oral-Messages consensus rounds over a shared 5-word database. Use
the CLI port to inspect peers, read the database, start a round, or toggle
the node's lying behaviour.

Examples:
  # Start a node listening for gossip on :7000, CLI on :7001 and admin on
  # :7002.
  omnode

  # Start a node and announce itself to two well-known peers on startup.
  omnode --node.bootstrap-peers 10.0.0.1:7000,10.0.0.2:7000
`,
	}

	conf := config.Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replace references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	conf.RegisterFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := pkgconfig.Load(configPath, conf, configExpandEnv); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}

		if err := conf.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err := log.NewLogger(conf.Log.Level, conf.Log.Subsystems)
		if err != nil {
			return fmt.Errorf("setup logger: %w", err)
		}

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run node", zap.Error(err))
			os.Exit(1)
		}
		return nil
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting om node", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	orchestrator, err := node.New(conf, logger, registry)
	if err != nil {
		return fmt.Errorf("new orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
