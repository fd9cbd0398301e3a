// Package cli implements the trainer command-line interface using Cobra.
// Each subcommand runs one process of the training system.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/config"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "trainer",
	Short: "Asynchronous model training service",
	Long: `trainer accepts datasets over HTTP, queues them for training and
exposes job progress while workers fit and evaluate models.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		zap.S().Errorw("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger.With(zap.String("process", cmd.Name())))

	zap.S().Infow("config loaded", "env", cfg.Server.Env, "version", cmd.Root().Version)
	return nil
}
