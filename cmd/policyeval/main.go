// Package main implements the policyeval CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policyeval/internal/config"
	"policyeval/internal/logging"
)

var (
	// cfgPath overrides the default config lookup
	cfgPath   string
	logLevel  string
	logFormat string

	cfg    *config.AppConfig
	logger *zap.Logger

	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "policyeval",
	Short: "Evaluate privacy policies against regulatory criteria",
	Long: `policyeval segments a privacy policy into sections, retrieves the most similar
passages from reference law collections, and asks a language model to judge each
section against the criteria catalog. Every judgment is validated against the
required schema and appended to a JSON Lines results log.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config (default ./policyeval.yaml or ~/.config/policyeval/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override logging.format (json, console)")
}

// setup loads .env, the config file and the logger before any subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	var (
		path string
		err  error
	)
	if cfgPath == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		path = cfgPath
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logger, err = logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger.Debug("config loaded", zap.String("path", path), zap.String("command", cmd.Name()))
	return nil
}
