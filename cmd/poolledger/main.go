// Command poolledger runs the pooled-investment ledger: the HTTP/WebSocket API,
// the daily performance tick and the cash-flow archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/poolledger/internal/app"
	"github.com/alanyoungcy/poolledger/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "poolledger",
		Short:        "Pooled-investment ledger and risk engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "path to a TOML configuration file (empty uses built-in defaults)")
	root.PersistentFlags().String("log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the ledger service",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	})
	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE:  runConfig,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("poolledger: exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("poolledger: stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	applied, err := app.New(cfg, logger).MigrateMode(cmd.Context())
	if err != nil {
		return err
	}
	for _, f := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(config.RedactedConfig(cfg))
}

// setup loads and validates the configuration and builds the JSON logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
