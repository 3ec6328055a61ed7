// Package main implements the entry point for the safe-notify server, which
// accepts notification events over HTTP and delivers them in the background
// with retries, a dead-letter queue and operator replay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/phrazzld/safe-notify/internal/config"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/platform/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. configFile is shared by every
// subcommand through the persistent --config flag.
func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "safe-notify",
		Short:        "Reliable notification delivery with retries, DLQ and replay",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is the normal case outside local development.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (default ./config.yaml)")

	root.AddCommand(newServeCmd(&configFile))
	root.AddCommand(newMigrateCmd(&configFile))
	return root
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the delivery workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp(*configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				log.Error("failed to initialize application", "error", err)
				return err
			}
			return app.Run(ctx)
		},
	}
}

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate {up|down|reset|status|version}",
		Short:     "Run database migrations against database.url",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp(*configFile)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg, args[0], log)
		},
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(configFile string) (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"store_driver", cfg.Store.Driver,
		"email_provider", cfg.Email.Provider,
		"worker_count", cfg.Delivery.WorkerCount)
	if cfg.Database.URL != "" {
		log.Debug("database configuration", "url_present", true)
	}
	return cfg, log, nil
}

func runMigrations(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required to run migrations")
	}

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Error("error closing database connection", "error", cerr)
		}
	}()

	return postgres.Migrate(ctx, db, command, log)
}
