package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "homeflow/cmd/management-service/docs"
	"homeflow/internal/config"
	"homeflow/internal/logger"
	"homeflow/pkg/bootstrap"
	"homeflow/pkg/logging"
	"homeflow/pkg/migrations"
)

const serviceName = "management-service"

var (
	configFile string
	downSteps  int
)

// @title           Homeflow Management Service API
// @version         1.0
// @description     REST API for filter rules, event batches, automation lifecycle, approvals, suggestions and backups

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Management Service for home automations",
		Long:  "Management Service exposes the REST API for rules, batches, automations, approvals, suggestions and backups",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger) {
	earlyLog := logging.NewEarlyLog(serviceName)

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
	}
	return cfg, log
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the management service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig()
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ctx = logging.WithServiceName(ctx, serviceName)
			log.InfowCtx(ctx, "Starting Management Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			runErr := app.Run(ctx)
			if err := app.Shutdown(context.Background()); err != nil {
				log.ErrorwCtx(ctx, "Shutdown finished with errors", "error", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(ctx, "Application error", "error", runErr)
				return runErr
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), "Migrations applied", func(db *sql.DB, dir string) (uint, error) {
				return migrations.UpPostgres(db, dir)
			})
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), "Migrations rolled back", func(db *sql.DB, dir string) (uint, error) {
				return migrations.DownPostgres(db, dir, downSteps)
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func runMigration(ctx context.Context, done string, fn func(db *sql.DB, dir string) (uint, error)) error {
	cfg, log := loadConfig()
	defer func() { _ = log.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}

	cfg.Database.RunMigrations = false
	db, err := bootstrap.NewDatabaseConnector(cfg, log).InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres is not configured")
	}
	defer func() { _ = db.Close() }()

	version, err := fn(db, cfg.Database.MigrationsDir)
	if err != nil {
		return err
	}
	log.Infow(done, "version", version)
	return nil
}
