// Package cli defines the cobra command tree of the valuation server.
package cli

import (
	"fmt"
	"io"

	"appraisal/server/config"
	"appraisal/server/internal/api"
	"appraisal/server/internal/database"
	"appraisal/server/internal/logging"
	"appraisal/server/internal/valuation"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command. Without a subcommand it serves the API.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "appraisal",
		Short:         "Comparative real-estate valuation service",
		Long:          "Values properties against comparables, keeps an audit history of valuations and serves it all over an HTTP API.",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCreateAdminCmd(),
		newValuateCmd(),
		newBackupCmd(),
	)
	return root
}

// app holds what every database-backed command needs.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *database.Database
}

// loadConfig reads the configuration and builds a logger writing to out.
func loadConfig(out io.Writer) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewLogger(cfg, out), nil
}

// openApp loads the configuration, opens the database and applies migrations.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabase(database.Options{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		URL:    cfg.Database.URL,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}

func rates(cfg *config.Config) valuation.Rates {
	return valuation.Rates{
		AreaPerSqm:     cfg.Valuation.AreaPerSqm,
		FloorPerLevel:  cfg.Valuation.FloorPerLevel,
		PerCondition:   cfg.Valuation.PerCondition,
		PerRenovation:  cfg.Valuation.PerRenovation,
		DistancePerKm:  cfg.Valuation.DistancePerKm,
		FeaturePerUnit: cfg.Valuation.FeaturePerUnit,
	}
}
