// Package internal contains core application functionality
package internal

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"revivalmetrics/internal/config"
	"revivalmetrics/internal/database"
	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/jobs"
	"revivalmetrics/internal/pkg/geoip"
	"revivalmetrics/internal/settings"
	"revivalmetrics/internal/users"
)

// Application wraps cartridge.Application with the analytics-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	config    *config.Config
	logger    *slog.Logger
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, MountAppRoutes)
}

// NewAppWithRoutes creates a new application with custom route mounting function
func NewAppWithRoutes(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)
	geoip.InitLogger(logger)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	jobsManager, err := jobs.NewJobs(dbManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	// Trackers post cross-site by design, so the Sec-Fetch-Site CSRF
	// middleware must accept more than the same-origin default. The
	// ingestion routes themselves opt out entirely (non-browser
	// clients send no header); this list covers the admin surface.
	serverCfg := cartridge.DefaultServerConfig()
	serverCfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		ServerConfig:      serverCfg,
		RouteMountFunc:    routeMount,
		BackgroundWorkers: []cartridge.BackgroundWorker{jobsManager},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Logger exposes the application logger for callers outside internal,
// like the demo seeder wiring in cmd.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Bootstrap migrates the schema and seeds runtime state. Must run
// before StartAsync; safe to run on every boot.
func (a *Application) Bootstrap() error {
	if err := a.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db := a.DBManager.GetConnection()
	if err := settings.SetupDefaultSettings(db); err != nil {
		return fmt.Errorf("failed to seed default settings: %w", err)
	}

	if a.config.AdminEmail != "" {
		users.SetupAdminUserIfNotExists(db, a.config.AdminEmail, a.config.AdminPassword)
	}

	exclusions.InitCache(db, a.logger)
	return nil
}
