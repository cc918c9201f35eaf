// Package app is the public API surface of RevivalMetrics. Programs
// embedding the analytics server (or extending it with their own
// routes) import this package instead of reaching into internal.
package app

import (
	"github.com/karloscodes/cartridge"

	"revivalmetrics/internal"
	"revivalmetrics/internal/config"
	"revivalmetrics/internal/database"
	"revivalmetrics/internal/tracker"
)

// Re-export core types
type (
	Application = internal.Application
	Config      = config.Config
	DBManager   = database.DBManager
)

// Re-export the embedded tracker client for Go services reporting
// into this server.
type (
	Tracker         = tracker.Tracker
	TrackerConfig   = tracker.Config
	TrackingOutcome = tracker.TrackingOutcome
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithRoutes creates a new application with custom route
// mounting. Callers adding their own routes should mount them before
// calling MountAppRoutes so the catch-all ordering stays intact.
func NewAppWithRoutes(cfg *Config, routeMount func(*cartridge.Server)) (*Application, error) {
	return internal.NewAppWithRoutes(cfg, routeMount)
}

// SetupSession configures session management on the server
func SetupSession(srv *cartridge.Server) {
	internal.SetupSession(srv)
}

// MountAppRoutes mounts the analytics routes (ingestion, admin, health)
func MountAppRoutes(srv *cartridge.Server) {
	internal.MountAppRoutesWithoutSession(srv)
}

// NewTracker builds an embedded tracker client
func NewTracker(cfg TrackerConfig) *Tracker {
	return tracker.NewTracker(cfg)
}
