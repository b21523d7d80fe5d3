// Package app is the public entry point for embedding funneltrack in another
// Go program: build the application, mount its routes next to your own and
// call the core operations directly.
package app

import (
	"log/slog"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"funneltrack/internal"
	"funneltrack/internal/analytics"
	"funneltrack/internal/config"
	"funneltrack/internal/database"
	"funneltrack/internal/funnels"
	"funneltrack/internal/timeframe"
	"funneltrack/internal/tracking"
)

// Re-export core types
type (
	Application = internal.Application
	Config      = config.Config
	DBManager   = database.DBManager
)

// Re-export domain types
type (
	Funnel          = funnels.Funnel
	FunnelStep      = funnels.FunnelStep
	FunnelAnalytics = analytics.FunnelAnalytics
	DateRange       = timeframe.DateRange
	Recorder        = tracking.Recorder
	TrackRequest    = tracking.TrackRequest
	RecordResult    = tracking.RecordResult
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithRoutes creates a new application with custom route mounting
func NewAppWithRoutes(cfg *Config, routeMount func(*cartridge.Server)) (*Application, error) {
	return internal.NewAppWithRoutes(cfg, routeMount)
}

// MountAppRoutes mounts the tracking, consent and admin routes. Call it from
// a custom route mount function after registering your own routes.
func MountAppRoutes(srv *cartridge.Server) {
	internal.MountAppRoutes(srv)
}

// NewRecorder builds an event recorder on db.
func NewRecorder(db *gorm.DB, logger *slog.Logger, opts ...tracking.RecorderOption) *Recorder {
	return tracking.NewRecorder(db, logger, opts...)
}

// GetFunnelAnalytics computes the step report for one funnel and date range.
func GetFunnelAnalytics(db *gorm.DB, logger *slog.Logger, funnelID uint, dateRange DateRange) (*FunnelAnalytics, error) {
	return analytics.GetFunnelAnalytics(db, logger, analytics.NewFunnelScopedQueryParams(funnelID, dateRange))
}
