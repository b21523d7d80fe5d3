package database

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"funneltrack/internal/annotations"
	"funneltrack/internal/config"
	"funneltrack/internal/consent"
	"funneltrack/internal/funnels"
	"funneltrack/internal/settings"
	"funneltrack/internal/tracking"
)

// DBManager wraps cartridge's sqlite.Manager with funneltrack migrations.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// Models lists every table funneltrack owns, in migration order.
func Models() []any {
	return []any{
		&cache.CacheRecord{},
		&funnels.Funnel{},
		&funnels.FunnelStep{},
		&tracking.TrackingEvent{},
		&consent.ConsentRecord{},
		&settings.Setting{},
		&annotations.Annotation{},
	}
}

// Migrate creates or updates all tables and seeds default settings.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models()...)
	}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	if err := settings.SetupDefaultSettings(db); err != nil {
		return fmt.Errorf("failed to seed default settings: %w", err)
	}
	return nil
}

// MigrateDatabase runs migrations on the managed connection.
func (dm *DBManager) MigrateDatabase() error {
	if err := Migrate(dm.GetConnection()); err != nil {
		dm.logger.Error("Failed to migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}

// StatusTables are the tables reported by TableStatus.
var StatusTables = []string{"funnels", "funnel_steps", "tracking_events", "consent_records"}

// TableCount is the row count of one table. Exists is false when the table
// has not been migrated yet.
type TableCount struct {
	Table  string `json:"table"`
	Exists bool   `json:"exists"`
	Rows   int64  `json:"rows"`
}

// TableStatus reports row counts for the core tables.
func TableStatus(db *gorm.DB) ([]TableCount, error) {
	result := make([]TableCount, 0, len(StatusTables))
	for _, table := range StatusTables {
		status := TableCount{Table: table}
		if db.Migrator().HasTable(table) {
			status.Exists = true
			if err := db.Table(table).Count(&status.Rows).Error; err != nil {
				return nil, fmt.Errorf("failed to count %s: %w", table, err)
			}
		}
		result = append(result, status)
	}
	return result, nil
}
