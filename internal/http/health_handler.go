package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"funneltrack/internal/database"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	Schema    string    `json:"schema"`
}

// HealthIndexAction handles the health check endpoint
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		DBStatus:  "ok",
		Schema:    "ok",
	}

	db := ctx.DBManager.GetConnection()
	if db == nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.Ping(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	} else {
		tables, err := database.TableStatus(db)
		if err != nil {
			health.Schema = "error"
		}
		for _, table := range tables {
			if !table.Exists {
				health.Schema = "missing:" + table.Table
				break
			}
		}
	}

	if health.DBStatus != "ok" || health.Schema != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
