package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/config"
	"funneltrack/internal/consent"
	"funneltrack/internal/database"
)

// ConsentStatsAction handles GET /admin/api/consent/stats?days=30
func ConsentStatsAction(ctx *cartridge.Context) error {
	stats, err := consent.GetStatistics(ctx.DB(), ctx.QueryInt("days", 30))
	if err != nil {
		ctx.Logger.Error("Failed to compute consent statistics", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to compute consent statistics")
	}
	return ctx.JSON(stats)
}

// SystemStatusAction handles GET /admin/api/system/status, reporting row
// counts of the tracking tables.
func SystemStatusAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)

	tables, err := database.TableStatus(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to read table status", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to read table status")
	}

	return ctx.JSON(fiber.Map{
		"environment": cfg.Environment,
		"timezone":    cfg.Location().String(),
		"geoip":       cfg.GeoDBPath != "",
		"tables":      tables,
	})
}
