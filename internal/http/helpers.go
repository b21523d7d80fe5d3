// Package http holds the admin JSON API handlers.
package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/config"
	"funneltrack/internal/funnels"
	"funneltrack/internal/timeframe"
)

func errorResponse(ctx *cartridge.Context, status int, message string) error {
	return ctx.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

var errInvalidFunnelID = errors.New("invalid funnel ID")

// funnelIDParam reads the :id route parameter.
func funnelIDParam(ctx *cartridge.Context) (uint, error) {
	id, err := ctx.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, errInvalidFunnelID
	}
	return uint(id), nil
}

// dateRangeFromQuery parses date_from / date_to in the configured location.
func dateRangeFromQuery(ctx *cartridge.Context) (timeframe.DateRange, error) {
	cfg := ctx.Config.(*config.Config)
	return timeframe.NewDateRangeParser(cfg.Location()).Parse(ctx.Query("date_from"), ctx.Query("date_to"))
}

// funnelErrorResponse maps registry errors onto HTTP statuses.
func funnelErrorResponse(ctx *cartridge.Context, err error, action string) error {
	var validationErr *funnels.ValidationError
	switch {
	case errors.Is(err, errInvalidFunnelID):
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid funnel ID")
	case errors.As(err, &validationErr):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   validationErr.Message,
			"field":   validationErr.Field,
			"code":    validationErr.Code(),
		})
	case funnels.IsNotFound(err):
		return errorResponse(ctx, fiber.StatusNotFound, "Funnel not found")
	default:
		ctx.Logger.Error("Failed to "+action, slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to "+action)
	}
}

// loadFunnel returns the funnel named by :id, without its steps.
func loadFunnel(ctx *cartridge.Context) (*funnels.Funnel, error) {
	id, err := funnelIDParam(ctx)
	if err != nil {
		return nil, err
	}
	return funnels.GetFunnel(ctx.DB(), id, false)
}
