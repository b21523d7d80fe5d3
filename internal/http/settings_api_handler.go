package http

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/settings"
)

// SettingsIndexAction handles GET /admin/api/settings
func SettingsIndexAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	list, err := settings.GetAllSettingsForDisplay(db)
	if err != nil {
		ctx.Logger.Error("Failed to fetch settings", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to fetch settings")
	}

	current, err := settings.Load(db)
	if err != nil {
		ctx.Logger.Error("Failed to load settings", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to fetch settings")
	}

	return ctx.JSON(fiber.Map{
		"settings": list,
		"tracking": current,
	})
}

// SettingsUpdateAction handles POST /admin/api/settings. The body maps
// setting keys to values; booleans and numbers are accepted as JSON values.
// Nothing is stored when any value is invalid.
func SettingsUpdateAction(ctx *cartridge.Context) error {
	var body map[string]interface{}
	if err := ctx.BodyParser(&body); err != nil || len(body) == 0 {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid request body")
	}

	values := make(map[string]string, len(body))
	for key, raw := range body {
		switch v := raw.(type) {
		case string:
			values[key] = v
		case bool:
			values[key] = strconv.FormatBool(v)
		case float64:
			values[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			values[key] = ""
		default:
			return errorResponse(ctx, fiber.StatusBadRequest, "Unsupported value for "+key)
		}
	}

	db := ctx.DB()
	if err := settings.UpdateSettings(db, values); err != nil {
		var invalid *settings.InvalidValueError
		switch {
		case errors.Is(err, settings.ErrUnknownSetting), errors.As(err, &invalid):
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error())
		default:
			ctx.Logger.Error("Failed to update settings", slog.Any("error", err))
			return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to update settings")
		}
	}

	ctx.Logger.Info("Settings updated", slog.Int("count", len(values)))

	current, err := settings.Load(db)
	if err != nil {
		ctx.Logger.Error("Failed to load settings", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to load settings")
	}
	return ctx.JSON(fiber.Map{
		"success":  true,
		"tracking": current,
	})
}
