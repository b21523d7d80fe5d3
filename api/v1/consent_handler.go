package v1

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/config"
	"funneltrack/internal/consent"
	"funneltrack/internal/settings"
	"funneltrack/internal/tracking"
)

// SetConsentParams is the body of POST /api/v1/consent.
type SetConsentParams struct {
	Action     string          `json:"action"`
	Categories map[string]bool `json:"categories"`
}

func consentResponse(gate consent.Gate, state consent.State, current settings.TrackingSettings) fiber.Map {
	response := fiber.Map{
		"status":                state.Status,
		"categories":            state.Categories,
		"consent_enabled":       gate.Enabled,
		"has_analytics_consent": gate.HasConsent(state, consent.CategoryAnalytics),
		"has_marketing_consent": gate.HasConsent(state, consent.CategoryMarketing),
	}
	if current.GoogleConsentModeEnabled {
		response["google_consent_mode"] = gate.GoogleConsentMode(state)
	}
	return response
}

// GetConsentHandler handles GET /api/v1/consent
func GetConsentHandler(ctx *cartridge.Context) error {
	current, err := settings.Load(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to load consent settings", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to load consent settings",
		})
	}

	gate := consent.Gate{Enabled: current.CookieConsentEnabled}
	return ctx.JSON(consentResponse(gate, consentStateFromRequest(ctx.Ctx), current))
}

// SetConsentHandler handles POST /api/v1/consent
func SetConsentHandler(ctx *cartridge.Context) error {
	var params SetConsentParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   errInvalidRequest,
			"code":    "INVALID_REQUEST",
		})
	}

	decision, err := consent.Decide(consent.Action(params.Action), params.Categories)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_ACTION",
		})
	}

	db := ctx.DB()
	cfg := ctx.Config.(*config.Config)

	session := tracking.NewSessionResolver().Resolve(tracking.ClientContext{
		CookieSessionID: ctx.Cookies(tracking.SessionCookieName),
	})

	result, err := consent.SetConsent(db, ctx.Logger, consent.SetConsentInput{
		Status:     decision.Status,
		Categories: decision.Categories,
		SessionID:  session.ID,
		IPAddress:  getClientIP(ctx.Ctx),
		UserAgent:  getUserAgent(ctx.Ctx),
		TTL:        cfg.ConsentTTL(),
	})
	if err != nil {
		ctx.Logger.Error("Failed to store consent", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to store consent",
		})
	}

	for name, value := range map[string]string{
		consent.StatusCookieName:     string(result.State.Status),
		consent.CategoriesCookieName: url.QueryEscape(consent.EncodeCategories(result.State.Categories)),
	} {
		ctx.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			Expires:  result.ExpiresAt,
			Secure:   cfg.IsProduction(),
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	current, err := settings.Load(db)
	if err != nil {
		ctx.Logger.Warn("Failed to load consent settings", slog.Any("error", err))
		current.CookieConsentEnabled = true
	}
	response := consentResponse(consent.Gate{Enabled: current.CookieConsentEnabled}, result.State, current)
	response["success"] = true
	response["expires_at"] = result.ExpiresAt
	return ctx.JSON(response)
}

// ClearConsentHandler handles DELETE /api/v1/consent. No record is stored.
func ClearConsentHandler(ctx *cartridge.Context) error {
	ctx.ClearCookie(consent.StatusCookieName, consent.CategoriesCookieName)
	state := consent.PendingState()
	return ctx.JSON(fiber.Map{
		"success":    true,
		"status":     state.Status,
		"categories": state.Categories,
	})
}
