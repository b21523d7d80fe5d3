// Package v1 serves the public tracking and consent endpoints called from
// visitors' browsers.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/config"
	"funneltrack/internal/consent"
	"funneltrack/internal/settings"
	"funneltrack/internal/tracking"
)

const (
	errInvalidRequest = "Invalid request"
	errNotRecorded    = "Event could not be recorded"
)

// TrackParams is the body accepted by every tracking endpoint. Fields that
// do not apply to an endpoint are ignored.
type TrackParams struct {
	PageID      int64  `json:"page_id" form:"page_id"`
	FormID      int64  `json:"form_id" form:"form_id"`
	StepIndex   int    `json:"step_index" form:"step_index"`
	TotalSteps  int    `json:"total_steps" form:"total_steps"`
	SessionID   string `json:"session_id" form:"session_id"`
	UTMSource   string `json:"utm_source" form:"utm_source"`
	UTMMedium   string `json:"utm_medium" form:"utm_medium"`
	UTMCampaign string `json:"utm_campaign" form:"utm_campaign"`
	UTMContent  string `json:"utm_content" form:"utm_content"`
	UTMTerm     string `json:"utm_term" form:"utm_term"`
}

func (p TrackParams) utm() tracking.UTMParams {
	return tracking.UTMParams{
		Source:   p.UTMSource,
		Medium:   p.UTMMedium,
		Campaign: p.UTMCampaign,
		Content:  p.UTMContent,
		Term:     p.UTMTerm,
	}
}

// TrackingHandler records page views and form events.
type TrackingHandler struct {
	recorder *tracking.Recorder
}

// NewTrackingHandler creates handlers writing through recorder.
func NewTrackingHandler(recorder *tracking.Recorder) *TrackingHandler {
	return &TrackingHandler{recorder: recorder}
}

// TrackPageView handles POST /api/v1/track/page-view
func (h *TrackingHandler) TrackPageView(ctx *cartridge.Context) error {
	return h.track(ctx, tracking.EventTypePageView)
}

// TrackFormStep handles POST /api/v1/track/form-step
func (h *TrackingHandler) TrackFormStep(ctx *cartridge.Context) error {
	return h.track(ctx, tracking.EventTypeFormStep)
}

// TrackFormSubmission handles POST /api/v1/track/form-submission
func (h *TrackingHandler) TrackFormSubmission(ctx *cartridge.Context) error {
	return h.track(ctx, tracking.EventTypeFormSubmission)
}

// consentStateFromRequest rebuilds the visitor's consent from the cookies.
func consentStateFromRequest(c *fiber.Ctx) consent.State {
	return consent.StateFromCookies(
		readCookie(c, consent.StatusCookieName),
		readCookie(c, consent.CategoriesCookieName),
	)
}

// ipExcluded checks the excluded IP list.
var ipExcluded = settings.IsIPExcluded

// trackingPolicy builds the policy for one request from the stored settings.
func trackingPolicy(current settings.TrackingSettings, logger *slog.Logger) tracking.Policy {
	return tracking.Policy{
		TrackingEnabled: current.UTMTrackingEnabled,
		Gate:            consent.Gate{Enabled: current.CookieConsentEnabled},
		StoreIP:         current.IPTrackingEnabled,
		IsExcludedIP: func(ip string) bool {
			excluded, err := ipExcluded(ip)
			if err != nil {
				logger.Warn("Failed to check excluded IPs", slog.Any("error", err))
				return false
			}
			return excluded
		},
	}
}

func notRecorded(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"success": false,
		"status":  string(tracking.OutcomeNotRecorded),
		"outcome": string(tracking.OutcomeNotRecorded),
		"error":   errNotRecorded,
	})
}

func (h *TrackingHandler) track(ctx *cartridge.Context, eventType tracking.EventType) error {
	var params TrackParams
	if err := ctx.BodyParser(&params); err != nil {
		ctx.Logger.Debug("Failed to parse tracking request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   errInvalidRequest,
			"code":    "INVALID_REQUEST",
		})
	}

	current, err := settings.Load(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to load tracking settings", slog.Any("error", err))
		return notRecorded(ctx)
	}

	req := tracking.TrackRequest{
		EventType:  eventType,
		PageID:     params.PageID,
		FormID:     params.FormID,
		StepIndex:  params.StepIndex,
		TotalSteps: params.TotalSteps,
		UTM:        params.utm(),
		Client: tracking.ClientContext{
			CookieSessionID:  ctx.Cookies(tracking.SessionCookieName),
			RequestSessionID: params.SessionID,
		},
		Consent:   consentStateFromRequest(ctx.Ctx),
		IPAddress: getClientIP(ctx.Ctx),
		UserAgent: getUserAgent(ctx.Ctx),
	}

	result, err := h.recorder.Record(ctx.UserContext(), trackingPolicy(current, ctx.Logger), req)
	if err != nil {
		var validationErr *tracking.ValidationError
		if errors.As(err, &validationErr) {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   validationErr.Error(),
				"field":   validationErr.Field,
				"code":    "VALIDATION_ERROR",
			})
		}
		// Storage failures are never surfaced to the visitor.
		ctx.Logger.Error("Failed to record tracking event",
			slog.String("event_type", string(eventType)),
			slog.Any("error", err))
		return notRecorded(ctx)
	}

	if result.Session.IsNew {
		cfg := ctx.Config.(*config.Config)
		ctx.Cookie(&fiber.Cookie{
			Name:     tracking.SessionCookieName,
			Value:    result.Session.ID,
			Path:     "/",
			Expires:  time.Now().Add(cfg.SessionCookieTTL()),
			Secure:   cfg.IsProduction(),
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	response := fiber.Map{
		"success": result.Outcome == tracking.OutcomeRecorded || result.Outcome == tracking.OutcomeIgnored,
		"outcome": string(result.Outcome),
	}
	switch result.Outcome {
	case tracking.OutcomeRecorded:
		response["event_ids"] = result.EventIDs
		response["session_id"] = result.Session.ID
		response["funnel_steps_found"] = result.StepsFound
	case tracking.OutcomeNoMatchingStep:
		response["code"] = "NO_MATCHING_STEP"
		response["session_id"] = result.Session.ID
		response["funnel_steps_found"] = 0
	case tracking.OutcomeConsentRequired:
		response["code"] = "CONSENT_REQUIRED"
	case tracking.OutcomeTrackingDisabled:
		response["code"] = "TRACKING_DISABLED"
	case tracking.OutcomeIgnored:
		response["event_ids"] = []uint{}
	}

	return ctx.JSON(response)
}
