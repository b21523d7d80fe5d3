package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "funneltrack/api/v1"
	"funneltrack/internal/config"
	"funneltrack/internal/http"
	"funneltrack/internal/pkg/geoip"
	"funneltrack/internal/pkg/useragent"
	"funneltrack/internal/tracking"
)

// publicCORSConfig is shared by every endpoint called from tracked pages.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,DELETE,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

func noContent(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}

// MountAppRoutes mounts the public tracking API, the consent API and the
// admin JSON API.
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// Rate limiting would interfere with development and tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 requests per minute per IP
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// CORS runs first so rejected requests still carry CORS headers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	healthConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	recorder := tracking.NewRecorder(db, logger,
		tracking.WithGeoLocator(geoip.Open(cfg.GeoDBPath, logger)),
		tracking.WithBotDetector(useragent.Default()),
	)
	trackingHandler := v1.NewTrackingHandler(recorder)

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction, healthConfig)
	srv.Head("/_health", http.HealthIndexAction, healthConfig)

	// === PUBLIC TRACKING API ===
	for path, handler := range map[string]func(*cartridge.Context) error{
		"/api/v1/track/page-view":       trackingHandler.TrackPageView,
		"/api/v1/track/form-step":       trackingHandler.TrackFormStep,
		"/api/v1/track/form-submission": trackingHandler.TrackFormSubmission,
	} {
		srv.Post(path, handler, publicAPIConfig)
		srv.Options(path, noContent, publicAPIConfig)
	}

	// === CONSENT API ===
	srv.Get("/api/v1/consent", v1.GetConsentHandler, publicAPIConfig)
	srv.Post("/api/v1/consent", v1.SetConsentHandler, publicAPIConfig)
	srv.Delete("/api/v1/consent", v1.ClearConsentHandler, publicAPIConfig)
	srv.Options("/api/v1/consent", noContent, publicAPIConfig)

	// === ADMIN API ===
	srv.Get("/admin/api/funnels", http.FunnelsListAction)
	srv.Post("/admin/api/funnels", http.FunnelCreateAction)
	srv.Get("/admin/api/funnels/:id", http.FunnelShowAction)
	srv.Put("/admin/api/funnels/:id", http.FunnelUpdateAction)
	srv.Delete("/admin/api/funnels/:id", http.FunnelDeleteAction)

	srv.Get("/admin/api/funnels/:id/analytics", http.FunnelAnalyticsAction)
	srv.Get("/admin/api/funnels/:id/utm", http.FunnelUTMAction)
	srv.Get("/admin/api/funnels/:id/utm/top", http.FunnelTopUTMAction)
	srv.Get("/admin/api/funnels/:id/utm/summary", http.FunnelUTMSummaryAction)
	srv.Get("/admin/api/funnels/:id/utm/daily", http.FunnelUTMDailyAction)
	srv.Get("/admin/api/funnels/:id/completion-times", http.FunnelCompletionTimesAction)
	srv.Get("/admin/api/funnels/:id/countries", http.FunnelCountriesAction)
	srv.Get("/admin/api/funnels/:id/export", http.FunnelExportAction)
	srv.Get("/admin/api/utm/values/:param", http.UTMValuesAction)

	srv.Get("/admin/api/funnels/:id/annotations", http.AnnotationsListAction)
	srv.Post("/admin/api/funnels/:id/annotations", http.AnnotationCreateAction)
	srv.Put("/admin/api/funnels/:id/annotations/:annotationId", http.AnnotationUpdateAction)
	srv.Delete("/admin/api/funnels/:id/annotations/:annotationId", http.AnnotationDeleteAction)

	srv.Get("/admin/api/settings", http.SettingsIndexAction)
	srv.Post("/admin/api/settings", http.SettingsUpdateAction)

	srv.Get("/admin/api/consent/stats", http.ConsentStatsAction)
	srv.Get("/admin/api/system/status", http.SystemStatusAction)
}
