package http

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"funneltrack/internal/analytics"
	"funneltrack/internal/annotations"
	"funneltrack/internal/config"
	"funneltrack/internal/funnels"
	"funneltrack/internal/pkg/async"
)

// clampLimit keeps a requested row limit within [1, maxLimit].
func clampLimit(requested, maxLimit int) int {
	return max(1, min(requested, maxLimit))
}

// funnelQueryParams resolves the funnel and date range shared by every
// analytics endpoint. The limit query parameter may lower maxLimit but never
// raise it; a zero maxLimit leaves the query's own default in place.
// When ok is false the error response has been written.
func funnelQueryParams(ctx *cartridge.Context, maxLimit int) (*funnels.Funnel, analytics.FunnelScopedQueryParams, bool, error) {
	funnel, err := loadFunnel(ctx)
	if err != nil {
		return nil, analytics.FunnelScopedQueryParams{}, false, funnelErrorResponse(ctx, err, "load funnel")
	}

	dateRange, err := dateRangeFromQuery(ctx)
	if err != nil {
		return nil, analytics.FunnelScopedQueryParams{}, false, errorResponse(ctx, fiber.StatusBadRequest, err.Error())
	}

	params := analytics.NewFunnelScopedQueryParams(funnel.ID, dateRange)
	if maxLimit > 0 {
		params.Limit = clampLimit(ctx.QueryInt("limit", maxLimit), maxLimit)
	}
	return funnel, params, true, nil
}

// FunnelAnalyticsAction handles GET /admin/api/funnels/:id/analytics
func FunnelAnalyticsAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)
	funnel, params, ok, err := funnelQueryParams(ctx, cfg.UTMBreakdownLimit)
	if !ok {
		return err
	}
	db := ctx.DB()

	result, err := analytics.GetFunnelAnalytics(db, ctx.Logger, params)
	if err != nil {
		ctx.Logger.Error("Failed to compute funnel analytics",
			slog.Uint64("funnel_id", uint64(funnel.ID)),
			slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to compute funnel analytics")
	}

	notes, err := annotations.GetAnnotationsForTimeframe(db, funnel.ID, params.Range.From, params.Range.To)
	if err != nil {
		ctx.Logger.Warn("Failed to load annotations", slog.Any("error", err))
		notes = []annotations.Annotation{}
	}

	return ctx.JSON(fiber.Map{
		"funnel":      funnel,
		"analytics":   result,
		"annotations": notes,
	})
}

// FunnelUTMAction handles GET /admin/api/funnels/:id/utm
func FunnelUTMAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)
	_, params, ok, err := funnelQueryParams(ctx, cfg.FilteredUTMLimit)
	if !ok {
		return err
	}

	rows, err := analytics.GetFilteredUTMPerformance(ctx.DB(), params, analytics.UTMFilters{
		Source:   ctx.Query("source"),
		Medium:   ctx.Query("medium"),
		Campaign: ctx.Query("campaign"),
	})
	if err != nil {
		ctx.Logger.Error("Failed to compute UTM performance", slog.Any("error", err))
	}

	return ctx.JSON(fiber.Map{
		"date_from": params.Range.FromDate,
		"date_to":   params.Range.ToDate,
		"utm_data":  rows,
	})
}

// FunnelTopUTMAction handles GET /admin/api/funnels/:id/utm/top
func FunnelTopUTMAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)
	_, params, ok, err := funnelQueryParams(ctx, cfg.TopCombinationsDefault)
	if !ok {
		return err
	}
	db := ctx.DB()
	logger := ctx.Logger

	// The per-parameter lists keep their own default limit.
	listParams := params
	listParams.Limit = 0

	metricTask := func(name string, query func(*gorm.DB, analytics.FunnelScopedQueryParams) ([]analytics.MetricCountResult, error)) async.Task {
		return async.Task{
			Name: name,
			Execute: func(taskCtx context.Context) (any, error) {
				rows, err := query(db.WithContext(taskCtx), listParams)
				if err != nil {
					logger.Error("Failed to fetch top UTM values", slog.String("list", name), slog.Any("error", err))
				}
				return rows, err
			},
		}
	}

	results := async.NewPool(4).Execute(ctx.UserContext(), []async.Task{
		{
			Name: "combinations",
			Execute: func(taskCtx context.Context) (any, error) {
				rows, err := analytics.GetTopUTMCombinations(db.WithContext(taskCtx), params)
				if err != nil {
					logger.Error("Failed to rank UTM combinations", slog.Any("error", err))
				}
				return rows, err
			},
		},
		metricTask("sources", analytics.GetTopUTMSources),
		metricTask("mediums", analytics.GetTopUTMMediums),
		metricTask("campaigns", analytics.GetTopUTMCampaigns),
	})

	empty := []analytics.MetricCountResult{}
	return ctx.JSON(fiber.Map{
		"combinations": async.ValueOr(results, "combinations", []analytics.UTMPerformance{}),
		"sources":      async.ValueOr(results, "sources", empty),
		"mediums":      async.ValueOr(results, "mediums", empty),
		"campaigns":    async.ValueOr(results, "campaigns", empty),
	})
}

func utmReportFilters(ctx *cartridge.Context) analytics.UTMReportFilters {
	return analytics.UTMReportFilters{
		Source:   ctx.Query("utm_source"),
		Medium:   ctx.Query("utm_medium"),
		Campaign: ctx.Query("utm_campaign"),
		Content:  ctx.Query("utm_content"),
	}
}

// FunnelUTMSummaryAction handles GET /admin/api/funnels/:id/utm/summary
func FunnelUTMSummaryAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)
	_, params, ok, err := funnelQueryParams(ctx, cfg.UTMBreakdownLimit)
	if !ok {
		return err
	}

	rows, err := analytics.GetUTMSummary(ctx.DB(), params, utmReportFilters(ctx))
	if err != nil {
		ctx.Logger.Error("Failed to compute UTM summary", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to compute UTM summary")
	}
	return ctx.JSON(fiber.Map{"data": rows})
}

// FunnelUTMDailyAction handles GET /admin/api/funnels/:id/utm/daily
func FunnelUTMDailyAction(ctx *cartridge.Context) error {
	_, params, ok, err := funnelQueryParams(ctx, 0)
	if !ok {
		return err
	}

	report, err := analytics.GetUTMDailyReport(ctx.DB(), params, utmReportFilters(ctx))
	if err != nil {
		ctx.Logger.Error("Failed to compute daily UTM report", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to compute daily UTM report")
	}
	return ctx.JSON(report)
}

// UTMValuesAction handles GET /admin/api/utm/values/:param, listing the
// distinct values of one UTM parameter.
func UTMValuesAction(ctx *cartridge.Context) error {
	param := ctx.Params("param")
	limit := clampLimit(ctx.QueryInt("limit", analytics.DefaultUTMBreakdownLimit), analytics.DefaultUTMBreakdownLimit)
	values, err := analytics.GetAvailableUTMValues(ctx.DB(), param, limit)
	if err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, err.Error())
	}
	if values == nil {
		values = []string{}
	}
	return ctx.JSON(fiber.Map{
		"parameter": param,
		"values":    values,
	})
}

// FunnelCompletionTimesAction handles GET /admin/api/funnels/:id/completion-times
func FunnelCompletionTimesAction(ctx *cartridge.Context) error {
	_, params, ok, err := funnelQueryParams(ctx, 0)
	if !ok {
		return err
	}

	times, err := analytics.GetCompletionTimes(ctx.DB(), params)
	if err != nil {
		ctx.Logger.Error("Failed to compute completion times", slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to compute completion times")
	}

	return ctx.JSON(fiber.Map{
		"completion_times": times,
		"average_minutes":  analytics.AverageCompletionMinutes(times),
	})
}

// FunnelCountriesAction handles GET /admin/api/funnels/:id/countries
func FunnelCountriesAction(ctx *cartridge.Context) error {
	_, params, ok, err := funnelQueryParams(ctx, analytics.DefaultTopValuesLimit)
	if !ok {
		return err
	}

	countries, err := analytics.GetTopCountries(ctx.DB(), params)
	if err != nil {
		ctx.Logger.Error("Failed to compute country breakdown", slog.Any("error", err))
	}
	return ctx.JSON(fiber.Map{"countries": countries})
}

