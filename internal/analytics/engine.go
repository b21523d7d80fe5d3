package analytics

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"funneltrack/internal/funnels"
)

// GetFunnelAnalytics computes per-step statistics, the summary and the UTM
// breakdown for a funnel over the date range. A funnel without steps yields
// an empty result. Only a failure of the step query is returned as an error;
// secondary breakdowns degrade to empty values.
func GetFunnelAnalytics(db *gorm.DB, logger *slog.Logger, params FunnelScopedQueryParams) (*FunnelAnalytics, error) {
	result := &FunnelAnalytics{
		FunnelID:     params.FunnelID,
		DateFrom:     params.Range.FromDate,
		DateTo:       params.Range.ToDate,
		Steps:        []StepStats{},
		Summary:      Summarize(nil),
		UTMBreakdown: []UTMPerformance{},
	}

	steps, err := funnels.GetSteps(db, params.FunnelID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return result, nil
	}

	stats, err := GetStepPerformance(db, params)
	if err != nil {
		return nil, err
	}
	result.Steps = stats
	result.Summary = Summarize(stats)

	avg, err := GetAverageCompletionTime(db, params)
	if err != nil {
		logger.Error("Failed to compute completion time",
			slog.Uint64("funnel_id", uint64(params.FunnelID)),
			slog.Any("error", err))
	}
	result.Summary.AvgTimeToComplete = avg

	breakdown, err := GetUTMPerformance(db, params)
	if err != nil {
		logger.Error("Failed to compute UTM breakdown",
			slog.Uint64("funnel_id", uint64(params.FunnelID)),
			slog.Any("error", err))
		breakdown = []UTMPerformance{}
	}
	result.UTMBreakdown = breakdown

	return result, nil
}

type stepPerformanceRow struct {
	StepID         uint
	StepOrder      int
	StepName       string
	StepType       funnels.StepType
	PageID         *int64
	FormID         *int64
	UniqueVisitors int64
	TotalEvents    int64
	FirstEvent     nullTime
	LastEvent      nullTime
}

// GetStepPerformance returns one row per step, in step order, with visitor
// and event counts restricted to the date range and conversion rates applied.
// Steps without events are reported with zero counts.
func GetStepPerformance(db *gorm.DB, params FunnelScopedQueryParams) ([]StepStats, error) {
	var rows []stepPerformanceRow

	query := `
		SELECT
			fs.id AS step_id,
			fs.step_order,
			fs.step_name,
			fs.step_type,
			fs.page_id,
			fs.form_id,
			COUNT(DISTINCT te.session_id) AS unique_visitors,
			COUNT(te.id) AS total_events,
			MIN(te.created_at) AS first_event,
			MAX(te.created_at) AS last_event
		FROM funnel_steps fs
		LEFT JOIN tracking_events te ON te.step_id = fs.id
			AND te.created_at BETWEEN ? AND ?
		WHERE fs.funnel_id = ?
		GROUP BY fs.id, fs.step_order, fs.step_name, fs.step_type, fs.page_id, fs.form_id
		ORDER BY fs.step_order ASC
	`

	err := db.Raw(query,
		params.Range.From.UTC(),
		params.Range.To.UTC(),
		params.FunnelID,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute step performance: %w", err)
	}

	stats := make([]StepStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, StepStats{
			StepID:         row.StepID,
			StepOrder:      row.StepOrder,
			StepName:       row.StepName,
			StepType:       row.StepType,
			PageID:         row.PageID,
			FormID:         row.FormID,
			UniqueVisitors: row.UniqueVisitors,
			TotalEvents:    row.TotalEvents,
			FirstEvent:     row.FirstEvent.ptr(),
			LastEvent:      row.LastEvent.ptr(),
		})
	}
	ApplyConversionRates(stats)
	return stats, nil
}

// stepOrderBounds returns the smallest and largest step_order of a funnel.
func stepOrderBounds(db *gorm.DB, funnelID uint) (int, int, int, error) {
	var row struct {
		MinOrder  int
		MaxOrder  int
		StepCount int
	}
	err := db.Raw(`
		SELECT
			COALESCE(MIN(step_order), 0) AS min_order,
			COALESCE(MAX(step_order), 0) AS max_order,
			COUNT(*) AS step_count
		FROM funnel_steps
		WHERE funnel_id = ?
	`, funnelID).Scan(&row).Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to load step bounds: %w", err)
	}
	return row.MinOrder, row.MaxOrder, row.StepCount, nil
}
