package analytics

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// utmColumn maps a public parameter name to its column.
var utmColumn = map[string]string{
	"utm_source":   "utm_source",
	"utm_medium":   "utm_medium",
	"utm_campaign": "utm_campaign",
	"utm_term":     "utm_term",
	"utm_content":  "utm_content",
}

// UTMParameterNames lists the parameter names accepted by GetAvailableUTMValues.
func UTMParameterNames() []string {
	return []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}
}

func bucketed(column string) string {
	return fmt.Sprintf("COALESCE(NULLIF(te.%s, ''), '%s')", column, NotSetLabel)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func applyUTMRates(rows []UTMPerformance) {
	for i := range rows {
		rows[i].ConversionRate = percentage(rows[i].FunnelCompletions, rows[i].FunnelEntries)
	}
}

// GetUTMPerformance groups the funnel's events in the range by the full UTM
// 5-tuple. Empty values fall into the NotSetLabel bucket and are never dropped.
// Only the busiest buckets are kept, up to the query limit.
func GetUTMPerformance(db *gorm.DB, params FunnelScopedQueryParams) ([]UTMPerformance, error) {
	return utmPerformance(db, params, params.limitOr(DefaultUTMBreakdownLimit))
}

// utmPerformance runs the 5-tuple breakdown. A negative rowLimit returns
// every bucket.
func utmPerformance(db *gorm.DB, params FunnelScopedQueryParams, rowLimit int) ([]UTMPerformance, error) {
	minOrder, maxOrder, stepCount, err := stepOrderBounds(db, params.FunnelID)
	if err != nil {
		return []UTMPerformance{}, err
	}
	if stepCount == 0 {
		return []UTMPerformance{}, nil
	}

	query := `
		SELECT
			` + bucketed("utm_source") + ` AS utm_source,
			` + bucketed("utm_medium") + ` AS utm_medium,
			` + bucketed("utm_campaign") + ` AS utm_campaign,
			` + bucketed("utm_term") + ` AS utm_term,
			` + bucketed("utm_content") + ` AS utm_content,
			COUNT(DISTINCT te.session_id) AS unique_visitors,
			COUNT(te.id) AS total_events,
			COUNT(DISTINCT CASE WHEN fs.step_order = ? THEN te.session_id END) AS funnel_entries,
			COUNT(DISTINCT CASE WHEN fs.step_order = ? THEN te.session_id END) AS funnel_completions
		FROM tracking_events te
		INNER JOIN funnel_steps fs ON fs.id = te.step_id
		WHERE fs.funnel_id = ?
			AND te.created_at BETWEEN ? AND ?
		GROUP BY 1, 2, 3, 4, 5
		ORDER BY unique_visitors DESC, total_events DESC
		LIMIT ?
	`

	var rows []UTMPerformance
	err = db.Raw(query,
		minOrder,
		maxOrder,
		params.FunnelID,
		params.Range.From.UTC(),
		params.Range.To.UTC(),
		rowLimit,
	).Scan(&rows).Error
	if err != nil {
		return []UTMPerformance{}, fmt.Errorf("failed to compute UTM breakdown: %w", err)
	}
	if rows == nil {
		rows = []UTMPerformance{}
	}
	applyUTMRates(rows)
	return rows, nil
}

// UTMFilters narrows the filtered breakdown. Values match as substrings.
type UTMFilters struct {
	Source   string
	Medium   string
	Campaign string
}

// GetFilteredUTMPerformance is the drill-down variant: filters apply before
// grouping by source, medium and campaign, and the result is capped.
func GetFilteredUTMPerformance(db *gorm.DB, params FunnelScopedQueryParams, filters UTMFilters) ([]UTMPerformance, error) {
	minOrder, maxOrder, stepCount, err := stepOrderBounds(db, params.FunnelID)
	if err != nil {
		return []UTMPerformance{}, err
	}
	if stepCount == 0 {
		return []UTMPerformance{}, nil
	}

	args := []interface{}{minOrder, maxOrder, params.FunnelID, params.Range.From.UTC(), params.Range.To.UTC()}
	var where []string
	for _, f := range []struct{ column, value string }{
		{"utm_source", filters.Source},
		{"utm_medium", filters.Medium},
		{"utm_campaign", filters.Campaign},
	} {
		value := strings.TrimSpace(f.value)
		if value == "" {
			continue
		}
		where = append(where, fmt.Sprintf(`te.%s LIKE ? ESCAPE '\'`, f.column))
		args = append(args, "%"+escapeLike(value)+"%")
	}
	args = append(args, params.limitOr(DefaultFilteredUTMLimit))

	extra := ""
	if len(where) > 0 {
		extra = " AND " + strings.Join(where, " AND ")
	}

	query := `
		SELECT
			` + bucketed("utm_source") + ` AS utm_source,
			` + bucketed("utm_medium") + ` AS utm_medium,
			` + bucketed("utm_campaign") + ` AS utm_campaign,
			COUNT(DISTINCT te.session_id) AS unique_visitors,
			COUNT(te.id) AS total_events,
			COUNT(DISTINCT CASE WHEN fs.step_order = ? THEN te.session_id END) AS funnel_entries,
			COUNT(DISTINCT CASE WHEN fs.step_order = ? THEN te.session_id END) AS funnel_completions
		FROM tracking_events te
		INNER JOIN funnel_steps fs ON fs.id = te.step_id
		WHERE fs.funnel_id = ?
			AND te.created_at BETWEEN ? AND ?` + extra + `
		GROUP BY 1, 2, 3
		ORDER BY unique_visitors DESC, total_events DESC
		LIMIT ?
	`

	var rows []UTMPerformance
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return []UTMPerformance{}, fmt.Errorf("failed to compute filtered UTM breakdown: %w", err)
	}
	if rows == nil {
		rows = []UTMPerformance{}
	}
	applyUTMRates(rows)
	return rows, nil
}

// RankUTMCombinations orders buckets by conversion rate, then by unique
// visitors, both descending, and keeps the first limit rows.
func RankUTMCombinations(rows []UTMPerformance, limit int) []UTMPerformance {
	ranked := make([]UTMPerformance, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ConversionRate != ranked[j].ConversionRate {
			return ranked[i].ConversionRate > ranked[j].ConversionRate
		}
		return ranked[i].UniqueVisitors > ranked[j].UniqueVisitors
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// GetTopUTMCombinations returns the best converting UTM buckets, ranked over
// every bucket in the range.
func GetTopUTMCombinations(db *gorm.DB, params FunnelScopedQueryParams) ([]UTMPerformance, error) {
	limit := params.limitOr(DefaultTopCombinations)
	// SQLite treats a negative LIMIT as no limit.
	rows, err := utmPerformance(db, params, -1)
	if err != nil {
		return []UTMPerformance{}, err
	}
	return RankUTMCombinations(rows, limit), nil
}

func topUTMValues(db *gorm.DB, column string, params FunnelScopedQueryParams) ([]MetricCountResult, error) {
	var results []MetricCountResult

	query := `
		SELECT
			` + column + ` AS name,
			COUNT(DISTINCT session_id) AS count
		FROM tracking_events
		WHERE funnel_id = ?
			AND created_at BETWEEN ? AND ?
			AND ` + column + ` != ''
		GROUP BY ` + column + `
		ORDER BY count DESC, name ASC
		LIMIT ?
	`

	err := db.Raw(query,
		params.FunnelID,
		params.Range.From.UTC(),
		params.Range.To.UTC(),
		params.limitOr(DefaultTopValuesLimit),
	).Scan(&results).Error
	if err != nil || results == nil {
		return []MetricCountResult{}, nil
	}
	return results, nil
}

// GetTopUTMSources fetches the sources bringing the most sessions
func GetTopUTMSources(db *gorm.DB, params FunnelScopedQueryParams) ([]MetricCountResult, error) {
	return topUTMValues(db, "utm_source", params)
}

// GetTopUTMMediums fetches the mediums bringing the most sessions
func GetTopUTMMediums(db *gorm.DB, params FunnelScopedQueryParams) ([]MetricCountResult, error) {
	return topUTMValues(db, "utm_medium", params)
}

// GetTopUTMCampaigns fetches the campaigns bringing the most sessions
func GetTopUTMCampaigns(db *gorm.DB, params FunnelScopedQueryParams) ([]MetricCountResult, error) {
	return topUTMValues(db, "utm_campaign", params)
}

// UTMReportFilters are exact-match filters for the UTM summary and daily report.
type UTMReportFilters struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Content  string `json:"utm_content"`
}

func (f UTMReportFilters) clauses() (string, []interface{}) {
	var where []string
	var args []interface{}
	add := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("utm_source", f.Source)
	add("utm_medium", f.Medium)
	add("utm_campaign", f.Campaign)
	add("utm_content", f.Content)
	if len(where) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(where, " AND "), args
}

// UTMSummaryRow counts sessions and events for one source/medium/campaign/content tuple.
type UTMSummaryRow struct {
	UTMSource      string `gorm:"column:utm_source" json:"utm_source"`
	UTMMedium      string `gorm:"column:utm_medium" json:"utm_medium"`
	UTMCampaign    string `gorm:"column:utm_campaign" json:"utm_campaign"`
	UTMContent     string `gorm:"column:utm_content" json:"utm_content"`
	UniqueSessions int64  `json:"unique_sessions"`
	TotalEvents    int64  `json:"total_events"`
}

// GetUTMSummary groups events carrying a source by source, medium, campaign
// and content.
func GetUTMSummary(db *gorm.DB, params FunnelScopedQueryParams, filters UTMReportFilters) ([]UTMSummaryRow, error) {
	extra, filterArgs := filters.clauses()
	args := append([]interface{}{params.FunnelID, params.Range.From.UTC(), params.Range.To.UTC()}, filterArgs...)
	args = append(args, params.limitOr(DefaultUTMBreakdownLimit))

	query := `
		SELECT
			utm_source, utm_medium, utm_campaign, utm_content,
			COUNT(DISTINCT session_id) AS unique_sessions,
			COUNT(*) AS total_events
		FROM tracking_events
		WHERE funnel_id = ?
			AND created_at BETWEEN ? AND ?
			AND utm_source != ''` + extra + `
		GROUP BY utm_source, utm_medium, utm_campaign, utm_content
		ORDER BY unique_sessions DESC, total_events DESC
		LIMIT ?
	`

	var rows []UTMSummaryRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return []UTMSummaryRow{}, fmt.Errorf("failed to compute UTM summary: %w", err)
	}
	if rows == nil {
		rows = []UTMSummaryRow{}
	}
	return rows, nil
}

// UTMDailyRow is one tuple on one day.
type UTMDailyRow struct {
	Date           string `json:"date"`
	UTMSource      string `gorm:"column:utm_source" json:"utm_source"`
	UTMMedium      string `gorm:"column:utm_medium" json:"utm_medium"`
	UTMCampaign    string `gorm:"column:utm_campaign" json:"utm_campaign"`
	UTMContent     string `gorm:"column:utm_content" json:"utm_content"`
	UniqueSessions int64  `json:"unique_sessions"`
	TotalEvents    int64  `json:"total_events"`
}

// UTMReportSummary are the totals of a daily report.
type UTMReportSummary struct {
	TotalSessions   int64 `json:"total_sessions"`
	TotalEvents     int64 `json:"total_events"`
	SessionsWithUTM int64 `json:"sessions_with_utm"`
}

// UTMDailyReport is the day-by-day UTM report for a funnel.
type UTMDailyReport struct {
	Rows    []UTMDailyRow    `json:"data"`
	Summary UTMReportSummary `json:"summary"`
}

type utmEventRow struct {
	SessionID   string
	UTMSource   string `gorm:"column:utm_source"`
	UTMMedium   string `gorm:"column:utm_medium"`
	UTMCampaign string `gorm:"column:utm_campaign"`
	UTMContent  string `gorm:"column:utm_content"`
	CreatedAt   nullTime
}

type dailyKey struct {
	date, source, medium, campaign, content string
}

// GetUTMDailyReport buckets events with a source by calendar day in the
// range's location. Days are computed in Go because SQLite only knows UTC.
func GetUTMDailyReport(db *gorm.DB, params FunnelScopedQueryParams, filters UTMReportFilters) (*UTMDailyReport, error) {
	report := &UTMDailyReport{Rows: []UTMDailyRow{}}

	extra, filterArgs := filters.clauses()
	args := append([]interface{}{params.FunnelID, params.Range.From.UTC(), params.Range.To.UTC()}, filterArgs...)

	var events []utmEventRow
	err := db.Raw(`
		SELECT session_id, utm_source, utm_medium, utm_campaign, utm_content, created_at
		FROM tracking_events
		WHERE funnel_id = ?
			AND created_at BETWEEN ? AND ?
			AND utm_source != ''`+extra+`
		ORDER BY created_at ASC
	`, args...).Scan(&events).Error
	if err != nil {
		return report, fmt.Errorf("failed to load UTM events: %w", err)
	}

	sessions := map[dailyKey]map[string]struct{}{}
	counts := map[dailyKey]int64{}
	var order []dailyKey
	for _, e := range events {
		if !e.CreatedAt.Valid {
			continue
		}
		key := dailyKey{params.Range.DayOf(e.CreatedAt.Time), e.UTMSource, e.UTMMedium, e.UTMCampaign, e.UTMContent}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
			sessions[key] = map[string]struct{}{}
		}
		counts[key]++
		sessions[key][e.SessionID] = struct{}{}
	}

	for _, key := range order {
		report.Rows = append(report.Rows, UTMDailyRow{
			Date:           key.date,
			UTMSource:      key.source,
			UTMMedium:      key.medium,
			UTMCampaign:    key.campaign,
			UTMContent:     key.content,
			UniqueSessions: int64(len(sessions[key])),
			TotalEvents:    counts[key],
		})
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		if report.Rows[i].Date != report.Rows[j].Date {
			return report.Rows[i].Date > report.Rows[j].Date
		}
		return report.Rows[i].UniqueSessions > report.Rows[j].UniqueSessions
	})

	err = db.Raw(`
		SELECT
			COUNT(DISTINCT session_id) AS total_sessions,
			COUNT(*) AS total_events,
			COUNT(DISTINCT CASE WHEN utm_source != '' THEN session_id END) AS sessions_with_utm
		FROM tracking_events
		WHERE funnel_id = ?
			AND created_at BETWEEN ? AND ?
	`, params.FunnelID, params.Range.From.UTC(), params.Range.To.UTC()).Scan(&report.Summary).Error
	if err != nil {
		return report, fmt.Errorf("failed to compute UTM report summary: %w", err)
	}

	return report, nil
}

// GetAvailableUTMValues lists the distinct non-empty values of one UTM
// parameter across all events, for filter drop-downs.
func GetAvailableUTMValues(db *gorm.DB, param string, limit int) ([]string, error) {
	column, ok := utmColumn[param]
	if !ok {
		return nil, fmt.Errorf("unknown UTM parameter %q", param)
	}
	if limit <= 0 {
		limit = DefaultUTMBreakdownLimit
	}

	var values []string
	err := db.Raw(`
		SELECT DISTINCT `+column+`
		FROM tracking_events
		WHERE `+column+` != ''
		ORDER BY `+column+` ASC
		LIMIT ?
	`, limit).Scan(&values).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", param, err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
