package analytics

import (
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// UnknownCountry is shown for events without a resolved country.
const UnknownCountry = "Unknown"

// GetTopCountries counts distinct sessions per country for the funnel and
// range. Codes are replaced by display names.
func GetTopCountries(db *gorm.DB, params FunnelScopedQueryParams) ([]MetricCountResult, error) {
	var results []MetricCountResult

	query := `
		SELECT
			country AS name,
			COUNT(DISTINCT session_id) AS count
		FROM tracking_events
		WHERE funnel_id = ?
			AND created_at BETWEEN ? AND ?
		GROUP BY country
		ORDER BY count DESC, name ASC
		LIMIT ?
	`

	err := db.Raw(query,
		params.FunnelID,
		params.Range.From.UTC(),
		params.Range.To.UTC(),
		params.limitOr(DefaultTopValuesLimit),
	).Scan(&results).Error
	if err != nil {
		return []MetricCountResult{}, nil
	}

	return convertCountryNames(results), nil
}

func convertCountryNames(items []MetricCountResult) []MetricCountResult {
	if len(items) == 0 {
		return []MetricCountResult{}
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	result := make([]MetricCountResult, len(items))
	for i, item := range items {
		code := strings.TrimSpace(item.Name)
		switch {
		case code == "":
			result[i] = MetricCountResult{Name: UnknownCountry, Count: item.Count}
		default:
			country, err := countries.FindCountryByAlpha(code)
			if err != nil {
				result[i] = MetricCountResult{Name: caser.String(code), Count: item.Count}
			} else {
				result[i] = MetricCountResult{Name: country.Name.Common, Count: item.Count}
			}
		}
	}
	return result
}
