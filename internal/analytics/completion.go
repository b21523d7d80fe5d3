package analytics

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// CompletionTime is how long one session took from its first to its last
// event, for sessions that reached every step.
type CompletionTime struct {
	SessionID             string    `json:"session_id"`
	FirstStepTime         time.Time `json:"first_step_time"`
	LastStepTime          time.Time `json:"last_step_time"`
	CompletionTimeMinutes int64     `json:"completion_time_minutes"`
}

type completionRow struct {
	SessionID     string
	FirstStepTime nullTime
	LastStepTime  nullTime
}

// GetCompletionTimes returns, sorted ascending by duration, the completion
// time of every session with events at every step of the funnel in the range.
// Minutes are whole minutes, rounded down.
func GetCompletionTimes(db *gorm.DB, params FunnelScopedQueryParams) ([]CompletionTime, error) {
	_, _, stepCount, err := stepOrderBounds(db, params.FunnelID)
	if err != nil {
		return []CompletionTime{}, err
	}
	if stepCount == 0 {
		return []CompletionTime{}, nil
	}

	var rows []completionRow
	err = db.Raw(`
		SELECT
			te.session_id,
			MIN(te.created_at) AS first_step_time,
			MAX(te.created_at) AS last_step_time
		FROM tracking_events te
		INNER JOIN funnel_steps fs ON fs.id = te.step_id
		WHERE fs.funnel_id = ?
			AND te.created_at BETWEEN ? AND ?
		GROUP BY te.session_id
		HAVING COUNT(DISTINCT fs.step_order) = ?
	`, params.FunnelID, params.Range.From.UTC(), params.Range.To.UTC(), stepCount).Scan(&rows).Error
	if err != nil {
		return []CompletionTime{}, fmt.Errorf("failed to compute completion times: %w", err)
	}

	times := make([]CompletionTime, 0, len(rows))
	for _, row := range rows {
		if !row.FirstStepTime.Valid || !row.LastStepTime.Valid {
			continue
		}
		times = append(times, CompletionTime{
			SessionID:             row.SessionID,
			FirstStepTime:         row.FirstStepTime.Time,
			LastStepTime:          row.LastStepTime.Time,
			CompletionTimeMinutes: int64(row.LastStepTime.Time.Sub(row.FirstStepTime.Time) / time.Minute),
		})
	}
	sort.SliceStable(times, func(i, j int) bool {
		if times[i].CompletionTimeMinutes != times[j].CompletionTimeMinutes {
			return times[i].CompletionTimeMinutes < times[j].CompletionTimeMinutes
		}
		return times[i].SessionID < times[j].SessionID
	})
	return times, nil
}

// AverageCompletionMinutes is the mean of the distribution, 0 when empty.
func AverageCompletionMinutes(times []CompletionTime) float64 {
	if len(times) == 0 {
		return 0
	}
	var total int64
	for _, t := range times {
		total += t.CompletionTimeMinutes
	}
	return float64(total) / float64(len(times))
}

// GetAverageCompletionTime returns the average completion time in minutes.
func GetAverageCompletionTime(db *gorm.DB, params FunnelScopedQueryParams) (float64, error) {
	times, err := GetCompletionTimes(db, params)
	if err != nil {
		return 0, err
	}
	return AverageCompletionMinutes(times), nil
}
