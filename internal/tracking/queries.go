package tracking

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ListFunnelEvents returns the raw events of a funnel, newest first. Zero
// bounds are open.
func ListFunnelEvents(db *gorm.DB, funnelID uint, from, to time.Time) ([]TrackingEvent, error) {
	query := db.Where("funnel_id = ?", funnelID)
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to.UTC())
	}

	var events []TrackingEvent
	if err := query.Order("created_at DESC").Order("id DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracking events: %w", err)
	}
	return events, nil
}
