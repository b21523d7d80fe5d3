package tracking

import "time"

// EventType represents the kind of interaction that produced an event.
type EventType string

const (
	EventTypePageView       EventType = "page_view"
	EventTypeFormStep       EventType = "form_step"
	EventTypeFormSubmission EventType = "form_submission"
)

// IsValid checks if the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventTypePageView, EventTypeFormStep, EventTypeFormSubmission:
		return true
	}
	return false
}

// TrackingEvent is one append-only row per tracked interaction and matching
// funnel step. UTM columns are never null.
type TrackingEvent struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FunnelID      uint      `gorm:"not null;index:idx_tracking_events_funnel_created" json:"funnel_id"`
	StepID        *uint     `gorm:"index:idx_tracking_events_step_created" json:"step_id"`
	SessionID     string    `gorm:"size:255;not null;index" json:"session_id"`
	EventType     EventType `gorm:"size:20;not null;index" json:"event_type"`
	PageID        *int64    `gorm:"index" json:"page_id"`
	FormID        *int64    `gorm:"index" json:"form_id"`
	FormStepIndex *int      `json:"form_step_index"`
	UTMSource     string    `gorm:"column:utm_source;size:255;not null;default:'';index" json:"utm_source"`
	UTMMedium     string    `gorm:"column:utm_medium;size:255;not null;default:''" json:"utm_medium"`
	UTMCampaign   string    `gorm:"column:utm_campaign;size:255;not null;default:''" json:"utm_campaign"`
	UTMContent    string    `gorm:"column:utm_content;size:255;not null;default:''" json:"utm_content"`
	UTMTerm       string    `gorm:"column:utm_term;size:255;not null;default:''" json:"utm_term"`
	UserAgent     string    `gorm:"type:text;not null;default:''" json:"user_agent"`
	IPAddress     string    `gorm:"size:45;not null;default:''" json:"ip_address"`
	Country       string    `gorm:"size:2;not null;default:''" json:"country"`
	CreatedAt     time.Time `gorm:"not null;index;index:idx_tracking_events_funnel_created;index:idx_tracking_events_step_created" json:"created_at"`
}

// TableName specifies the table name for GORM
func (TrackingEvent) TableName() string {
	return "tracking_events"
}

// UTM returns the event's campaign parameters.
func (e TrackingEvent) UTM() UTMParams {
	return UTMParams{
		Source:   e.UTMSource,
		Medium:   e.UTMMedium,
		Campaign: e.UTMCampaign,
		Content:  e.UTMContent,
		Term:     e.UTMTerm,
	}
}
