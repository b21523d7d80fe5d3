// Package analytics computes funnel conversion statistics from the tracking
// events table.
//
// The package is organized into focused modules:
//   - analytics.go: result types and query parameters
//   - metrics.go: conversion, drop-off and summary arithmetic
//   - engine.go: per-step aggregation for a funnel and date range
//   - utm.go: UTM breakdowns, rankings and reports
//   - completion.go: time-to-complete distribution
//   - countries.go: country breakdown
package analytics

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"funneltrack/internal/funnels"
	"funneltrack/internal/timeframe"
)

const (
	// DropOffThreshold is the percentage of lost visitors above which a step
	// is reported as a drop-off point.
	DropOffThreshold = 30.0

	DefaultUTMBreakdownLimit = 100
	DefaultFilteredUTMLimit  = 50
	DefaultTopCombinations   = 10
	DefaultTopValuesLimit    = 10

	// NotSetLabel buckets empty UTM values.
	NotSetLabel = "(not set)"
)

// MetricCountResult represents a generic key-count pair for query results
type MetricCountResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// FunnelScopedQueryParams contains common parameters for funnel-scoped queries
type FunnelScopedQueryParams struct {
	FunnelID uint
	Range    timeframe.DateRange
	Limit    int
}

// NewFunnelScopedQueryParams creates query params for a funnel and date range
func NewFunnelScopedQueryParams(funnelID uint, dateRange timeframe.DateRange) FunnelScopedQueryParams {
	return FunnelScopedQueryParams{
		FunnelID: funnelID,
		Range:    dateRange,
	}
}

func (p FunnelScopedQueryParams) limitOr(fallback int) int {
	if p.Limit > 0 {
		return p.Limit
	}
	return fallback
}

// StepStats is the performance of one funnel step in the range.
// ConversionRate is 0 for the first step.
type StepStats struct {
	StepID         uint             `json:"step_id"`
	StepOrder      int              `json:"step_order"`
	StepName       string           `json:"step_name"`
	StepType       funnels.StepType `json:"step_type"`
	PageID         *int64           `json:"page_id"`
	FormID         *int64           `json:"form_id"`
	UniqueVisitors int64            `json:"unique_visitors"`
	TotalEvents    int64            `json:"total_events"`
	ConversionRate float64          `json:"conversion_rate"`
	FirstEvent     *time.Time       `json:"first_event"`
	LastEvent      *time.Time       `json:"last_event"`
}

// DropOffPoint is a step that lost more than DropOffThreshold percent of the
// previous step's visitors.
type DropOffPoint struct {
	StepOrder   int     `json:"step_order"`
	StepName    string  `json:"step_name"`
	DropOffRate float64 `json:"drop_off_rate"`
}

// Summary holds the funnel-wide figures.
type Summary struct {
	TotalEntries          int64          `json:"total_entries"`
	TotalCompletions      int64          `json:"total_completions"`
	OverallConversionRate float64        `json:"overall_conversion_rate"`
	AvgTimeToComplete     float64        `json:"avg_time_to_complete"`
	DropOffPoints         []DropOffPoint `json:"drop_off_points"`
}

// UTMPerformance is one UTM bucket. Entries and completions count sessions
// whose own event in this bucket hit the first or last step; sessions are not
// attributed to a bucket by their first touch.
type UTMPerformance struct {
	UTMSource         string  `gorm:"column:utm_source" json:"utm_source"`
	UTMMedium         string  `gorm:"column:utm_medium" json:"utm_medium"`
	UTMCampaign       string  `gorm:"column:utm_campaign" json:"utm_campaign"`
	UTMTerm           string  `gorm:"column:utm_term" json:"utm_term,omitempty"`
	UTMContent        string  `gorm:"column:utm_content" json:"utm_content,omitempty"`
	UniqueVisitors    int64   `json:"unique_visitors"`
	TotalEvents       int64   `json:"total_events"`
	FunnelEntries     int64   `json:"funnel_entries"`
	FunnelCompletions int64   `json:"funnel_completions"`
	ConversionRate    float64 `json:"conversion_rate"`
}

// FunnelAnalytics is the full analytics result for a funnel and date range.
type FunnelAnalytics struct {
	FunnelID     uint             `json:"funnel_id"`
	DateFrom     string           `json:"date_from"`
	DateTo       string           `json:"date_to"`
	Steps        []StepStats      `json:"steps"`
	Summary      Summary          `json:"summary"`
	UTMBreakdown []UTMPerformance `json:"utm_data"`
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// nullTime scans aggregate timestamps, which SQLite hands back as text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", value)
	}
}

func (n *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (n nullTime) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Time, nil
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
