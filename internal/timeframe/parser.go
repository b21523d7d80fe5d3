package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// DateRangeParser turns user supplied day strings into a DateRange.
type DateRangeParser struct {
	timeProvider TimeProvider
	location     *time.Location
}

// NewDateRangeParser creates a parser computing boundaries in loc.
func NewDateRangeParser(loc *time.Location, timeProvider ...TimeProvider) *DateRangeParser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	if loc == nil {
		loc = time.Local
	}

	return &DateRangeParser{
		timeProvider: provider,
		location:     loc,
	}
}

// Parse reads "YYYY-MM-DD" bounds. An empty from defaults to thirty days ago
// and an empty to defaults to today.
func (p *DateRangeParser) Parse(fromDate, toDate string) (DateRange, error) {
	today := p.timeProvider.Now(p.location)

	from, err := p.parseDay(fromDate, today.AddDate(0, 0, -DefaultLookbackDays))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid 'from' date: %w", err)
	}
	to, err := p.parseDay(toDate, today)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid 'to' date: %w", err)
	}

	return NewDateRange(from, to, p.location)
}

func (p *DateRangeParser) parseDay(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return time.ParseInLocation(DateLayout, value, p.location)
}
