package timeframe

import (
	"fmt"
	"time"
)

// DateLayout is the only accepted date format, a calendar day.
const DateLayout = "2006-01-02"

// DefaultLookbackDays is how far back a range starts when no from date is given.
const DefaultLookbackDays = 30

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock
type DefaultTimeProvider struct{}

// Now returns the current time in loc
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// DateRange is an inclusive range of whole days in the server location.
// From is the start of the first day and To the last instant of the last
// day, both in UTC.
type DateRange struct {
	FromDate string
	ToDate   string
	From     time.Time
	To       time.Time
	Location *time.Location
}

// NewDateRange builds the range covering every day from fromDay to toDay in loc.
func NewDateRange(fromDay, toDay time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.Local
	}
	fromDay = fromDay.In(loc)
	toDay = toDay.In(loc)

	start := time.Date(fromDay.Year(), fromDay.Month(), fromDay.Day(), 0, 0, 0, 0, loc)
	end := time.Date(toDay.Year(), toDay.Month(), toDay.Day(), 23, 59, 59, 999999999, loc)
	if start.After(end) {
		return DateRange{}, fmt.Errorf("from date %s is after to date %s",
			start.Format(DateLayout), end.Format(DateLayout))
	}

	return DateRange{
		FromDate: start.Format(DateLayout),
		ToDate:   end.Format(DateLayout),
		From:     start.UTC(),
		To:       end.UTC(),
		Location: loc,
	}, nil
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Days returns every calendar day of the range in order.
func (r DateRange) Days() []string {
	var days []string
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	for d := r.From.In(loc); !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// DayOf returns the calendar day of t in the range's location.
func (r DateRange) DayOf(t time.Time) string {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
