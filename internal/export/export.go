package export

import (
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"funneltrack/internal/analytics"
	"funneltrack/internal/funnels"
	"funneltrack/internal/timeframe"
	"funneltrack/internal/tracking"
)

// Format is the serialization of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat reads a format name. Anything unrecognised falls back to CSV.
func ParseFormat(s string) Format {
	if Format(strings.ToLower(strings.TrimSpace(s))) == FormatJSON {
		return FormatJSON
	}
	return FormatCSV
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Kind selects what is exported.
type Kind string

const (
	KindReport Kind = "report"
	KindEvents Kind = "events"
)

// ParseKind reads an export kind, defaulting to the step report.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindReport:
		return KindReport, nil
	case KindEvents:
		return KindEvents, nil
	}
	return "", fmt.Errorf("unknown export type %q", s)
}

// Document is a rendered export ready to be served or written to disk.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Request describes one export.
type Request struct {
	FunnelID uint
	Kind     Kind
	Format   Format
	Range    timeframe.DateRange
}

// Filename builds the attachment name, e.g. funnel-3-report-2025-03-01-2025-03-31.csv.
func (r Request) Filename() string {
	return fmt.Sprintf("funnel-%d-%s-%s-%s.%s", r.FunnelID, r.Kind, r.Range.FromDate, r.Range.ToDate, r.Format)
}

// Export renders the requested document. A missing funnel yields a
// funnels.FunnelNotFoundError.
func Export(db *gorm.DB, logger *slog.Logger, req Request) (*Document, error) {
	if req.Kind == "" {
		req.Kind = KindReport
	}
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if _, err := funnels.GetFunnel(db, req.FunnelID, false); err != nil {
		return nil, err
	}

	var body []byte
	var err error

	switch req.Kind {
	case KindEvents:
		var events []tracking.TrackingEvent
		events, err = tracking.ListFunnelEvents(db, req.FunnelID, req.Range.From, req.Range.To)
		if err != nil {
			return nil, err
		}
		if req.Format == FormatJSON {
			body, err = EventsJSON(events)
		} else {
			body, err = EventsCSV(events)
		}
	default:
		var result *analytics.FunnelAnalytics
		result, err = analytics.GetFunnelAnalytics(db, logger,
			analytics.NewFunnelScopedQueryParams(req.FunnelID, req.Range))
		if err != nil {
			return nil, err
		}
		if req.Format == FormatJSON {
			body, err = ReportJSON(result)
		} else {
			body, err = ReportCSV(result)
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Export rendered",
		slog.Uint64("funnel_id", uint64(req.FunnelID)),
		slog.String("kind", string(req.Kind)),
		slog.String("format", string(req.Format)),
		slog.Int("bytes", len(body)))

	return &Document{
		Filename:    req.Filename(),
		ContentType: req.Format.ContentType(),
		Body:        body,
	}, nil
}
