package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"funneltrack/internal/tracking"
)

// EventColumns is the column order of the raw event CSV.
var EventColumns = []string{
	"id", "funnel_id", "step_id", "session_id", "event_type",
	"page_id", "form_id", "form_step_index",
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"user_agent", "ip_address", "country", "created_at",
}

func optionalUint(v *uint) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func optionalInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func eventRow(e tracking.TrackingEvent) []string {
	return []string{
		strconv.FormatUint(uint64(e.ID), 10),
		strconv.FormatUint(uint64(e.FunnelID), 10),
		optionalUint(e.StepID),
		e.SessionID,
		string(e.EventType),
		optionalInt64(e.PageID),
		optionalInt64(e.FormID),
		optionalInt(e.FormStepIndex),
		e.UTMSource,
		e.UTMMedium,
		e.UTMCampaign,
		e.UTMContent,
		e.UTMTerm,
		e.UserAgent,
		e.IPAddress,
		e.Country,
		e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// WriteEventsCSV writes raw events as CSV with a header of column names.
// Nothing is written when there are no events.
func WriteEventsCSV(w io.Writer, events []tracking.TrackingEvent) error {
	if len(events) == 0 {
		return nil
	}

	buf := bufio.NewWriter(w)
	if err := writeQuotedRow(buf, EventColumns); err != nil {
		return fmt.Errorf("failed to write event header: %w", err)
	}
	for _, e := range events {
		if err := writeQuotedRow(buf, eventRow(e)); err != nil {
			return fmt.Errorf("failed to write event %d: %w", e.ID, err)
		}
	}
	return buf.Flush()
}

// EventsCSV renders raw events as CSV text.
func EventsCSV(events []tracking.TrackingEvent) ([]byte, error) {
	var out bytes.Buffer
	if err := WriteEventsCSV(&out, events); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EventsJSON renders raw events as a pretty-printed JSON array.
func EventsJSON(events []tracking.TrackingEvent) ([]byte, error) {
	if events == nil {
		events = []tracking.TrackingEvent{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode events: %w", err)
	}
	return data, nil
}
