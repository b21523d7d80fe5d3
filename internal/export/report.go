// Package export renders funnel analytics and raw tracking events as CSV or
// JSON documents.
package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"funneltrack/internal/analytics"
	"funneltrack/internal/funnels"
)

// UnnamedStep replaces an empty step name in reports.
const UnnamedStep = "Unnamed Step"

// TimestampLayout formats first and last event times in reports.
const TimestampLayout = "2006-01-02 15:04:05"

// ReportHeader is the fixed column order of the report CSV.
var ReportHeader = []string{
	"Step Order",
	"Step Name",
	"Step Type",
	"Unique Visitors",
	"Total Events",
	"Conversion Rate %",
	"First Event",
	"Last Event",
}

var ErrMalformedReport = errors.New("malformed report")

// writeQuotedRow writes one CSV line with every field wrapped in double
// quotes. encoding/csv only quotes when needed.
func writeQuotedRow(w *bufio.Writer, fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(`"` + strings.ReplaceAll(field, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ReportRows returns the report table, header first.
func ReportRows(result *analytics.FunnelAnalytics) [][]string {
	caser := cases.Title(language.English)

	rows := make([][]string, 0, len(result.Steps)+1)
	rows = append(rows, ReportHeader)
	for _, step := range result.Steps {
		name := step.StepName
		if strings.TrimSpace(name) == "" {
			name = UnnamedStep
		}
		rows = append(rows, []string{
			strconv.Itoa(step.StepOrder),
			name,
			caser.String(string(step.StepType)),
			strconv.FormatInt(step.UniqueVisitors, 10),
			strconv.FormatInt(step.TotalEvents, 10),
			strconv.FormatFloat(step.ConversionRate, 'f', 2, 64),
			formatTimestamp(step.FirstEvent),
			formatTimestamp(step.LastEvent),
		})
	}
	return rows
}

// WriteReportCSV writes the per-step report as CSV.
func WriteReportCSV(w io.Writer, result *analytics.FunnelAnalytics) error {
	buf := bufio.NewWriter(w)
	for _, row := range ReportRows(result) {
		if err := writeQuotedRow(buf, row); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	return buf.Flush()
}

// ReportCSV renders the per-step report as CSV text.
func ReportCSV(result *analytics.FunnelAnalytics) ([]byte, error) {
	var out bytes.Buffer
	if err := WriteReportCSV(&out, result); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// ReportJSON renders the full analytics result, pretty-printed.
func ReportJSON(result *analytics.FunnelAnalytics) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// ParseReportCSV reads a report produced by WriteReportCSV back into step
// rows. The placeholder name becomes empty again and step types are lower
// cased. Conversion rates keep the two decimals of the file.
func ParseReportCSV(r io.Reader) ([]analytics.StepStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(ReportHeader)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedReport)
	}
	for i, column := range ReportHeader {
		if records[0][i] != column {
			return nil, fmt.Errorf("%w: unexpected column %q", ErrMalformedReport, records[0][i])
		}
	}

	steps := make([]analytics.StepStats, 0, len(records)-1)
	for line, record := range records[1:] {
		step, err := parseReportRow(record)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedReport, line+2, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseReportRow(record []string) (analytics.StepStats, error) {
	var step analytics.StepStats
	var err error

	if step.StepOrder, err = strconv.Atoi(record[0]); err != nil {
		return step, fmt.Errorf("step order: %w", err)
	}
	if record[1] != UnnamedStep {
		step.StepName = record[1]
	}
	step.StepType = funnels.StepType(strings.ToLower(record[2]))
	if step.UniqueVisitors, err = strconv.ParseInt(record[3], 10, 64); err != nil {
		return step, fmt.Errorf("unique visitors: %w", err)
	}
	if step.TotalEvents, err = strconv.ParseInt(record[4], 10, 64); err != nil {
		return step, fmt.Errorf("total events: %w", err)
	}
	if step.ConversionRate, err = strconv.ParseFloat(record[5], 64); err != nil {
		return step, fmt.Errorf("conversion rate: %w", err)
	}
	if step.FirstEvent, err = parseTimestamp(record[6]); err != nil {
		return step, fmt.Errorf("first event: %w", err)
	}
	if step.LastEvent, err = parseTimestamp(record[7]); err != nil {
		return step, fmt.Errorf("last event: %w", err)
	}
	return step, nil
}

func parseTimestamp(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(TimestampLayout, value, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
