// Package tracking stores funnel tracking events and resolves visitor
// sessions.
//
// Multi-step form deduplication is client-side only: the tracking script
// remembers which (form, step index) pairs it already sent in the current
// browser session and skips them. The server records every call it accepts,
// so a form step is recorded at most once per browser session on a best
// effort basis and never deduplicated server-side.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"funneltrack/internal/consent"
	"funneltrack/internal/funnels"
)

// Outcome tells the caller what happened to a tracking call. Only
// OutcomeNotRecorded comes with an error.
type Outcome string

const (
	OutcomeRecorded         Outcome = "recorded"
	OutcomeNoMatchingStep   Outcome = "no_matching_step"
	OutcomeConsentRequired  Outcome = "consent_required"
	OutcomeTrackingDisabled Outcome = "tracking_disabled"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeNotRecorded      Outcome = "not_recorded"
)

// ErrPersistence wraps storage failures while writing events.
var ErrPersistence = errors.New("failed to persist tracking events")

// ValidationError reports malformed tracking input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GeoLocator resolves a client IP to an ISO country code, "" when unknown.
type GeoLocator interface {
	CountryCode(ip string) string
}

// BotDetector recognises automated user agents.
type BotDetector interface {
	IsBot(userAgent string) bool
}

// Policy is the runtime configuration a tracking call is evaluated against.
type Policy struct {
	TrackingEnabled bool
	Gate            consent.Gate
	StoreIP         bool
	IsExcludedIP    func(ip string) bool
}

// TrackRequest is a single tracking call with everything known about the
// client. Consent is the client's current consent state, read by the caller.
type TrackRequest struct {
	EventType  EventType
	PageID     int64
	FormID     int64
	StepIndex  int
	TotalSteps int
	UTM        UTMParams
	Client     ClientContext
	Consent    consent.State
	IPAddress  string
	UserAgent  string
}

// RecordResult describes the outcome of Record. Session is empty unless the
// call got past the consent gate.
type RecordResult struct {
	Outcome    Outcome
	EventIDs   []uint
	Session    Session
	StepsFound int
}

// Recorder validates tracking calls, applies the policy, and appends one
// event per matching funnel step. It is safe for concurrent use.
type Recorder struct {
	db       *gorm.DB
	logger   *slog.Logger
	sessions *SessionResolver
	geo      GeoLocator
	bots     BotDetector
	now      func() time.Time
}

// RecorderOption customizes a Recorder
type RecorderOption func(*Recorder)

// WithGeoLocator enables country enrichment.
func WithGeoLocator(geo GeoLocator) RecorderOption {
	return func(r *Recorder) { r.geo = geo }
}

// WithBotDetector makes the recorder ignore bot traffic.
func WithBotDetector(bots BotDetector) RecorderOption {
	return func(r *Recorder) { r.bots = bots }
}

// WithSessionResolver replaces the default session resolver.
func WithSessionResolver(sessions *SessionResolver) RecorderOption {
	return func(r *Recorder) { r.sessions = sessions }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(db *gorm.DB, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		db:       db,
		logger:   logger,
		sessions: NewSessionResolver(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validateRequest(req TrackRequest) error {
	switch req.EventType {
	case EventTypePageView:
		if req.PageID <= 0 {
			return &ValidationError{Field: "page_id", Message: "must be a positive integer"}
		}
	case EventTypeFormStep:
		if req.FormID <= 0 {
			return &ValidationError{Field: "form_id", Message: "must be a positive integer"}
		}
		if req.StepIndex <= 0 {
			return &ValidationError{Field: "step_index", Message: "must be a positive integer"}
		}
	case EventTypeFormSubmission:
		if req.FormID <= 0 {
			return &ValidationError{Field: "form_id", Message: "must be a positive integer"}
		}
	default:
		return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", req.EventType)}
	}
	return nil
}

// Record evaluates the tracking gates in order (tracking enabled, analytics
// consent, input shape, excluded IPs and bots, step lookup) and writes the
// events. A storage failure is returned wrapped in ErrPersistence together
// with a non-nil result so the caller can still answer the client.
func (r *Recorder) Record(ctx context.Context, policy Policy, req TrackRequest) (*RecordResult, error) {
	if !policy.TrackingEnabled {
		return &RecordResult{Outcome: OutcomeTrackingDisabled}, nil
	}
	if !policy.Gate.HasConsent(req.Consent, consent.CategoryAnalytics) {
		return &RecordResult{Outcome: OutcomeConsentRequired}, nil
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if policy.IsExcludedIP != nil && req.IPAddress != "" && policy.IsExcludedIP(req.IPAddress) {
		r.logger.Debug("Ignoring tracking call from excluded IP", slog.String("ip", req.IPAddress))
		return &RecordResult{Outcome: OutcomeIgnored}, nil
	}
	if r.bots != nil && r.bots.IsBot(req.UserAgent) {
		r.logger.Debug("Ignoring tracking call from bot", slog.String("user_agent", req.UserAgent))
		return &RecordResult{Outcome: OutcomeIgnored}, nil
	}

	session := r.sessions.Resolve(req.Client)
	result := &RecordResult{Session: session, EventIDs: []uint{}}

	db := r.db.WithContext(ctx)
	var steps []funnels.FunnelStep
	var err error
	if req.EventType == EventTypePageView {
		steps, err = funnels.FindActiveStepsForPage(db, req.PageID)
	} else {
		steps, err = funnels.FindActiveStepsForForm(db, req.FormID)
	}
	if err != nil {
		result.Outcome = OutcomeNotRecorded
		return result, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	result.StepsFound = len(steps)
	if len(steps) == 0 {
		result.Outcome = OutcomeNoMatchingStep
		return result, nil
	}

	rows := r.buildEvents(policy, req, session, steps)
	err = sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		r.logger.Error("Failed to record tracking events",
			slog.String("event_type", string(req.EventType)),
			slog.Int("steps", len(steps)),
			slog.Any("error", err))
		result.Outcome = OutcomeNotRecorded
		return result, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	for _, row := range rows {
		result.EventIDs = append(result.EventIDs, row.ID)
	}
	result.Outcome = OutcomeRecorded

	r.logger.Debug("Tracking events recorded",
		slog.String("event_type", string(req.EventType)),
		slog.String("session_id", session.ID),
		slog.Int("events", len(rows)))

	return result, nil
}

func (r *Recorder) buildEvents(policy Policy, req TrackRequest, session Session, steps []funnels.FunnelStep) []TrackingEvent {
	utm := req.UTM.Normalize()
	now := r.now().UTC()

	var country string
	if r.geo != nil && req.IPAddress != "" {
		country = r.geo.CountryCode(req.IPAddress)
	}
	ip := ""
	if policy.StoreIP {
		ip = req.IPAddress
	}

	var pageID, formID *int64
	if req.PageID > 0 {
		id := req.PageID
		pageID = &id
	}
	if req.EventType != EventTypePageView {
		id := req.FormID
		formID = &id
	}
	var stepIndex *int
	if req.EventType == EventTypeFormStep {
		idx := req.StepIndex
		stepIndex = &idx
	}

	rows := make([]TrackingEvent, 0, len(steps))
	for _, step := range steps {
		stepID := step.ID
		rows = append(rows, TrackingEvent{
			FunnelID:      step.FunnelID,
			StepID:        &stepID,
			SessionID:     session.ID,
			EventType:     req.EventType,
			PageID:        pageID,
			FormID:        formID,
			FormStepIndex: stepIndex,
			UTMSource:     utm.Source,
			UTMMedium:     utm.Medium,
			UTMCampaign:   utm.Campaign,
			UTMContent:    utm.Content,
			UTMTerm:       utm.Term,
			UserAgent:     req.UserAgent,
			IPAddress:     ip,
			Country:       country,
			CreatedAt:     now,
		})
	}
	return rows
}
