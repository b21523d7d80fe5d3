package tracking_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"funneltrack/internal/consent"
	"funneltrack/internal/funnels"
	"funneltrack/internal/testsupport"
	"funneltrack/internal/tracking"
)

type fakeGeo map[string]string

func (g fakeGeo) CountryCode(ip string) string { return g[ip] }

type fakeBots struct{}

func (fakeBots) IsBot(ua string) bool { return strings.Contains(strings.ToLower(ua), "bot") }

func openPolicy() tracking.Policy {
	return tracking.Policy{TrackingEnabled: true, Gate: consent.Gate{Enabled: false}, StoreIP: true}
}

func setupFunnels(t *testing.T, db *gorm.DB) (*funnels.Funnel, *funnels.Funnel) {
	t.Helper()
	logger := testsupport.GetLogger()
	testsupport.CleanAllTables(db)

	signup, err := funnels.CreateFunnel(db, logger, funnels.CreateFunnelInput{
		Name: "Signup",
		Steps: []funnels.StepInput{
			{Name: "Landing", Target: funnels.PageTarget{PageID: 1}},
			{Name: "Form", Target: funnels.FormTarget{FormID: 7}},
		},
	})
	require.NoError(t, err)

	pricing, err := funnels.CreateFunnel(db, logger, funnels.CreateFunnelInput{
		Name:  "Pricing",
		Steps: []funnels.StepInput{{Name: "Landing", Target: funnels.PageTarget{PageID: 1}}},
	})
	require.NoError(t, err)

	return signup, pricing
}

func TestRecordPageView(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	recorder := tracking.NewRecorder(db, logger,
		tracking.WithGeoLocator(fakeGeo{"203.0.113.5": "DE"}),
		tracking.WithClock(func() time.Time { return fixed }))

	t.Run("one event per matching step across funnels", func(t *testing.T) {
		signup, pricing := setupFunnels(t, db)

		result, err := recorder.Record(context.Background(), openPolicy(), tracking.TrackRequest{
			EventType: tracking.EventTypePageView,
			PageID:    1,
			UTM:       tracking.UTMParams{Source: " google ", Medium: "cpc"},
			Client:    tracking.ClientContext{RequestSessionID: "abc-123"},
			IPAddress: "203.0.113.5",
			UserAgent: "Mozilla/5.0",
		})
		require.NoError(t, err)

		assert.Equal(t, tracking.OutcomeRecorded, result.Outcome)
		assert.Equal(t, 2, result.StepsFound)
		assert.Len(t, result.EventIDs, 2)
		assert.Equal(t, "abc-123", result.Session.ID)
		assert.False(t, result.Session.IsNew)

		events, err := tracking.ListFunnelEvents(db, signup.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		e := events[0]
		assert.Equal(t, signup.Steps[0].ID, *e.StepID)
		assert.Equal(t, tracking.EventTypePageView, e.EventType)
		assert.Equal(t, int64(1), *e.PageID)
		assert.Nil(t, e.FormID)
		assert.Nil(t, e.FormStepIndex)
		assert.Equal(t, "google", e.UTMSource)
		assert.Equal(t, "", e.UTMTerm)
		assert.Equal(t, "203.0.113.5", e.IPAddress)
		assert.Equal(t, "DE", e.Country)
		assert.True(t, fixed.Equal(e.CreatedAt))

		events, err = tracking.ListFunnelEvents(db, pricing.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("no matching step is a silent skip", func(t *testing.T) {
		setupFunnels(t, db)

		result, err := recorder.Record(context.Background(), openPolicy(), tracking.TrackRequest{
			EventType: tracking.EventTypePageView,
			PageID:    999,
		})
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeNoMatchingStep, result.Outcome)
		assert.Empty(t, result.EventIDs)
		assert.Zero(t, result.StepsFound)
	})

	t.Run("inactive funnels receive nothing", func(t *testing.T) {
		signup, pricing := setupFunnels(t, db)
		inactive := funnels.StatusInactive
		_, err := funnels.UpdateFunnel(db, logger, pricing.ID, funnels.UpdateFunnelPatch{Status: &inactive})
		require.NoError(t, err)

		result, err := recorder.Record(context.Background(), openPolicy(), tracking.TrackRequest{
			EventType: tracking.EventTypePageView,
			PageID:    1,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.StepsFound)

		var count int64
		db.Model(&tracking.TrackingEvent{}).Where("funnel_id = ?", signup.ID).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("ip is blanked when ip tracking is off", func(t *testing.T) {
		signup, _ := setupFunnels(t, db)
		policy := openPolicy()
		policy.StoreIP = false

		_, err := recorder.Record(context.Background(), policy, tracking.TrackRequest{
			EventType: tracking.EventTypePageView,
			PageID:    1,
			IPAddress: "203.0.113.5",
		})
		require.NoError(t, err)

		events, err := tracking.ListFunnelEvents(db, signup.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].IPAddress)
		assert.Equal(t, "DE", events[0].Country)
	})
}

func TestRecordFormEvents(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	recorder := tracking.NewRecorder(db, testsupport.GetLogger())

	t.Run("form step stores the index", func(t *testing.T) {
		signup, _ := setupFunnels(t, db)

		result, err := recorder.Record(context.Background(), openPolicy(), tracking.TrackRequest{
			EventType:  tracking.EventTypeFormStep,
			FormID:     7,
			PageID:     3,
			StepIndex:  2,
			TotalSteps: 4,
		})
		require.NoError(t, err)
		require.Equal(t, tracking.OutcomeRecorded, result.Outcome)
		assert.True(t, result.Session.IsNew)

		events, err := tracking.ListFunnelEvents(db, signup.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, tracking.EventTypeFormStep, events[0].EventType)
		assert.Equal(t, 2, *events[0].FormStepIndex)
		assert.Equal(t, int64(7), *events[0].FormID)
		assert.Equal(t, int64(3), *events[0].PageID)
		assert.Equal(t, signup.Steps[1].ID, *events[0].StepID)
	})

	t.Run("form step for an unknown form is a silent skip", func(t *testing.T) {
		setupFunnels(t, db)

		result, err := recorder.Record(context.Background(), openPolicy(), tracking.TrackRequest{
			EventType: tracking.EventTypeFormStep,
			FormID:    404,
			StepIndex: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeNoMatchingStep, result.Outcome)
	})

	t.Run("form submission", func(t *testing.T) {
		signup, _ := setupFunnels(t, db)

		result, err := recorder.Record(context.Background(), openPolicy(), tracking.TrackRequest{
			EventType: tracking.EventTypeFormSubmission,
			FormID:    7,
		})
		require.NoError(t, err)
		require.Equal(t, tracking.OutcomeRecorded, result.Outcome)

		events, err := tracking.ListFunnelEvents(db, signup.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].PageID)
		assert.Nil(t, events[0].FormStepIndex)
	})

	t.Run("server does not deduplicate repeated form steps", func(t *testing.T) {
		signup, _ := setupFunnels(t, db)
		req := tracking.TrackRequest{
			EventType: tracking.EventTypeFormStep,
			FormID:    7,
			StepIndex: 1,
			Client:    tracking.ClientContext{CookieSessionID: "same-session"},
		}
		for i := 0; i < 2; i++ {
			_, err := recorder.Record(context.Background(), openPolicy(), req)
			require.NoError(t, err)
		}

		events, err := tracking.ListFunnelEvents(db, signup.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func TestRecordGates(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	recorder := tracking.NewRecorder(db, testsupport.GetLogger(), tracking.WithBotDetector(fakeBots{}))
	setupFunnels(t, db)

	pageView := tracking.TrackRequest{EventType: tracking.EventTypePageView, PageID: 1, UserAgent: "Mozilla/5.0"}

	t.Run("tracking disabled", func(t *testing.T) {
		policy := openPolicy()
		policy.TrackingEnabled = false
		result, err := recorder.Record(context.Background(), policy, pageView)
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeTrackingDisabled, result.Outcome)
	})

	t.Run("consent required before anything is written", func(t *testing.T) {
		policy := openPolicy()
		policy.Gate = consent.Gate{Enabled: true}
		req := pageView
		req.Consent = consent.State{Status: consent.StatusDeclined}

		result, err := recorder.Record(context.Background(), policy, req)
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeConsentRequired, result.Outcome)
		assert.Empty(t, result.Session.ID)
	})

	t.Run("partial consent with analytics is enough", func(t *testing.T) {
		policy := openPolicy()
		policy.Gate = consent.Gate{Enabled: true}
		req := pageView
		req.Consent = consent.State{Status: consent.StatusPartial, Categories: map[consent.Category]bool{consent.CategoryAnalytics: true}}

		result, err := recorder.Record(context.Background(), policy, req)
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeRecorded, result.Outcome)
	})

	t.Run("excluded ip is ignored", func(t *testing.T) {
		policy := openPolicy()
		policy.IsExcludedIP = func(ip string) bool { return ip == "198.51.100.1" }
		req := pageView
		req.IPAddress = "198.51.100.1"

		result, err := recorder.Record(context.Background(), policy, req)
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeIgnored, result.Outcome)
	})

	t.Run("bots are ignored", func(t *testing.T) {
		req := pageView
		req.UserAgent = "Googlebot/2.1"
		result, err := recorder.Record(context.Background(), openPolicy(), req)
		require.NoError(t, err)
		assert.Equal(t, tracking.OutcomeIgnored, result.Outcome)
	})

	t.Run("validation errors", func(t *testing.T) {
		cases := []tracking.TrackRequest{
			{EventType: tracking.EventTypePageView, PageID: 0},
			{EventType: tracking.EventTypeFormStep, FormID: 7, StepIndex: 0},
			{EventType: tracking.EventTypeFormStep, FormID: -1, StepIndex: 1},
			{EventType: tracking.EventTypeFormSubmission},
			{EventType: "click", PageID: 1},
		}
		for _, req := range cases {
			_, err := recorder.Record(context.Background(), openPolicy(), req)
			var verr *tracking.ValidationError
			assert.True(t, errors.As(err, &verr), "expected validation error for %+v", req)
		}
	})
}
