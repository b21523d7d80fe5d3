package v1_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funneltrack/internal/consent"
	"funneltrack/internal/settings"
	"funneltrack/internal/testsupport"
	"funneltrack/internal/tracking"
)

type trackResponse struct {
	Success          bool   `json:"success"`
	Outcome          string `json:"outcome"`
	Code             string `json:"code"`
	Field            string `json:"field"`
	Status           string `json:"status"`
	EventIDs         []uint `json:"event_ids"`
	SessionID        string `json:"session_id"`
	FunnelStepsFound int    `json:"funnel_steps_found"`
}

func withConsent(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: consent.StatusCookieName, Value: string(consent.StatusAccepted)})
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestTrackPageView(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)
	testsupport.CreateTestFunnel(t, db, "Checkout", "page", 10, "form", 20)
	testsupport.CreateTestFunnel(t, db, "Pricing", "page", 10)

	t.Run("requires analytics consent", func(t *testing.T) {
		var body trackResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{"page_id": 10})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, body.Success)
		assert.Equal(t, "CONSENT_REQUIRED", body.Code)

		var count int64
		db.Model(&tracking.TrackingEvent{}).Count(&count)
		assert.Zero(t, count)
	})

	t.Run("records one event per matching step", func(t *testing.T) {
		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{
			"page_id":    10,
			"utm_source": "Google",
		}))
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, body.Success)
		assert.Equal(t, "recorded", body.Outcome)
		assert.Len(t, body.EventIDs, 2)
		assert.Equal(t, 2, body.FunnelStepsFound)
		require.NotEmpty(t, body.SessionID)

		cookie := findCookie(resp, tracking.SessionCookieName)
		require.NotNil(t, cookie, "new sessions get a cookie")
		assert.Equal(t, body.SessionID, cookie.Value)

		var events []tracking.TrackingEvent
		require.NoError(t, db.Find(&events).Error)
		require.Len(t, events, 2)
		for _, event := range events {
			assert.Equal(t, body.SessionID, event.SessionID)
			assert.Equal(t, "Google", event.UTMSource)
		}
	})

	t.Run("reuses the session cookie", func(t *testing.T) {
		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{"page_id": 10}))
		req.AddCookie(&http.Cookie{Name: tracking.SessionCookieName, Value: "returning-visitor"})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, "returning-visitor", body.SessionID)
		assert.Nil(t, findCookie(resp, tracking.SessionCookieName))
	})

	t.Run("rejects a missing page id", func(t *testing.T) {
		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{}))
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Equal(t, "page_id", body.Field)
	})

	t.Run("unknown page", func(t *testing.T) {
		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{"page_id": 999}))
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, body.Success)
		assert.Equal(t, "no_matching_step", body.Outcome)
		assert.Equal(t, "NO_MATCHING_STEP", body.Code)
	})

	t.Run("ignores bots", func(t *testing.T) {
		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{"page_id": 10}))
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
		testsupport.DoJSON(t, app, req, &body)

		assert.True(t, body.Success)
		assert.Equal(t, "ignored", body.Outcome)
		assert.Empty(t, body.EventIDs)
	})

	t.Run("ignores excluded addresses", func(t *testing.T) {
		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, "203.0.113.77"))
		t.Cleanup(func() { _ = settings.UpdateSetting(db, settings.KeyExcludedIPs, "") })

		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{"page_id": 10}))
		req.Header.Set("X-Forwarded-For", "203.0.113.77, 10.0.0.1")
		testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, "ignored", body.Outcome)
	})

	t.Run("tracking disabled", func(t *testing.T) {
		require.NoError(t, settings.UpdateSetting(db, settings.KeyUTMTrackingEnabled, "false"))
		t.Cleanup(func() { _ = settings.UpdateSetting(db, settings.KeyUTMTrackingEnabled, "true") })

		var body trackResponse
		req := withConsent(testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/page-view", map[string]interface{}{"page_id": 10}))
		testsupport.DoJSON(t, app, req, &body)

		assert.False(t, body.Success)
		assert.Equal(t, "TRACKING_DISABLED", body.Code)
	})
}

func TestTrackFormEvents(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)
	require.NoError(t, settings.UpdateSetting(db, settings.KeyCookieConsentEnabled, "false"))
	testsupport.CreateTestFunnel(t, db, "Signup", "page", 1, "form", 42)

	t.Run("form step needs a step index", func(t *testing.T) {
		var body trackResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/form-step", map[string]interface{}{"form_id": 42})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "step_index", body.Field)
	})

	t.Run("form step", func(t *testing.T) {
		var body trackResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/form-step", map[string]interface{}{
			"form_id":     42,
			"step_index":  2,
			"total_steps": 3,
			"session_id":  "posted-session",
		})
		testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, "recorded", body.Outcome)
		assert.Equal(t, "posted-session", body.SessionID)
	})

	t.Run("form submission without consent system", func(t *testing.T) {
		var body trackResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/track/form-submission", map[string]interface{}{"form_id": 42})
		testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, "recorded", body.Outcome)
		require.Len(t, body.EventIDs, 1)

		var event tracking.TrackingEvent
		require.NoError(t, db.First(&event, body.EventIDs[0]).Error)
		assert.Equal(t, tracking.EventTypeFormSubmission, event.EventType)
	})

	t.Run("form body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/track/form-submission", strings.NewReader("form_id=42"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Sec-Fetch-Site", "cross-site")

		var body trackResponse
		testsupport.DoJSON(t, app, req, &body)
		assert.Equal(t, "recorded", body.Outcome)
	})
}

type consentResponse struct {
	Success             bool              `json:"success"`
	Status              string            `json:"status"`
	Categories          map[string]bool   `json:"categories"`
	HasAnalyticsConsent bool              `json:"has_analytics_consent"`
	HasMarketingConsent bool              `json:"has_marketing_consent"`
	GoogleConsentMode   map[string]string `json:"google_consent_mode"`
	Code                string            `json:"code"`
}

func TestConsentEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateTestApp(t, db)

	t.Run("pending without cookies", func(t *testing.T) {
		var body consentResponse
		req := testsupport.NewJSONRequest(t, http.MethodGet, "/api/v1/consent", nil)
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "pending", body.Status)
		assert.False(t, body.HasAnalyticsConsent)
		assert.True(t, body.Categories["necessary"])
		assert.Nil(t, body.GoogleConsentMode)
	})

	t.Run("customize stores a record and sets cookies", func(t *testing.T) {
		var body consentResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/consent", map[string]interface{}{
			"action":     "customize",
			"categories": map[string]bool{"analytics": true, "marketing": false},
		})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, body.Success)
		assert.Equal(t, "partial", body.Status)
		assert.True(t, body.HasAnalyticsConsent)
		assert.False(t, body.HasMarketingConsent)

		status := findCookie(resp, consent.StatusCookieName)
		require.NotNil(t, status)
		assert.Equal(t, "partial", status.Value)
		require.NotNil(t, findCookie(resp, consent.CategoriesCookieName))

		var records []consent.ConsentRecord
		require.NoError(t, db.Find(&records).Error)
		require.Len(t, records, 1)
		assert.Equal(t, consent.StatusPartial, records[0].ConsentStatus)
	})

	t.Run("cookies round trip", func(t *testing.T) {
		var posted consentResponse
		post := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/consent", map[string]interface{}{
			"action":     "customize",
			"categories": map[string]bool{"marketing": true},
		})
		resp := testsupport.DoJSON(t, app, post, &posted)

		get := testsupport.NewJSONRequest(t, http.MethodGet, "/api/v1/consent", nil)
		for _, cookie := range resp.Cookies() {
			get.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
		}
		var body consentResponse
		testsupport.DoJSON(t, app, get, &body)

		assert.Equal(t, "partial", body.Status)
		assert.False(t, body.HasAnalyticsConsent)
		assert.True(t, body.HasMarketingConsent)
	})

	t.Run("google consent mode when enabled", func(t *testing.T) {
		require.NoError(t, settings.UpdateSetting(db, settings.KeyGoogleConsentModeEnabled, "true"))
		t.Cleanup(func() { _ = settings.UpdateSetting(db, settings.KeyGoogleConsentModeEnabled, "false") })

		var body consentResponse
		req := testsupport.NewJSONRequest(t, http.MethodGet, "/api/v1/consent", nil)
		req.AddCookie(&http.Cookie{Name: consent.StatusCookieName, Value: "accepted"})
		testsupport.DoJSON(t, app, req, &body)

		require.NotNil(t, body.GoogleConsentMode)
		assert.Equal(t, "granted", body.GoogleConsentMode["analytics_storage"])
		assert.Equal(t, "granted", body.GoogleConsentMode["ad_storage"])
	})

	t.Run("invalid action", func(t *testing.T) {
		var body consentResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/consent", map[string]interface{}{"action": "maybe"})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_ACTION", body.Code)
	})

	t.Run("missing action", func(t *testing.T) {
		var body consentResponse
		req := testsupport.NewJSONRequest(t, http.MethodPost, "/api/v1/consent", map[string]interface{}{})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_ACTION", body.Code)
	})

	t.Run("clear", func(t *testing.T) {
		var body consentResponse
		req := testsupport.NewJSONRequest(t, http.MethodDelete, "/api/v1/consent", nil)
		req.AddCookie(&http.Cookie{Name: consent.StatusCookieName, Value: "accepted"})
		resp := testsupport.DoJSON(t, app, req, &body)

		assert.True(t, body.Success)
		assert.Equal(t, "pending", body.Status)
		status := findCookie(resp, consent.StatusCookieName)
		require.NotNil(t, status)
		assert.Empty(t, status.Value)
	})
}
