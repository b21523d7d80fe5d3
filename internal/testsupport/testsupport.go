package testsupport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"funneltrack/internal"
	"funneltrack/internal/config"
	"funneltrack/internal/database"
	"funneltrack/internal/funnels"
	"funneltrack/internal/tracking"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()

	// SAFETY CHECK: tests only ever use in-memory databases, but never let
	// them run with a production configuration loaded.
	if cfg.IsProduction() {
		t.Fatalf("CRITICAL: Tests must not run in production! Set FUNNELTRACK_ENV=test")
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	CleanTables(db, tableNames)
}

// CleanTables deletes every row of the given tables and resets their ids.
func CleanTables(db *gorm.DB, tables []string) {
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestFunnel creates a funnel from (type, external id) pairs such as
// CreateTestFunnel(t, db, "Checkout", "page", 10, "form", 20).
func CreateTestFunnel(t *testing.T, db *gorm.DB, name string, steps ...interface{}) *funnels.Funnel {
	t.Helper()
	require.Zero(t, len(steps)%2, "steps are (type, id) pairs")

	params := make([]funnels.StepParams, 0, len(steps)/2)
	for i := 0; i < len(steps); i += 2 {
		stepType := steps[i].(string)
		id := int64(steps[i+1].(int))
		p := funnels.StepParams{StepType: stepType, StepName: fmt.Sprintf("Step %d", i/2+1)}
		if stepType == string(funnels.StepTypePage) {
			p.PageID = id
		} else {
			p.FormID = id
		}
		params = append(params, p)
	}
	inputs, err := funnels.StepInputsFromParams(params)
	require.NoError(t, err)

	funnel, err := funnels.CreateFunnel(db, GetLogger(), funnels.CreateFunnelInput{Name: name, Steps: inputs})
	require.NoError(t, err)
	return funnel
}

// CreateTestEvent inserts a tracking event for the given step directly.
func CreateTestEvent(t *testing.T, db *gorm.DB, step funnels.FunnelStep, sessionID string, at time.Time) tracking.TrackingEvent {
	t.Helper()
	stepID := step.ID
	event := tracking.TrackingEvent{
		FunnelID:  step.FunnelID,
		StepID:    &stepID,
		SessionID: sessionID,
		EventType: tracking.EventTypePageView,
		PageID:    step.PageID,
		FormID:    step.FormID,
		CreatedAt: at.UTC(),
	}
	if step.StepType == funnels.StepTypeForm {
		event.EventType = tracking.EventTypeFormSubmission
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

// CreateTestApp creates a test Fiber app with all routes mounted on the
// given database.
func CreateTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Enable SecFetchSite validation in tests to match production behavior
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// NewJSONRequest builds a browser-like request with an optional JSON body.
func NewJSONRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	return req
}

// DoJSON runs the request and decodes a JSON response body into out (when
// not nil). It returns the response for status and header checks.
func DoJSON(t *testing.T, app *fiber.App, req *http.Request, out interface{}) *http.Response {
	t.Helper()

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), "body: %s", string(body))
	}
	return resp
}
