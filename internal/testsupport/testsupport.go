package testsupport

import (
	"fmt"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"revivalmetrics/internal"
	"revivalmetrics/internal/config"
	"revivalmetrics/internal/events"
	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/rollups"
	"revivalmetrics/internal/sessions"
	"revivalmetrics/internal/settings"
	"revivalmetrics/internal/users"
	"revivalmetrics/internal/visitors"
)

// SessionCookieName is the expected cookie name for admin session
// cookies in tests. Matches the pattern in routes.go: cfg.AppName + "_session"
const SessionCookieName = "revivalmetrics_session"

// testDBCache caches test databases by test name so multiple calls
// within the same test share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with this app's interface
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

// allModels returns every model for migration
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&visitors.Visitor{},
		&sessions.Session{},
		&events.Pageview{},
		&events.Event{},
		&exclusions.ExcludedUser{},
		&rollups.DailyVisitorStat{},
		&rollups.DailyEventStat{},
		&rollups.DailyReferrerStat{},
		&settings.Setting{},
		&users.User{},
	}
}

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared so multiple
// connections share the same database within a test. Caches by root
// test name so subtests reuse the outer test's database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

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

	if err := db.AutoMigrate(allModels()...); err != nil {
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

	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set REVIVALMETRICS_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	logger := GetLogger()
	dbManager := NewTestDBManager(db)

	return dbManager, logger
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}

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

// CleanAllAggregates clears the daily rollup tables
func CleanAllAggregates(db *gorm.DB) {
	db.Exec("DELETE FROM analytics_daily_visitor_stats")
	db.Exec("DELETE FROM analytics_daily_event_stats")
	db.Exec("DELETE FROM analytics_daily_referrer_stats")
}

// CreateTestVisitor creates (or finds) a visitor for the given anon id
func CreateTestVisitor(t *testing.T, db *gorm.DB, anonID string) *visitors.Visitor {
	t.Helper()

	visitor, err := visitors.UpsertByAnonID(db, GetLogger(), anonID, nil)
	require.NoError(t, err)
	return visitor
}

// CreateTestSession inserts a session row directly, bypassing
// enrichment, for tests that need full control over the columns
func CreateTestSession(t *testing.T, db *gorm.DB, visitorID uint, sessionID string, startedAt time.Time) *sessions.Session {
	t.Helper()

	session := &sessions.Session{
		SessionID:      sessionID,
		VisitorID:      visitorID,
		StartedAt:      startedAt,
		LandingPath:    "/",
		DeviceCategory: "desktop",
		BrowserName:    "Chrome",
		OSName:         "Windows",
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

// CreateTestPageview inserts a pageview row directly
func CreateTestPageview(t *testing.T, db *gorm.DB, visitorID uint, sessionID, path string, occurredAt time.Time) *events.Pageview {
	t.Helper()

	pv := &events.Pageview{
		SessionID:  sessionID,
		VisitorID:  visitorID,
		Path:       path,
		OccurredAt: occurredAt,
	}
	require.NoError(t, db.Create(pv).Error)
	return pv
}

// CreateTestEvent inserts a custom event row directly
func CreateTestEvent(t *testing.T, db *gorm.DB, visitorID uint, sessionID, name string, occurredAt time.Time) *events.Event {
	t.Helper()

	ev := &events.Event{
		SessionID:  sessionID,
		VisitorID:  visitorID,
		Name:       name,
		Properties: "{}",
		OccurredAt: occurredAt,
	}
	require.NoError(t, db.Create(ev).Error)
	return ev
}

// NewAnonID returns a fresh anonymous visitor id in the same format the
// tracker generates
func NewAnonID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh client-style session id
func NewSessionID() string {
	return uuid.NewString()
}

// CreateTestUserForAuth creates a user with a properly hashed password for auth testing
func CreateTestUserForAuth(t *testing.T, db *gorm.DB, email, password string) *users.User {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	user := &users.User{
		Email:             email,
		EncryptedPassword: string(hashedPassword),
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateMinimalTestApp creates a test Fiber app with all routes mounted
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Keep Sec-Fetch-Site validation on in tests so routes are
	// exercised with production CSRF behavior.
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// LoginTestUser logs in through the form endpoint and returns the
// admin session cookie value
func LoginTestUser(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()

	loginData := url.Values{}
	loginData.Add("email", email)
	loginData.Add("password", password)

	req := httptest.NewRequest("POST", "/login", strings.NewReader(loginData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 Test Browser")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/admin/dashboard", resp.Header.Get("Location"))

	var sessionValue string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName {
			sessionValue = cookie.Value
			break
		}
	}
	require.NotEmpty(t, sessionValue)

	return sessionValue
}
