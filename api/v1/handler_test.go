package v1_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/events"
	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/sessions"
	"revivalmetrics/internal/testsupport"
	"revivalmetrics/internal/visitors"
)

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Sec-Fetch-Site", "cross-site")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", string(raw))
	}
	return resp, decoded
}

func TestUpsertUserIsIdempotent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	anonID := testsupport.NewAnonID()

	resp, first := postJSON(t, app, "/x/api/v1/users", fiber.Map{"anonId": anonID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, second := postJSON(t, app, "/x/api/v1/users", fiber.Map{"anonId": anonID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, first["userId"], second["userId"])
	assert.Equal(t, anonID, second["anonId"])

	var count int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Where("anon_id = ?", anonID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertUserMissingAnonID(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	resp, body := postJSON(t, app, "/x/api/v1/users", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request data", body["error"])

	details, ok := body["details"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, details)

	detail := details[0].(map[string]interface{})
	assert.Equal(t, "anonId", detail["field"])
	assert.Equal(t, "is required", detail["message"])
}

func TestStartSessionEchoesClientSessionID(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	sessionID := testsupport.NewSessionID()

	resp, body := postJSON(t, app, "/x/api/v1/sessions", fiber.Map{
		"anonId":      testsupport.NewAnonID(),
		"sessionId":   sessionID,
		"landingPath": "/events",
		"referrer":    "https://news.example.org/",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["sessionId"])
	assert.NotNil(t, body["userId"])

	session, err := sessions.FindBySessionID(db, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "/events", session.LandingPath)
}

func TestHeartbeatUnknownSessionCreatesNoRow(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	resp, body := postJSON(t, app, "/x/api/v1/sessions/heartbeat", fiber.Map{
		"sessionId": testsupport.NewSessionID(),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session not found", body["error"])

	var count int64
	require.NoError(t, db.Model(&sessions.Session{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestHeartbeatReturnsServerTime(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	sessionID := testsupport.NewSessionID()

	_, _ = postJSON(t, app, "/x/api/v1/sessions", fiber.Map{
		"anonId":    testsupport.NewAnonID(),
		"sessionId": sessionID,
	})

	resp, body := postJSON(t, app, "/x/api/v1/sessions/heartbeat", fiber.Map{"sessionId": sessionID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	serverTime, err := time.Parse(time.RFC3339, body["serverTime"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), serverTime, time.Minute)
}

func TestTrackPageviewRequiresPath(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	resp, body := postJSON(t, app, "/x/api/v1/pageviews", fiber.Map{
		"anonId":    testsupport.NewAnonID(),
		"sessionId": testsupport.NewSessionID(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request data", body["error"])

	details := body["details"].([]interface{})
	detail := details[0].(map[string]interface{})
	assert.Equal(t, "path", detail["field"])
}

func TestTrackPageviewAndEvent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	anonID := testsupport.NewAnonID()
	sessionID := testsupport.NewSessionID()

	resp, body := postJSON(t, app, "/x/api/v1/pageviews", fiber.Map{
		"anonId":    anonID,
		"sessionId": sessionID,
		"path":      "/events/spring-revival",
		"title":     "Spring Revival",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["id"])

	resp, body = postJSON(t, app, "/x/api/v1/events", fiber.Map{
		"anonId":     anonID,
		"sessionId":  sessionID,
		"name":       "donation_click",
		"properties": fiber.Map{"amount": 25},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["id"])

	pvs, err := events.PageviewsForSession(db, sessionID)
	require.NoError(t, err)
	require.Len(t, pvs, 1)

	evs, err := events.EventsForSession(db, sessionID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "donation_click", evs[0].Name)
	assert.Equal(t, pvs[0].VisitorID, evs[0].VisitorID)
}

func TestExcludedTrafficIsAcknowledgedButNotStored(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	anonID := testsupport.NewAnonID()

	require.NoError(t, exclusions.Exclude(db, testsupport.GetLogger(), &exclusions.ExcludedUser{
		AnonID: anonID,
		Reason: "staff",
	}))

	resp, body := postJSON(t, app, "/x/api/v1/pageviews", fiber.Map{
		"anonId":    anonID,
		"sessionId": testsupport.NewSessionID(),
		"path":      "/",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["dropped"])

	var count int64
	require.NoError(t, db.Model(&events.Pageview{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestBatchAppliesPartsInOrder(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	anonID := testsupport.NewAnonID()
	sessionID := testsupport.NewSessionID()

	resp, body := postJSON(t, app, "/x/api/v1/batch", fiber.Map{
		"user":    fiber.Map{"anonId": anonID},
		"session": fiber.Map{"anonId": anonID, "sessionId": sessionID},
		"pageviews": []fiber.Map{
			{"path": "/"},
			{"path": "/events"},
		},
		"events": []fiber.Map{
			{"name": "donation_click"},
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["processed"])

	_, err := sessions.FindBySessionID(db, sessionID)
	require.NoError(t, err)
}

// The ack combines the ids of every stored piece, so a client can map
// server ids back to what it sent.
func TestBatchAckReturnsStoredIDSets(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	anonID := testsupport.NewAnonID()
	sessionID := testsupport.NewSessionID()

	resp, body := postJSON(t, app, "/x/api/v1/batch", fiber.Map{
		"user":    fiber.Map{"anonId": anonID},
		"session": fiber.Map{"anonId": anonID, "sessionId": sessionID},
		"pageviews": []fiber.Map{
			{"path": "/"},
			{"path": "/give"},
		},
		"events": []fiber.Map{
			{"name": "signup"},
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	visitor, err := visitors.FindByAnonID(db, anonID)
	require.NoError(t, err)
	assert.EqualValues(t, visitor.ID, body["userId"])
	assert.Equal(t, sessionID, body["sessionId"])

	pageviewIDs, ok := body["pageviewIds"].([]interface{})
	require.True(t, ok)
	assert.Len(t, pageviewIDs, 2)

	eventIDs, ok := body["eventIds"].([]interface{})
	require.True(t, ok)
	assert.Len(t, eventIDs, 1)
}

func TestBatchStopsAtFirstErrorAndKeepsPrefix(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	anonID := testsupport.NewAnonID()
	sessionID := testsupport.NewSessionID()

	resp, body := postJSON(t, app, "/x/api/v1/batch", fiber.Map{
		"session": fiber.Map{"anonId": anonID, "sessionId": sessionID},
		"pageviews": []fiber.Map{
			{}, // missing path
		},
		"events": []fiber.Map{
			{"name": "never_stored"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, body["processed"])
	assert.EqualValues(t, 1, body["failedIndex"])
	assert.Equal(t, sessionID, body["sessionId"])

	// The committed prefix persists
	_, err := sessions.FindBySessionID(db, sessionID)
	require.NoError(t, err)

	// The operation after the failure was never applied
	var count int64
	require.NoError(t, db.Model(&events.Event{}).Where("name = ?", "never_stored").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// Native trackers are not browsers and send no Sec-Fetch-Site header,
// so ingestion must accept headerless POSTs.
func TestIngestionAcceptsHeaderlessClients(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	payload, err := json.Marshal(fiber.Map{"anonId": testsupport.NewAnonID()})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/x/api/v1/users", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var count int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Count(&count).Error)
	assert.NotZero(t, count)
}

func TestIngestionRejectsWrongMethod(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/x/api/v1/pageviews", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIngestionAnswersPreflight(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	for _, path := range []string{
		"/x/api/v1/users",
		"/x/api/v1/sessions",
		"/x/api/v1/sessions/heartbeat",
		"/x/api/v1/pageviews",
		"/x/api/v1/events",
		"/x/api/v1/batch",
	} {
		req := httptest.NewRequest("OPTIONS", path, nil)
		req.Header.Set("Origin", "https://example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Sec-Fetch-Site", "cross-site")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Less(t, resp.StatusCode, 400, fmt.Sprintf("preflight failed for %s", path))
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), path)
	}
}
