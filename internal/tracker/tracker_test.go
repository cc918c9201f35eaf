package tracker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/tracker"
)

type recordedCall struct {
	Path    string
	Payload map[string]interface{}
}

// ingestRecorder fakes the ingestion backend and records every call.
type ingestRecorder struct {
	mu        sync.Mutex
	calls     []recordedCall
	failAll   bool
	gonePaths map[string]bool
	received  chan string
}

func newIngestRecorder() *ingestRecorder {
	return &ingestRecorder{received: make(chan string, 64)}
}

func (r *ingestRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var payload map[string]interface{}
	_ = json.NewDecoder(req.Body).Decode(&payload)

	r.mu.Lock()
	r.calls = append(r.calls, recordedCall{Path: req.URL.Path, Payload: payload})
	failAll := r.failAll
	gone := r.gonePaths[req.URL.Path]
	r.mu.Unlock()

	select {
	case r.received <- req.URL.Path:
	default:
	}

	if failAll {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if gone {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Session not found"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (r *ingestRecorder) recorded() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func newTestTracker(t *testing.T, baseURL string) *tracker.Tracker {
	t.Helper()
	return tracker.NewTracker(tracker.Config{
		BaseURL:           baseURL,
		StatePath:         filepath.Join(t.TempDir(), "tracker-state.json"),
		HeartbeatInterval: time.Hour,
	})
}

func TestInitFiresCallsInOrder(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := newTestTracker(t, server.URL)
	tr.Init(context.Background(), tracker.PageInfo{
		URL:   "https://example.com/",
		Path:  "/",
		Title: "Home",
	})

	calls := recorder.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, "/x/api/v1/users", calls[0].Path)
	assert.Equal(t, "/x/api/v1/sessions", calls[1].Path)
	assert.Equal(t, "/x/api/v1/pageviews", calls[2].Path)

	anonID := calls[0].Payload["anonId"]
	require.NotEmpty(t, anonID)
	assert.Equal(t, anonID, calls[1].Payload["anonId"])
	assert.Equal(t, anonID, calls[2].Payload["anonId"])

	sessionID := calls[1].Payload["sessionId"]
	require.NotEmpty(t, sessionID)
	assert.Equal(t, sessionID, calls[2].Payload["sessionId"])

	snapshot := tr.Context()
	assert.True(t, snapshot.Initialized)
	assert.Equal(t, anonID, snapshot.AnonID)
	assert.Equal(t, sessionID, snapshot.SessionID)
}

func TestInitIsIdempotent(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := newTestTracker(t, server.URL)
	page := tracker.PageInfo{URL: "https://example.com/", Path: "/"}
	tr.Init(context.Background(), page)
	tr.Init(context.Background(), page)

	assert.Len(t, recorder.recorded(), 3)
}

func TestAnonIDSurvivesRestart(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "tracker-state.json")
	cfg := tracker.Config{
		BaseURL:           server.URL,
		StatePath:         statePath,
		HeartbeatInterval: time.Hour,
	}

	first := tracker.NewTracker(cfg)
	first.Init(context.Background(), tracker.PageInfo{Path: "/"})
	firstID := first.Context().AnonID
	require.NotEmpty(t, firstID)

	second := tracker.NewTracker(cfg)
	second.Init(context.Background(), tracker.PageInfo{Path: "/"})

	assert.Equal(t, firstID, second.Context().AnonID)
	assert.NotEqual(t, first.Context().SessionID, second.Context().SessionID)
}

func TestTrackBeforeInitIsDropped(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := newTestTracker(t, server.URL)
	outcome := tr.TrackPageview(context.Background(), tracker.Pageview{Path: "/"})

	assert.Equal(t, tracker.OutcomeDropped, outcome.Outcome)
	assert.Empty(t, recorder.recorded())
}

func TestTrackEventOutcomes(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := newTestTracker(t, server.URL)
	tr.Init(context.Background(), tracker.PageInfo{Path: "/"})

	outcome := tr.TrackEvent(context.Background(), tracker.Event{Name: "register_click"})
	assert.Equal(t, tracker.OutcomeSent, outcome.Outcome)

	recorder.mu.Lock()
	recorder.failAll = true
	recorder.mu.Unlock()

	outcome = tr.TrackEvent(context.Background(), tracker.Event{Name: "register_click"})
	assert.Equal(t, tracker.OutcomeDropped, outcome.Outcome)
	assert.NotEmpty(t, outcome.Reason)
}

func TestStaffTrackerIsSuppressed(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	var excludedAnonID string
	excludeCalls := 0
	tr := tracker.NewTracker(tracker.Config{
		BaseURL:           server.URL,
		StatePath:         filepath.Join(t.TempDir(), "tracker-state.json"),
		HeartbeatInterval: time.Hour,
		StaffEmail:        "admin@example.com",
		ExcludeFunc: func(ctx context.Context, anonID, reason string) error {
			excludedAnonID = anonID
			excludeCalls++
			return nil
		},
	})

	tr.Init(context.Background(), tracker.PageInfo{Path: "/"})

	assert.Equal(t, 1, excludeCalls)
	assert.NotEmpty(t, excludedAnonID)
	assert.Empty(t, recorder.recorded(), "staff traffic must never reach the backend")

	outcome := tr.TrackPageview(context.Background(), tracker.Pageview{Path: "/"})
	assert.Equal(t, tracker.OutcomeDropped, outcome.Outcome)
	assert.Equal(t, "excluded", outcome.Reason)
}

func TestResetEndsSessionAndKeepsAnonID(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := newTestTracker(t, server.URL)
	tr.Init(context.Background(), tracker.PageInfo{Path: "/"})
	sessionID := tr.Context().SessionID

	tr.Reset(context.Background())

	calls := recorder.recorded()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, "/x/api/v1/sessions/end", last.Path)
	assert.Equal(t, sessionID, last.Payload["sessionId"])

	snapshot := tr.Context()
	assert.False(t, snapshot.Initialized)
	assert.Empty(t, snapshot.SessionID)
	assert.NotEmpty(t, snapshot.AnonID)
}

func TestHeartbeatGoneSessionClearsTracker(t *testing.T) {
	recorder := newIngestRecorder()
	recorder.gonePaths = map[string]bool{"/x/api/v1/sessions/heartbeat": true}
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := tracker.NewTracker(tracker.Config{
		BaseURL:           server.URL,
		StatePath:         filepath.Join(t.TempDir(), "tracker-state.json"),
		HeartbeatInterval: 20 * time.Millisecond,
	})
	tr.Init(context.Background(), tracker.PageInfo{Path: "/"})
	firstSession := tr.Context().SessionID

	// The backend answers 404 for the session; the tracker must drop
	// its identity instead of heartbeating a dead session forever.
	deadline := time.Now().Add(2 * time.Second)
	for tr.Context().Initialized {
		if time.Now().After(deadline) {
			t.Fatal("tracker never dropped the expired session")
		}
		time.Sleep(10 * time.Millisecond)
	}

	outcome := tr.TrackPageview(context.Background(), tracker.Pageview{Path: "/"})
	assert.Equal(t, tracker.OutcomeDropped, outcome.Outcome)

	// A later Init mints a fresh session for the same visitor.
	tr.Init(context.Background(), tracker.PageInfo{Path: "/"})
	defer tr.Reset(context.Background())
	snapshot := tr.Context()
	assert.True(t, snapshot.Initialized)
	assert.NotEmpty(t, snapshot.SessionID)
	assert.NotEqual(t, firstSession, snapshot.SessionID)
}

func TestHeartbeatKeepsFiring(t *testing.T) {
	recorder := newIngestRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	tr := tracker.NewTracker(tracker.Config{
		BaseURL:           server.URL,
		StatePath:         filepath.Join(t.TempDir(), "tracker-state.json"),
		HeartbeatInterval: 20 * time.Millisecond,
	})
	tr.Init(context.Background(), tracker.PageInfo{Path: "/"})
	defer tr.Reset(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case path := <-recorder.received:
			if path == "/x/api/v1/sessions/heartbeat" {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat observed")
		}
	}
}
