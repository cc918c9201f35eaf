// Package tracker is the embedded Go client for the ingestion API.
// Go services hosting the tracker call Init once, then fire pageviews
// and events at it; everything is best-effort and a failing backend
// never propagates an error into the host application.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"revivalmetrics/internal/config"
)

// Outcome classifies what happened to a tracking call.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeDropped Outcome = "dropped"
)

// TrackingOutcome is returned instead of an error: tracking never
// fails the caller, it only reports whether the hit went out.
type TrackingOutcome struct {
	Outcome Outcome
	Reason  string
}

func sent() TrackingOutcome { return TrackingOutcome{Outcome: OutcomeSent} }

func dropped(reason string) TrackingOutcome {
	return TrackingOutcome{Outcome: OutcomeDropped, Reason: reason}
}

// PageInfo describes the page the tracker is initialized on.
type PageInfo struct {
	URL      string
	Path     string
	Title    string
	Referrer string

	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string
}

// Pageview is one page load to report.
type Pageview struct {
	URL        string
	Path       string
	Title      string
	Referrer   string
	Properties map[string]interface{}
}

// Event is one named interaction to report.
type Event struct {
	Name       string
	Label      string
	ValueNum   *float64
	ValueText  string
	Path       string
	Properties map[string]interface{}
}

// Context is a snapshot of the tracker's current identity state.
type Context struct {
	AnonID      string
	SessionID   string
	Initialized bool
	Excluded    bool
}

// Config wires a Tracker. Zero fields fall back to the application
// configuration.
type Config struct {
	// BaseURL of the ingestion server, e.g. "https://metrics.example.com".
	BaseURL string
	// StatePath is the JSON file holding the durable anon id.
	StatePath string
	// HeartbeatInterval between session keep-alives.
	HeartbeatInterval time.Duration

	// StaffEmail marks this process as belonging to an authenticated
	// staff member. When set the tracker suppresses every call and
	// registers an exclusion once via ExcludeFunc.
	StaffEmail string
	// ExcludeFunc writes the staff exclusion tombstone. Errors are
	// logged and ignored (fail-open).
	ExcludeFunc func(ctx context.Context, anonID, reason string) error

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Tracker holds the per-process analytics context. Construct it at the
// composition root and share the one instance; there is no package
// singleton.
type Tracker struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	anonID      string
	sessionID   string
	initialized bool
	excluded    bool

	heartbeatCancel context.CancelFunc
}

type trackerState struct {
	AnonID string `json:"anonId"`
}

// NewTracker builds a tracker, filling unset config fields from the
// application configuration.
func NewTracker(cfg Config) *Tracker {
	appCfg := config.GetConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = appCfg.IngestBaseURL
	}
	if cfg.StatePath == "" {
		cfg.StatePath = appCfg.TrackerStatePath
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Duration(appCfg.HeartbeatIntervalSeconds) * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Tracker{
		cfg:    cfg,
		client: cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

// Init establishes the anon id and session and emits the landing
// pageview. Idempotent: subsequent calls are no-ops. Network failures
// are logged but still leave the tracker initialized, so later calls
// can succeed once the backend recovers.
func (t *Tracker) Init(ctx context.Context, page PageInfo) {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return
	}

	t.anonID = t.loadOrCreateAnonID()
	t.sessionID = uuid.NewString()
	t.initialized = true

	if t.cfg.StaffEmail != "" {
		t.excluded = true
		anonID := t.anonID
		t.mu.Unlock()

		t.logger.Info("Tracker suppressed for staff", slog.String("email", t.cfg.StaffEmail))
		if t.cfg.ExcludeFunc != nil {
			reason := "staff: " + t.cfg.StaffEmail
			if err := t.cfg.ExcludeFunc(ctx, anonID, reason); err != nil {
				t.logger.Warn("Failed to register staff exclusion", slog.Any("error", err))
			}
		}
		return
	}

	anonID := t.anonID
	sessionID := t.sessionID
	t.mu.Unlock()

	if err := t.post(ctx, "/x/api/v1/users", map[string]interface{}{
		"anonId": anonID,
	}); err != nil {
		t.logger.Warn("Tracker user upsert failed", slog.Any("error", err))
	}

	if err := t.post(ctx, "/x/api/v1/sessions", map[string]interface{}{
		"anonId":      anonID,
		"sessionId":   sessionID,
		"landingPage": page.URL,
		"landingPath": page.Path,
		"referrer":    page.Referrer,
		"utmSource":   page.UTMSource,
		"utmMedium":   page.UTMMedium,
		"utmCampaign": page.UTMCampaign,
		"utmTerm":     page.UTMTerm,
		"utmContent":  page.UTMContent,
	}); err != nil {
		t.logger.Warn("Tracker session start failed", slog.Any("error", err))
	}

	if page.Path != "" {
		t.TrackPageview(ctx, Pageview{
			URL:      page.URL,
			Path:     page.Path,
			Title:    page.Title,
			Referrer: page.Referrer,
		})
	}

	t.startHeartbeat()
}

// TrackPageview reports one page load. Never returns an error; the
// outcome says whether the hit was delivered.
func (t *Tracker) TrackPageview(ctx context.Context, pv Pageview) TrackingOutcome {
	anonID, sessionID, outcome, ok := t.callState()
	if !ok {
		return outcome
	}

	err := t.post(ctx, "/x/api/v1/pageviews", map[string]interface{}{
		"anonId":     anonID,
		"sessionId":  sessionID,
		"url":        pv.URL,
		"path":       pv.Path,
		"title":      pv.Title,
		"referrer":   pv.Referrer,
		"properties": pv.Properties,
	})
	if err != nil {
		t.logger.Warn("Tracker pageview failed", slog.Any("error", err))
		return dropped("delivery failed")
	}
	return sent()
}

// TrackEvent reports one named interaction.
func (t *Tracker) TrackEvent(ctx context.Context, ev Event) TrackingOutcome {
	anonID, sessionID, outcome, ok := t.callState()
	if !ok {
		return outcome
	}
	if ev.Name == "" {
		return dropped("event name is empty")
	}

	err := t.post(ctx, "/x/api/v1/events", map[string]interface{}{
		"anonId":     anonID,
		"sessionId":  sessionID,
		"name":       ev.Name,
		"label":      ev.Label,
		"valueNum":   ev.ValueNum,
		"valueText":  ev.ValueText,
		"path":       ev.Path,
		"properties": ev.Properties,
	})
	if err != nil {
		t.logger.Warn("Tracker event failed", slog.Any("error", err))
		return dropped("delivery failed")
	}
	return sent()
}

// Reset ends the current session and clears the in-memory context.
// The persisted anon id survives, so the visitor stays recognizable.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	sessionID := t.sessionID
	wasInitialized := t.initialized && !t.excluded
	t.sessionID = ""
	t.initialized = false
	t.excluded = false
	cancel := t.heartbeatCancel
	t.heartbeatCancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if wasInitialized && sessionID != "" {
		if err := t.post(ctx, "/x/api/v1/sessions/end", map[string]interface{}{
			"sessionId": sessionID,
		}); err != nil {
			t.logger.Warn("Tracker session end failed", slog.Any("error", err))
		}
	}
}

// Context returns a snapshot of the current identity state.
func (t *Tracker) Context() Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Context{
		AnonID:      t.anonID,
		SessionID:   t.sessionID,
		Initialized: t.initialized,
		Excluded:    t.excluded,
	}
}

// callState snapshots the identifiers for a tracking call and rejects
// calls that cannot go out.
func (t *Tracker) callState() (anonID, sessionID string, outcome TrackingOutcome, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return "", "", dropped("tracker not initialized"), false
	}
	if t.excluded {
		return "", "", dropped("excluded"), false
	}
	return t.anonID, t.sessionID, TrackingOutcome{}, true
}

func (t *Tracker) startHeartbeat() {
	t.mu.Lock()
	if t.heartbeatCancel != nil {
		t.mu.Unlock()
		return
	}
	hbCtx, cancel := context.WithCancel(context.Background())
	t.heartbeatCancel = cancel
	sessionID := t.sessionID
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := t.post(hbCtx, "/x/api/v1/sessions/heartbeat", map[string]interface{}{
					"sessionId": sessionID,
				})
				if err == nil {
					continue
				}
				var se *statusError
				if errors.As(err, &se) && se.code == http.StatusNotFound {
					// The backend no longer knows this session.
					// Keeping it alive is pointless, so drop the
					// in-memory identity; the host's next Init
					// starts a fresh session.
					t.logger.Info("Tracker session expired", slog.String("sessionId", sessionID))
					t.expireSession(sessionID)
					return
				}
				t.logger.Debug("Tracker heartbeat failed", slog.Any("error", err))
			case <-hbCtx.Done():
				return
			}
		}
	}()
}

// expireSession clears the session after the backend stops recognizing
// it. The anon id survives. No-op when the session already changed.
func (t *Tracker) expireSession(sessionID string) {
	t.mu.Lock()
	if t.sessionID != sessionID {
		t.mu.Unlock()
		return
	}
	t.sessionID = ""
	t.initialized = false
	cancel := t.heartbeatCancel
	t.heartbeatCancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// loadOrCreateAnonID reads the durable anon id, minting and persisting
// a fresh uuid when the state file is missing or unreadable. Persist
// failures are tolerated; the id just won't survive a restart.
func (t *Tracker) loadOrCreateAnonID() string {
	if data, err := os.ReadFile(t.cfg.StatePath); err == nil {
		var state trackerState
		if err := json.Unmarshal(data, &state); err == nil && state.AnonID != "" {
			return state.AnonID
		}
	}

	anonID := uuid.NewString()
	state := trackerState{AnonID: anonID}
	data, err := json.Marshal(state)
	if err != nil {
		return anonID
	}
	if err := os.MkdirAll(filepath.Dir(t.cfg.StatePath), 0o755); err != nil {
		t.logger.Warn("Failed to create tracker state directory", slog.Any("error", err))
		return anonID
	}
	if err := os.WriteFile(t.cfg.StatePath, data, 0o600); err != nil {
		t.logger.Warn("Failed to persist tracker state", slog.Any("error", err))
	}
	return anonID
}

func (t *Tracker) post(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}
	return nil
}

// statusError preserves the backend's status code so callers can react
// to specific responses.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return "backend responded " + e.status }
