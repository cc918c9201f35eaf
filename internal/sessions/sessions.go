// Package sessions implements the visit lifecycle: a session starts on
// the first page load, is kept alive by heartbeats that push EndedAt
// forward, and is closed by an explicit end signal or by the stale
// session job once the inactivity window has passed.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"revivalmetrics/internal/pkg/geoip"
	"revivalmetrics/internal/pkg/iputil"
	"revivalmetrics/internal/pkg/useragent"
	"revivalmetrics/internal/settings"
	"revivalmetrics/internal/visitors"
)

// Session represents one continuous visit by a single visitor.
// SessionID is client-generated; there is at most one row per SessionID.
type Session struct {
	ID        uint       `gorm:"primaryKey"`
	SessionID string     `gorm:"uniqueIndex;size:64;not null"`
	VisitorID uint       `gorm:"index;not null"`
	StartedAt time.Time  `gorm:"index;not null"`
	EndedAt   *time.Time `gorm:"index"`

	LandingPage string
	LandingPath string `gorm:"index"`
	Referrer    string `gorm:"index"`

	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string

	DeviceCategory string `gorm:"index"`
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string

	Country   string `gorm:"index"`
	Region    string
	City      string
	IPAddress string
	IsBot     bool `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName keeps all analytics tables under one prefix.
func (Session) TableName() string { return "analytics_sessions" }

// ErrSessionNotFound is returned when an update targets an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// StartInput carries everything the start-session endpoint accepts.
// Device and geo fields are optional; missing ones are derived
// server-side from UserAgent and IPAddress.
type StartInput struct {
	AnonID    string
	SessionID string

	LandingPage string
	LandingPath string
	Referrer    string

	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string

	DeviceCategory string
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string

	UserAgent string
	IPAddress string
}

// Start inserts the session row for input.SessionID, resolving the
// visitor by anon id (creating it when needed) and enriching device,
// bot, and geo fields server-side when the caller did not supply them.
// A duplicate SessionID is not an error: the existing row wins and is
// returned, preserving the one-row-per-session invariant under the
// tracker racing itself.
func Start(db *gorm.DB, logger *slog.Logger, input *StartInput) (*Session, *visitors.Visitor, error) {
	if input.SessionID == "" {
		return nil, nil, errors.New("session id cannot be empty")
	}

	visitor, err := visitors.UpsertByAnonID(db, logger, input.AnonID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve visitor: %w", err)
	}

	session := &Session{
		SessionID:      input.SessionID,
		VisitorID:      visitor.ID,
		StartedAt:      time.Now().UTC(),
		LandingPage:    input.LandingPage,
		LandingPath:    input.LandingPath,
		Referrer:       input.Referrer,
		UTMSource:      input.UTMSource,
		UTMMedium:      input.UTMMedium,
		UTMCampaign:    input.UTMCampaign,
		UTMTerm:        input.UTMTerm,
		UTMContent:     input.UTMContent,
		DeviceCategory: input.DeviceCategory,
		BrowserName:    input.BrowserName,
		BrowserVersion: input.BrowserVersion,
		OSName:         input.OSName,
		OSVersion:      input.OSVersion,
	}

	if session.DeviceCategory == "" || session.BrowserName == "" {
		parsed := useragent.Parse(input.UserAgent)
		if session.DeviceCategory == "" {
			session.DeviceCategory = parsed.Category
		}
		if session.BrowserName == "" {
			session.BrowserName = parsed.BrowserName
			session.BrowserVersion = parsed.BrowserVersion
		}
		if session.OSName == "" {
			session.OSName = parsed.OSName
			session.OSVersion = parsed.OSVersion
		}
		session.IsBot = parsed.IsBot
	} else if useragent.IsBot(input.UserAgent) {
		session.IsBot = true
	}

	if input.IPAddress != "" {
		loc := geoip.Lookup(input.IPAddress)
		session.Country = loc.Country
		session.Region = loc.Region
		session.City = loc.City

		if settings.IsIPAnonymizationEnabled(db) {
			session.IPAddress = iputil.Anonymize(input.IPAddress)
		} else {
			session.IPAddress = input.IPAddress
		}
	}

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("session_id = ?", session.SessionID).FirstOrCreate(session)
		return result.Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store session: %w", err)
	}

	return session, visitor, nil
}

// Heartbeat extends EndedAt to now for an open session. It is
// update-only: an unknown session id affects nothing and returns
// ErrSessionNotFound, never an insert. EndedAt only moves forward.
func Heartbeat(db *gorm.DB, logger *slog.Logger, sessionID string) (time.Time, error) {
	now := time.Now().UTC()

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("session_id = ? AND (ended_at IS NULL OR ended_at < ?)", sessionID, now).
			Update("ended_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Either unknown or already extended past now; only the
			// former is an error.
			var count int64
			if err := tx.Model(&Session{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrSessionNotFound
			}
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	return now, nil
}

// End closes the session by fixing EndedAt at now. Like Heartbeat it is
// update-only and keeps EndedAt monotonically non-decreasing.
func End(db *gorm.DB, logger *slog.Logger, sessionID string) error {
	now := time.Now().UTC()

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("session_id = ? AND (ended_at IS NULL OR ended_at < ?)", sessionID, now).
			Update("ended_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Session{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrSessionNotFound
			}
		}
		return nil
	})
}

// ContextUpdate holds the optional fields of update-session-context.
// Nil pointers are left untouched; only supplied fields are written.
type ContextUpdate struct {
	Country *string
	Region  *string
	City    *string

	DeviceCategory *string
	BrowserName    *string
	BrowserVersion *string
	OSName         *string
	OSVersion      *string

	UTMSource   *string
	UTMMedium   *string
	UTMCampaign *string
	UTMTerm     *string
	UTMContent  *string
}

// UpdateContext partially updates a session row with whichever fields
// the caller supplied. Unknown session ids return ErrSessionNotFound.
func UpdateContext(db *gorm.DB, logger *slog.Logger, sessionID string, update *ContextUpdate) error {
	fields := update.fields()
	if len(fields) == 0 {
		return nil
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).Where("session_id = ?", sessionID).Updates(fields)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

func (u *ContextUpdate) fields() map[string]interface{} {
	fields := make(map[string]interface{})
	set := func(column string, value *string) {
		if value != nil {
			fields[column] = *value
		}
	}

	set("country", u.Country)
	set("region", u.Region)
	set("city", u.City)
	set("device_category", u.DeviceCategory)
	set("browser_name", u.BrowserName)
	set("browser_version", u.BrowserVersion)
	set("os_name", u.OSName)
	set("os_version", u.OSVersion)
	set("utm_source", u.UTMSource)
	set("utm_medium", u.UTMMedium)
	set("utm_campaign", u.UTMCampaign)
	set("utm_term", u.UTMTerm)
	set("utm_content", u.UTMContent)

	return fields
}

// FindBySessionID retrieves a session by its client-generated id.
func FindBySessionID(db *gorm.DB, sessionID string) (*Session, error) {
	var session Session
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListRecent returns the newest sessions for the admin sessions list.
func ListRecent(db *gorm.DB, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []Session
	err := db.Order("started_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

// CountActive counts sessions seen after the given instant. EndedAt
// doubles as last-seen because heartbeats advance it.
func CountActive(db *gorm.DB, since time.Time) (int64, error) {
	var count int64
	err := db.Model(&Session{}).
		Where("ended_at IS NULL AND started_at >= ?", since).
		Or("ended_at >= ?", since).
		Count(&count).Error
	return count, err
}

// CloseStale closes sessions that never reported a heartbeat or end
// signal and started before cutoff. Their EndedAt falls back to
// StartedAt since no later activity was ever observed. Returns the
// number of sessions closed.
func CloseStale(db *gorm.DB, logger *slog.Logger, cutoff time.Time) (int64, error) {
	var closed int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("ended_at IS NULL AND started_at < ?", cutoff).
			Update("ended_at", gorm.Expr("started_at"))
		closed = result.RowsAffected
		return result.Error
	})
	return closed, err
}
