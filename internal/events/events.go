// Package events stores the append-only interaction log: pageviews and
// named custom events. Rows are never updated after insert; rollups and
// the retention job are the only other writers on these tables.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Pageview is a single page load within a session.
type Pageview struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"index;size:64;not null"`
	VisitorID  uint      `gorm:"index;not null"`
	Path       string    `gorm:"index;not null"`
	URL        string    // full URL including query string
	Title      string
	Referrer   string
	Properties string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (Pageview) TableName() string { return "analytics_pageviews" }

// Event is a named custom interaction with optional JSON properties.
type Event struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"index;size:64;not null"`
	VisitorID  uint      `gorm:"index;not null"`
	Name       string    `gorm:"index;not null"`
	Label      string
	ValueNum   *float64
	ValueText  string
	Path       string
	Properties string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (Event) TableName() string { return "analytics_events" }

// RecordPageview appends a pageview row. OccurredAt defaults to now
// when the client did not timestamp the hit.
func RecordPageview(db *gorm.DB, logger *slog.Logger, pv *Pageview) error {
	if pv.Path == "" {
		return errors.New("pageview path cannot be empty")
	}
	if pv.OccurredAt.IsZero() {
		pv.OccurredAt = time.Now().UTC()
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(pv).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store pageview: %w", err)
	}
	return nil
}

// RecordEvent appends a custom event row.
func RecordEvent(db *gorm.DB, logger *slog.Logger, ev *Event) error {
	if ev.Name == "" {
		return errors.New("event name cannot be empty")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(ev).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// PropertiesMap decodes the stored properties JSON. Invalid or empty
// properties decode to an empty map.
func (e *Event) PropertiesMap() map[string]interface{} {
	props := make(map[string]interface{})
	if e.Properties == "" {
		return props
	}
	if err := json.Unmarshal([]byte(e.Properties), &props); err != nil {
		return map[string]interface{}{}
	}
	return props
}

// MarshalProperties encodes event properties for storage. Empty maps
// store as "{}" so the column is never NULL.
func MarshalProperties(props map[string]interface{}) string {
	if len(props) == 0 {
		return "{}"
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// PageviewsForSession lists a session's pageviews oldest first, for the
// admin session detail view.
func PageviewsForSession(db *gorm.DB, sessionID string) ([]Pageview, error) {
	var list []Pageview
	err := db.Where("session_id = ?", sessionID).Order("occurred_at ASC").Find(&list).Error
	return list, err
}

// EventsForSession lists a session's custom events oldest first.
func EventsForSession(db *gorm.DB, sessionID string) ([]Event, error) {
	var list []Event
	err := db.Where("session_id = ?", sessionID).Order("occurred_at ASC").Find(&list).Error
	return list, err
}

// CountPageviewsSince returns the number of pageviews on or after the
// given instant.
func CountPageviewsSince(db *gorm.DB, since time.Time) (int64, error) {
	var count int64
	err := db.Model(&Pageview{}).Where("occurred_at >= ?", since).Count(&count).Error
	return count, err
}

// CountEventsSince returns the number of custom events on or after the
// given instant.
func CountEventsSince(db *gorm.DB, since time.Time) (int64, error) {
	var count int64
	err := db.Model(&Event{}).Where("occurred_at >= ?", since).Count(&count).Error
	return count, err
}

// DeleteOlderThan removes raw pageviews and events past the retention
// window in bounded batches so the write lock is never held long.
// Returns total rows removed across both tables.
func DeleteOlderThan(db *gorm.DB, logger *slog.Logger, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var total int64
	for _, table := range []string{"analytics_pageviews", "analytics_events"} {
		for {
			var affected int64
			err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
				result := tx.Exec(fmt.Sprintf(`
                    DELETE FROM %s WHERE id IN (
                        SELECT id FROM %s WHERE occurred_at < ? LIMIT ?
                    )
                `, table, table), cutoff, batchSize)
				affected = result.RowsAffected
				return result.Error
			})
			if err != nil {
				return total, fmt.Errorf("failed to prune %s: %w", table, err)
			}
			total += affected
			if affected < int64(batchSize) {
				break
			}
		}
	}
	return total, nil
}
