// Package exclusions keeps opt-out tombstones for staff and other
// visitors whose traffic must never be recorded. A tombstone can name
// a server-assigned visitor id, an anon id, a session id, an IP
// address, or any combination; a hit matching any identifier is
// dropped before it reaches the stores.
package exclusions

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"revivalmetrics/internal/visitors"
)

// ExcludedUser is one exclusion tombstone. At least one identifier is set.
type ExcludedUser struct {
	ID         uint      `gorm:"primaryKey"`
	VisitorID  uint      `gorm:"index"`
	AnonID     string    `gorm:"index;size:64"`
	SessionID  string    `gorm:"index;size:64"`
	IPAddress  string    `gorm:"index;size:64"`
	Reason     string
	ExcludedBy string
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (ExcludedUser) TableName() string { return "analytics_excluded_users" }

// ErrNoIdentifier is returned when an exclusion names nothing to match.
var ErrNoIdentifier = errors.New("exclusion requires at least one identifier")

var exclusionsCache *cache.Cache[string, []ExcludedUser]

const cacheKey = "exclusions"

// InitCache wires the TTL cache that backs IsExcluded. Call once at
// startup after the database is migrated.
func InitCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]ExcludedUser, error) {
		var list []ExcludedUser
		if err := dbConn.Find(&list).Error; err != nil {
			return nil, err
		}
		return list, nil
	}
	exclusionsCache = cache.NewCache[string, []ExcludedUser](logger, 1*time.Minute, fetchFunc)
}

// Exclude records a tombstone. Duplicate identifiers are tolerated;
// each call appends its own row so removals stay independent.
func Exclude(db *gorm.DB, logger *slog.Logger, excluded *ExcludedUser) error {
	if excluded.VisitorID == 0 && excluded.AnonID == "" && excluded.SessionID == "" && excluded.IPAddress == "" {
		return ErrNoIdentifier
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(excluded).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store exclusion: %w", err)
	}

	if exclusionsCache != nil {
		exclusionsCache.Clear()
	}
	return nil
}

// RemoveExclusion deletes a tombstone by id so the visitor's future
// traffic is recorded again. Already-stored rows are untouched.
func RemoveExclusion(db *gorm.DB, logger *slog.Logger, id uint) error {
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Delete(&ExcludedUser{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to remove exclusion: %w", err)
	}

	if exclusionsCache != nil {
		exclusionsCache.Clear()
	}
	return nil
}

// List returns all tombstones, newest first.
func List(db *gorm.DB) ([]ExcludedUser, error) {
	var list []ExcludedUser
	err := db.Order("created_at DESC").Find(&list).Error
	return list, err
}

// IsExcluded reports whether any tombstone matches the given anon id,
// session id, or IP address, or a visitor-id tombstone pinning the
// visitor behind the anon id. Empty arguments never match. Lookup
// errors resolve to false: when the exclusion list cannot be read the
// hit is recorded rather than silently dropped.
func IsExcluded(db *gorm.DB, anonID, sessionID, ipAddress string) bool {
	list, err := cachedList(db)
	if err != nil {
		return false
	}

	// The visitor id behind the anon id is resolved at most once, and
	// only when some tombstone pins one.
	visitorResolved := false
	var visitorID uint

	for _, ex := range list {
		if matches(ex.AnonID, anonID) || matches(ex.SessionID, sessionID) || matches(ex.IPAddress, ipAddress) {
			return true
		}
		if ex.VisitorID != 0 && anonID != "" {
			if !visitorResolved {
				visitorResolved = true
				if v, err := visitors.FindByAnonID(db, anonID); err == nil {
					visitorID = v.ID
				}
			}
			if visitorID != 0 && ex.VisitorID == visitorID {
				return true
			}
		}
	}
	return false
}

func cachedList(db *gorm.DB) ([]ExcludedUser, error) {
	if exclusionsCache != nil {
		return exclusionsCache.Get(cacheKey)
	}

	var list []ExcludedUser
	if err := db.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func matches(stored, candidate string) bool {
	return stored != "" && candidate != "" && stored == candidate
}
