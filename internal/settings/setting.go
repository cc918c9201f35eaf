// Package settings stores runtime-tunable key/value configuration in
// the database, next to the data it governs. Environment variables
// stay the source of truth for anything needed before the database is
// open.
package settings

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database.
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Setting keys.
const (
	// KeyCollectionEnabled pauses all ingestion when set to "false".
	KeyCollectionEnabled = "collection_enabled"
	// KeyIngestAPIKey authenticates server-side tracker clients.
	KeyIngestAPIKey = "ingest_api_key"
	// KeyAnonymizeIPs zeroes the last IPv4 octet before storage.
	KeyAnonymizeIPs = "anonymize_ips"
)

// SetupDefaultSettings seeds missing settings with their defaults.
// Existing values are never overwritten.
func SetupDefaultSettings(dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyCollectionEnabled, Value: "true"},
		{Key: KeyAnonymizeIPs, Value: "true"},
	}
	return sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, time.Now().UTC(), time.Now().UTC()).Error
			if err != nil {
				return fmt.Errorf("failed to upsert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})
}

// GetSetting retrieves a setting value from the database.
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// CreateOrUpdateSetting writes a setting, inserting the row when the
// key is new.
func CreateOrUpdateSetting(dbConn *gorm.DB, key string, value string) error {
	return sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
		if result.Error != nil {
			return fmt.Errorf("failed to update setting: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			if err := tx.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("failed to create setting: %w", err)
			}
		}
		return nil
	})
}

// IsCollectionEnabled reports whether ingestion is currently accepting
// hits. Missing or unreadable settings default to enabled.
func IsCollectionEnabled(dbConn *gorm.DB) bool {
	value, err := GetSetting(dbConn, KeyCollectionEnabled)
	if err != nil {
		return true
	}
	return value != "false"
}

// IsIPAnonymizationEnabled reports whether stored IPs get their last
// octet zeroed. Missing or unreadable settings default to enabled, so
// a broken settings table never leaks full addresses.
func IsIPAnonymizationEnabled(dbConn *gorm.DB) bool {
	value, err := GetSetting(dbConn, KeyAnonymizeIPs)
	if err != nil {
		return true
	}
	return value != "false"
}

// GetIngestAPIKey retrieves the tracker API key.
func GetIngestAPIKey(db *gorm.DB) (string, error) {
	return GetSetting(db, KeyIngestAPIKey)
}

// GetOrCreateIngestAPIKey returns the existing API key or generates one.
func GetOrCreateIngestAPIKey(db *gorm.DB) (string, error) {
	key, err := GetIngestAPIKey(db)
	if err == nil && key != "" {
		return key, nil
	}
	return RegenerateIngestAPIKey(db)
}

// RegenerateIngestAPIKey creates a new random API key, replacing any
// existing one. Tracker clients holding the old key stop authenticating.
func RegenerateIngestAPIKey(db *gorm.DB) (string, error) {
	key := generateRandomToken(32)
	if err := CreateOrUpdateSetting(db, KeyIngestAPIKey, key); err != nil {
		return "", err
	}
	return key, nil
}

// generateRandomToken creates a cryptographically secure random token.
func generateRandomToken(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[randInt(len(charset))]
	}
	return string(b)
}

// randInt returns a cryptographically secure random int in [0, max).
func randInt(max int) int {
	var buf [1]byte
	_, _ = rand.Read(buf[:])
	return int(buf[0]) % max
}

// SettingResponse represents a setting key-value pair for API responses.
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetAllSettingsForDisplay returns every setting with sensitive values
// masked for the admin settings page.
func GetAllSettingsForDisplay(db *gorm.DB) ([]SettingResponse, error) {
	var allSettings []Setting
	if err := db.Find(&allSettings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}

	result := make([]SettingResponse, 0, len(allSettings))
	for _, setting := range allSettings {
		value := setting.Value
		if setting.Key == KeyIngestAPIKey && value != "" {
			value = strings.Repeat("*", len(value))
		}
		result = append(result, SettingResponse{Key: setting.Key, Value: value})
	}
	return result, nil
}
