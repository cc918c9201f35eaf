// Package visitors stores the anonymous visitor identity behind every
// tracked session. A visitor is keyed by the client-generated anon id
// persisted in browser storage; upserts by anon id are idempotent so
// the tracker can call them on every page load.
package visitors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Visitor represents an anonymous (or later de-anonymized) site visitor.
type Visitor struct {
	ID        uint      `gorm:"primaryKey"`
	AnonID    string    `gorm:"uniqueIndex;size:64;not null"`
	Traits    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName keeps all analytics tables under one prefix.
func (Visitor) TableName() string { return "analytics_visitors" }

// ErrVisitorNotFound is returned when a visitor lookup fails.
var ErrVisitorNotFound = gorm.ErrRecordNotFound

// FindByAnonID retrieves a visitor by their anonymous id.
func FindByAnonID(db *gorm.DB, anonID string) (*Visitor, error) {
	var visitor Visitor
	if err := db.Where("anon_id = ?", anonID).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}

// FindByID retrieves a visitor by primary key.
func FindByID(db *gorm.DB, id uint) (*Visitor, error) {
	var visitor Visitor
	if err := db.Where("id = ?", id).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}

// ByIDs loads visitors in bulk, keyed by primary key.
func ByIDs(db *gorm.DB, ids []uint) (map[uint]Visitor, error) {
	result := make(map[uint]Visitor, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var list []Visitor
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, v := range list {
		result[v.ID] = v
	}
	return result, nil
}

// UpsertByAnonID creates the visitor row for anonID if it does not exist
// and merges the supplied traits into any existing ones. Calling it
// repeatedly with the same anonID always yields the same visitor.
func UpsertByAnonID(db *gorm.DB, logger *slog.Logger, anonID string, traits map[string]interface{}) (*Visitor, error) {
	if anonID == "" {
		return nil, errors.New("anon id cannot be empty")
	}

	existing, err := FindByAnonID(db, anonID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up visitor: %w", err)
	}

	if existing == nil {
		visitor := &Visitor{
			AnonID: anonID,
			Traits: marshalTraits(traits),
		}
		err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			// ON CONFLICT covers the tracker racing itself on a double init
			return tx.Exec(`
                INSERT INTO analytics_visitors (anon_id, traits, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(anon_id) DO NOTHING
            `, anonID, visitor.Traits, time.Now().UTC(), time.Now().UTC()).Error
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create visitor: %w", err)
		}
		return FindByAnonID(db, anonID)
	}

	if len(traits) == 0 {
		return existing, nil
	}

	merged := mergeTraits(existing.Traits, traits)
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Visitor{}).Where("id = ?", existing.ID).
			Update("traits", merged).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge visitor traits: %w", err)
	}

	existing.Traits = merged
	return existing, nil
}

// TraitsMap decodes the stored traits JSON. Invalid or empty traits
// decode to an empty map.
func (v *Visitor) TraitsMap() map[string]interface{} {
	traits := make(map[string]interface{})
	if v.Traits == "" {
		return traits
	}
	if err := json.Unmarshal([]byte(v.Traits), &traits); err != nil {
		return map[string]interface{}{}
	}
	return traits
}

func marshalTraits(traits map[string]interface{}) string {
	if len(traits) == 0 {
		return "{}"
	}
	data, err := json.Marshal(traits)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func mergeTraits(existingJSON string, incoming map[string]interface{}) string {
	merged := make(map[string]interface{})
	if existingJSON != "" {
		_ = json.Unmarshal([]byte(existingJSON), &merged)
	}
	for k, val := range incoming {
		merged[k] = val
	}
	return marshalTraits(merged)
}
