package prefs

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeySoundEnabled gates the audible order alert.
const KeySoundEnabled = "notification_sound_enabled"

var errMissingDatabase = errors.New("database handle is required")

// Preference models one persisted user-preference row.
type Preference struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:value;size:190;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Preference) TableName() string {
	return "preferences"
}

// Store persists key/value user preferences.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a preference store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// GetBool reads a boolean preference, returning fallback when the key is absent
// or unparseable.
func (s *Store) GetBool(ctx context.Context, key string, fallback bool) bool {
	var record Preference
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&record).Error
	if err != nil {
		return fallback
	}
	parsed, parseErr := strconv.ParseBool(record.Value)
	if parseErr != nil {
		return fallback
	}
	return parsed
}

// SetBool upserts a boolean preference.
func (s *Store) SetBool(ctx context.Context, key string, value bool, nowSeconds int64) error {
	record := Preference{
		Key:              key,
		Value:            strconv.FormatBool(value),
		UpdatedAtSeconds: nowSeconds,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&record).Error
}
