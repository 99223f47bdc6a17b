// Package configstore persists the control-plane state the server needs
// across restarts: the partition registry (which suffixes exist and which
// backend serves each) and free-form server settings. Directory entries
// themselves never pass through here; they belong to the partitions.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PartitionRecord is one row of the partition registry.
type PartitionRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Suffix    string `gorm:"uniqueIndex;not null"`
	Backend   string `gorm:"not null"` // memory, badger, postgres
	Dir       string // badger data directory
	DSN       string // postgres connection string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Setting is one key/value server setting.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// Store wraps the gorm connection.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to control-plane database: %w", err)
	}
	if err := db.AutoMigrate(&PartitionRecord{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("migrating control-plane schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePartition inserts or updates a registry row, keyed by suffix.
func (s *Store) SavePartition(ctx context.Context, rec *PartitionRecord) error {
	var existing PartitionRecord
	err := s.db.WithContext(ctx).Where("suffix = ?", rec.Suffix).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(rec).Error
	}
	if err != nil {
		return err
	}
	rec.ID = existing.ID
	rec.CreatedAt = existing.CreatedAt
	return s.db.WithContext(ctx).Save(rec).Error
}

// ListPartitions returns every registered partition, suffix-ordered.
func (s *Store) ListPartitions(ctx context.Context) ([]*PartitionRecord, error) {
	var out []*PartitionRecord
	if err := s.db.WithContext(ctx).Order("suffix").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePartition removes a registry row by suffix.
func (s *Store) DeletePartition(ctx context.Context, suffix string) error {
	return s.db.WithContext(ctx).Where("suffix = ?", suffix).Delete(&PartitionRecord{}).Error
}

// GetSetting returns a setting's value, or "" when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}

// SetSetting inserts or updates a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Save(&Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}

// DeleteSetting removes a setting.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&Setting{}).Error
}
