// Package history persists evaluation results across runs, so metric trends
// over training steps survive process restarts.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one persisted evaluation outcome.
type Record struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	Step                int    `gorm:"index:idx_step"`
	DiffusionType       string `gorm:"index:idx_type"`
	Samples             int
	WorldSize           int
	FrechetDistance     float64
	IntelligibilityLoss float64
	ElapsedMS           int64
	CreatedAt           time.Time
}

// Store is the sqlite-backed history database.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the history database at path and migrates the
// schema. Parent directories are created as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap history db: %w", err)
	}

	return sqlDB.Close()
}

// Append stores one evaluation record. A zero CreatedAt is stamped with the
// current time.
func (s *Store) Append(rec Record) error {
	rec.ID = 0
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}

	return nil
}

// List returns records ordered by step then insertion order, optionally
// filtered by diffusion type. A limit of zero or less returns everything.
func (s *Store) List(diffusionType string, limit int) ([]Record, error) {
	q := s.db.Order("step ASC, id ASC")
	if diffusionType != "" {
		q = q.Where("diffusion_type = ?", diffusionType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []Record
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	return recs, nil
}
