// Package sqlite implements a SQLite Store with gorm.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const batchSize = 100

// Conf contains the SQLite configuration.
type Conf struct {
	// Path to the database file. ":memory:" for an in-memory database.
	Path string `koanf:"path"`
}

// record is the table row of a verification record.
type record struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	RecordID    string `gorm:"index"`
	UserID      string `gorm:"index"`
	Identity    string `gorm:"index"`
	DisplayName string
	VerifiedAt  time.Time
	Extra       string
}

func (record) TableName() string {
	return "verification_records"
}

// SQLite implements store.Store.
type SQLite struct {
	db *gorm.DB
}

// New opens (and if necessary, creates) the database.
func New(c Conf) (*SQLite, error) {
	if c.Path == "" {
		c.Path = "verifybot.db"
	}

	db, err := gorm.Open(sqlite.Open(c.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Append inserts a record.
func (s *SQLite) Append(ctx context.Context, r models.Record) error {
	extra, err := json.Marshal(r.Extra)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Create(&record{
		RecordID:    r.ID,
		UserID:      r.UserID,
		Identity:    r.Identity,
		DisplayName: r.DisplayName,
		VerifiedAt:  r.VerifiedAt,
		Extra:       string(extra),
	}).Error
}

// Stream reads records in insertion order (primary key) in batches.
func (s *SQLite) Stream(ctx context.Context, fn func(models.Record) error) error {
	var (
		rows    []record
		stopped bool
	)
	res := s.db.WithContext(ctx).FindInBatches(&rows, batchSize, func(tx *gorm.DB, _ int) error {
		for _, row := range rows {
			r := models.Record{
				ID:          row.RecordID,
				UserID:      row.UserID,
				Identity:    row.Identity,
				DisplayName: row.DisplayName,
				VerifiedAt:  row.VerifiedAt,
			}
			if row.Extra != "" {
				if err := json.Unmarshal([]byte(row.Extra), &r.Extra); err != nil {
					return fmt.Errorf("error decoding record %s: %v", row.RecordID, err)
				}
			}

			if err := fn(r); err != nil {
				if err == store.ErrStop {
					stopped = true
				}
				return err
			}
		}
		return nil
	})

	if stopped {
		return nil
	}
	return res.Error
}

// Ping checks if the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
