package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&DailyCount{}, &RefreshRun{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

const batchSize = 500

// ReplaceCounts swaps the whole stored dataset for rows in one transaction.
func (r *Repo) ReplaceCounts(ctx context.Context, rows []DailyCount) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DailyCount{}).Error; err != nil {
			return fmt.Errorf("clear counts: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("insert counts: %w", err)
		}
		return nil
	})
}

// LoadCounts returns every stored row ordered by country position, then date.
func (r *Repo) LoadCounts(ctx context.Context) ([]DailyCount, error) {
	var rows []DailyCount
	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "position"}},
		{Column: clause.Column{Name: "date"}},
	}}
	if err := r.db.WithContext(ctx).Clauses(order).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) RecordRun(ctx context.Context, run *RefreshRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// LatestRun returns the most recently finished run, or nil when none exists.
func (r *Repo) LatestRun(ctx context.Context) (*RefreshRun, error) {
	var run RefreshRun
	err := r.db.WithContext(ctx).Order("finished_at desc").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
