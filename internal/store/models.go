package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DailyCount is one cumulative JHU sample. Position keeps the CSV row order
// of the country so the country list survives a reload unchanged.
type DailyCount struct {
	Country   string    `json:"country" gorm:"primaryKey;size:128"`
	Date      time.Time `json:"date" gorm:"primaryKey"`
	Position  int       `json:"position" gorm:"index;not null"`
	Confirmed *float64  `json:"confirmed"`
	Deaths    *float64  `json:"deaths"`
}

func (DailyCount) TableName() string { return "corona_daily_counts" }

type RefreshRun struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	StartedAt  time.Time      `json:"started_at" gorm:"index;not null"`
	FinishedAt time.Time      `json:"finished_at" gorm:"index;not null"`
	Countries  int            `json:"countries"`
	Days       int            `json:"days"`
	Sources    datatypes.JSON `json:"sources" gorm:"type:jsonb"`
}

func (RefreshRun) TableName() string { return "corona_refresh_runs" }
