package models

import "time"

// IrrigationUserPreference accumulates response counts and the learned
// threshold belief for one (user, unit) pair. Created lazily on first use,
// updated incrementally, never deleted.
type IrrigationUserPreference struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"size:64;not null;uniqueIndex:idx_user_unit"`
	UnitID string `gorm:"size:64;not null;uniqueIndex:idx_user_unit"`

	TotalRequests      int `gorm:"default:0"`
	ImmediateApprovals int `gorm:"default:0"`
	DelayedApprovals   int `gorm:"default:0"`
	Cancellations      int `gorm:"default:0"`
	AutoExecutions     int `gorm:"default:0"`

	ThresholdMean     float64
	ThresholdVariance float64
	Confidence        float64
	SampleCount       int `gorm:"default:0"`

	ResponseCount      int     `gorm:"default:0"`
	AvgResponseMinutes float64 `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
