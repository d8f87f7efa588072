package models

import "time"

// IrrigationExecutionLog is append-only, one row per execution attempt. A
// retried request yields multiple rows sharing RequestID.
type IrrigationExecutionLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RequestID string `gorm:"size:32;index"`
	UnitID    string `gorm:"size:64;not null;index"`
	PlantID   string `gorm:"size:64"`
	Attempt   int    `gorm:"default:1"`

	TriggerReason string `gorm:"size:32"` // approve, auto, manual

	PreMoisture  float64
	PostMoisture *float64

	PlannedDurationS float64
	ActualDurationS  float64
	EstimatedVolumeL float64

	Status string `gorm:"size:16;index"` // success, failed
	Error  string `gorm:"type:text"`

	Recommendation string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
}
