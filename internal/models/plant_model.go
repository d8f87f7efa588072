package models

import "time"

// PlantIrrigationModel is a slowly-updated per-plant dry-down estimate
// (moisture percentage points lost per hour). It improves scheduling of the
// next evaluation, never the current decision.
type PlantIrrigationModel struct {
	PlantID string `gorm:"primaryKey;size:64"`
	UnitID  string `gorm:"size:64;index"`

	DryDownRatePerHour float64
	SampleCount        int     `gorm:"default:0"`
	Confidence         float64 `gorm:"default:0"`

	LastObservedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
