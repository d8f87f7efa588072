package models

import "time"

// Eligibility decisions.
const (
	DecisionTrigger = "trigger"
	DecisionSkip    = "skip"
)

// Skip reasons. The trace is the only record of "nothing happened and why."
const (
	SkipAboveThreshold  = "above_threshold"
	SkipRequestInFlight = "request_in_flight"
	SkipUnitLocked      = "unit_locked"
	SkipCooldown        = "cooldown"
	SkipConfigInvalid   = "config_invalid"
	SkipSensorError     = "sensor_error"
)

// IrrigationEligibilityTrace is append-only, one row per evaluation cycle per
// plant regardless of outcome.
type IrrigationEligibilityTrace struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	UnitID  string `gorm:"size:64;not null;index"`
	PlantID string `gorm:"size:64"`

	Moisture  float64
	Threshold float64

	Decision   string `gorm:"size:16;not null"`
	SkipReason string `gorm:"size:32"`
	RequestID  string `gorm:"size:32"`

	CreatedAt time.Time `gorm:"index"`
}
