package models

import "time"

// IrrigationWorkflowConfig is per-unit workflow configuration. Read-only to
// the engine at evaluation time; mutated only through user-facing settings.
type IrrigationWorkflowConfig struct {
	UnitID  string `gorm:"primaryKey;size:64"`
	PlantID string `gorm:"size:64"`
	UserID  string `gorm:"size:64;index"`

	ApprovalRequired      bool `gorm:"default:true"`
	AutoIrrigationEnabled bool `gorm:"default:false"`
	ManualModeEnabled     bool `gorm:"default:false"`

	ScheduledDelayMin  int     `gorm:"default:30"`
	DelayIncrementMin  int     `gorm:"default:60"`
	MaxDelayHours      float64 `gorm:"default:4"`
	ExpirationHours    float64 `gorm:"default:48"`
	ReminderAfterHours float64 `gorm:"default:24"`
	SettleDelayMin     int     `gorm:"default:20"`
	CooldownHours      float64 `gorm:"default:6"`

	ThresholdLearningEnabled bool `gorm:"default:true"`
	DryDownLearningEnabled   bool `gorm:"default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
