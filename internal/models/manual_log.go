package models

import "time"

// ManualIrrigationLog is one human-initiated watering on a unit without an
// automatic actuator path. Pre/post moisture bracket the watering with a
// settle delay so the delta feeds the same learning loop as automatic runs.
type ManualIrrigationLog struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	UnitID  string `gorm:"size:64;not null;index"`
	PlantID string `gorm:"size:64"`
	UserID  string `gorm:"size:64;index"`

	PreMoisture   float64
	PostMoisture  *float64
	DeltaMoisture *float64

	AmountML *float64
	Notes    string `gorm:"type:text"`

	WateredAt time.Time `gorm:"index"`
	SettledAt *time.Time
	CreatedAt time.Time
}
