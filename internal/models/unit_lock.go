package models

import "time"

// IrrigationLock is the sole concurrency gate for physical actuation: at most
// one row per unit, and a LockedUntilUTC in the future means the unit is being
// acted on. Not tied 1:1 to a pending request.
type IrrigationLock struct {
	UnitID         string    `gorm:"primaryKey;size:64"`
	HolderID       string    `gorm:"size:64;not null"`
	LockedUntilUTC time.Time `gorm:"not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
