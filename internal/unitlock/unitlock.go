// Package unitlock implements the per-unit mutual-exclusion gate for physical
// actuation. The lock is a database row so it survives process restarts and
// works across multiple worker processes.
package unitlock

import (
	"errors"
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL sizes the lock to the actuator's maximum expected run time plus
// a safety margin, so a crashed execution self-heals once the TTL lapses.
const DefaultTTL = 5 * time.Minute

// ErrHeld is returned when an unexpired lock already exists for the unit.
var ErrHeld = errors.New("unitlock: lock held")

// TryAcquire grants the unit lock to holder for ttl, or returns ErrHeld. It
// issues only atomic conditional writes (update-if-expired, insert-if-absent);
// there is no read-then-write window for a second acquirer to slip through.
func TryAcquire(db *gorm.DB, unitID, holder string, ttl time.Duration) error {
	if unitID == "" {
		return fmt.Errorf("unitlock: unit ID is required")
	}
	if holder == "" {
		return fmt.Errorf("unitlock: holder ID is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	until := now.Add(ttl)

	// Take over an expired lock row in place.
	result := db.Model(&models.IrrigationLock{}).
		Where("unit_id = ? AND locked_until_utc <= ?", unitID, now).
		Updates(map[string]interface{}{
			"holder_id":        holder,
			"locked_until_utc": until,
		})
	if result.Error != nil {
		return fmt.Errorf("unitlock: take over expired lock for %s: %w", unitID, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	// No expired row to take over. Insert-if-absent; a conflict means a live
	// row exists and the lock is contended.
	lock := models.IrrigationLock{
		UnitID:         unitID,
		HolderID:       holder,
		LockedUntilUTC: until,
	}
	result = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if result.Error != nil {
		return fmt.Errorf("unitlock: insert lock for %s: %w", unitID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("unitlock: %s: %w", unitID, ErrHeld)
	}
	return nil
}

// Release clears the holder's own unexpired lock early. Releasing a lock that
// has already lapsed or been taken over is a no-op.
func Release(db *gorm.DB, unitID, holder string) error {
	result := db.Where("unit_id = ? AND holder_id = ?", unitID, holder).
		Delete(&models.IrrigationLock{})
	if result.Error != nil {
		return fmt.Errorf("unitlock: release %s: %w", unitID, result.Error)
	}
	return nil
}

// Extend pushes the holder's unexpired lock deadline out by ttl from now.
func Extend(db *gorm.DB, unitID, holder string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	result := db.Model(&models.IrrigationLock{}).
		Where("unit_id = ? AND holder_id = ? AND locked_until_utc > ?", unitID, holder, now).
		Update("locked_until_utc", now.Add(ttl))
	if result.Error != nil {
		return fmt.Errorf("unitlock: extend %s: %w", unitID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("unitlock: extend %s: lock not held by %s", unitID, holder)
	}
	return nil
}

// Held reports whether an unexpired lock exists for the unit.
func Held(db *gorm.DB, unitID string) (bool, error) {
	var count int64
	err := db.Model(&models.IrrigationLock{}).
		Where("unit_id = ? AND locked_until_utc > ?", unitID, time.Now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("unitlock: check %s: %w", unitID, err)
	}
	return count > 0, nil
}
