// Package drydown maintains the per-plant moisture-loss model used to size
// actuator runs and anticipate the next evaluation.
package drydown

import (
	"errors"
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
)

const (
	// alpha weights new observations in the exponential moving average.
	alpha = 0.3
	// maxSamplesForConfidence is where model confidence saturates.
	maxSamplesForConfidence = 20
	// defaultAbsorption approximates moisture points gained per liter on an
	// average unit, used when no learned signal exists.
	defaultAbsorption = 2.0
)

// RecordDrying folds one observed moisture drop over an elapsed window into
// the plant's dry-down rate. Non-positive windows and negative drops (rain,
// manual top-ups between readings) are ignored.
func RecordDrying(db *gorm.DB, plantID, unitID string, drop float64, elapsed time.Duration) error {
	if plantID == "" {
		return fmt.Errorf("drydown: plant ID is required")
	}
	if elapsed <= 0 || drop < 0 {
		return nil
	}

	rate := drop / elapsed.Hours()
	now := time.Now().UTC()

	var m models.PlantIrrigationModel
	err := db.Where("plant_id = ?", plantID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = models.PlantIrrigationModel{
			PlantID:            plantID,
			UnitID:             unitID,
			DryDownRatePerHour: rate,
			SampleCount:        1,
			Confidence:         1.0 / maxSamplesForConfidence,
			LastObservedAt:     &now,
		}
		if err := db.Create(&m).Error; err != nil {
			return fmt.Errorf("drydown: create model for %s: %w", plantID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("drydown: load model for %s: %w", plantID, err)
	}

	m.DryDownRatePerHour = (1-alpha)*m.DryDownRatePerHour + alpha*rate
	m.SampleCount++
	m.Confidence = float64(m.SampleCount) / maxSamplesForConfidence
	if m.Confidence > 1 {
		m.Confidence = 1
	}

	err = db.Model(&models.PlantIrrigationModel{}).
		Where("plant_id = ?", plantID).
		Updates(map[string]interface{}{
			"dry_down_rate_per_hour": m.DryDownRatePerHour,
			"sample_count":           m.SampleCount,
			"confidence":             m.Confidence,
			"last_observed_at":       now,
		}).Error
	if err != nil {
		return fmt.Errorf("drydown: persist model for %s: %w", plantID, err)
	}
	return nil
}

// Rate returns the learned dry-down rate for a plant, or 0 if none exists.
func Rate(db *gorm.DB, plantID string) (float64, error) {
	var m models.PlantIrrigationModel
	err := db.Where("plant_id = ?", plantID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("drydown: load model for %s: %w", plantID, err)
	}
	return m.DryDownRatePerHour, nil
}

// EstimateRunDuration sizes an actuator run to close the gap between current
// moisture and threshold, given the plant's learned dry-down rate and the
// unit's flow rate in liters per minute. One hour of drying at the learned
// rate is added on top of the gap so the bed does not fall straight back
// under the threshold. The result is bounded to [30s, 10m] so a bad model
// can't flood a bed or produce a no-op pulse.
func EstimateRunDuration(gap, ratePerHour, flowRateLPM float64) time.Duration {
	if gap <= 0 {
		gap = 1
	}
	if ratePerHour > 0 {
		gap += ratePerHour
	}
	if flowRateLPM <= 0 {
		flowRateLPM = 1
	}
	liters := gap / defaultAbsorption
	d := time.Duration(liters / flowRateLPM * float64(time.Minute))
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

// NextCheckAfter estimates how long until moisture reaches the threshold at
// the learned dry-down rate. Unknown rates fall back to one hour.
func NextCheckAfter(current, threshold, ratePerHour float64) time.Duration {
	if ratePerHour <= 0 || current <= threshold {
		return time.Hour
	}
	hours := (current - threshold) / ratePerHour
	if hours > 24 {
		hours = 24
	}
	return time.Duration(hours * float64(time.Hour))
}
