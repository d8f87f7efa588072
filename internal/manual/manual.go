// Package manual records human-initiated waterings on units without an
// automatic actuator path, feeding the same learning loop as automatic runs.
package manual

import (
	"context"
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/hardware"
	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
)

// Opts holds the recorder's collaborators and parameters for one watering.
type Opts struct {
	UnitID      string
	PlantID     string
	UserID      string
	SensorID    string
	AmountML    *float64
	Notes       string
	Sensor      hardware.Sensor
	Clock       hardware.Clock
	SettleDelay time.Duration
	Learning    belief.Params
}

// Record captures pre/post moisture around a manual watering with the settle
// delay, computes delta_moisture, and forwards a manual feedback event so
// sensor-only units still benefit from threshold learning.
func Record(ctx context.Context, db *gorm.DB, opts Opts) (*models.ManualIrrigationLog, error) {
	if opts.UnitID == "" {
		return nil, fmt.Errorf("manual: unit ID is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("manual: user ID is required")
	}
	if opts.Sensor == nil {
		return nil, fmt.Errorf("manual: sensor is required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	pre, err := opts.Sensor.ReadMoisture(ctx, opts.SensorID)
	if err != nil {
		return nil, fmt.Errorf("manual: pre-moisture read for %s: %w", opts.UnitID, err)
	}

	now := opts.Clock().UTC()
	entry := models.ManualIrrigationLog{
		UnitID:      opts.UnitID,
		PlantID:     opts.PlantID,
		UserID:      opts.UserID,
		PreMoisture: pre,
		AmountML:    opts.AmountML,
		Notes:       opts.Notes,
		WateredAt:   now,
	}
	if err := db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("manual: create log for %s: %w", opts.UnitID, err)
	}

	// Wait for the water to absorb before trusting the post read.
	if err := sleepWithContext(ctx, opts.SettleDelay); err != nil {
		return &entry, err
	}

	post, err := opts.Sensor.ReadMoisture(ctx, opts.SensorID)
	if err != nil {
		// The watering still counts as feedback even without a post read.
		if _, aerr := belief.Apply(db, opts.UserID, opts.UnitID, belief.FeedbackManual, opts.Learning); aerr != nil {
			return &entry, aerr
		}
		return &entry, nil
	}

	settled := opts.Clock().UTC()
	delta := post - pre
	err = db.Model(&models.ManualIrrigationLog{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"post_moisture":  post,
			"delta_moisture": delta,
			"settled_at":     settled,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("manual: update log %d: %w", entry.ID, err)
	}
	entry.PostMoisture = &post
	entry.DeltaMoisture = &delta
	entry.SettledAt = &settled

	if _, err := belief.Apply(db, opts.UserID, opts.UnitID, belief.FeedbackManual, opts.Learning); err != nil {
		return &entry, err
	}

	return &entry, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
