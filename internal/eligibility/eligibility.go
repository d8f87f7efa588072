// Package eligibility decides, once per detection cycle, whether a unit
// should trigger an irrigation request, and records why when it doesn't.
package eligibility

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/models"
	"github.com/verdant/sluice/internal/unitlock"
	"gorm.io/gorm"
)

// ErrInvalidConfig marks a malformed workflow config. The request is not
// created and the evaluation cycle for other units continues.
var ErrInvalidConfig = errors.New("eligibility: invalid workflow config")

// Input holds one evaluation cycle's facts for a unit.
type Input struct {
	UnitID     string
	PlantID    string
	UserID     string
	SensorID   string
	ActuatorID string
	Moisture   float64
	Threshold  float64 // effective threshold: learned belief or default
	Now        time.Time
	Learning   belief.Params
}

// Result is the outcome of one evaluation cycle.
type Result struct {
	Decision   string
	SkipReason string
	Request    *models.PendingIrrigationRequest
}

// GenerateID creates a unique request ID in req-xxxxx format (5-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("eligibility: generate ID: %w", err)
	}
	return "req-" + hex.EncodeToString(b)[:5], nil
}

// Evaluate runs the decision ladder for one unit and always writes exactly one
// trace row, trigger or skip. On trigger it creates the pending request with
// scheduled_time from config and expires_at fixed once at creation.
func Evaluate(db *gorm.DB, in Input) (*Result, error) {
	if in.UnitID == "" {
		return nil, fmt.Errorf("eligibility: unit ID is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	var wc models.IrrigationWorkflowConfig
	if err := db.Where("unit_id = ?", in.UnitID).First(&wc).Error; err != nil {
		return nil, fmt.Errorf("eligibility: load workflow config for %s: %w", in.UnitID, err)
	}
	if err := validateConfig(&wc); err != nil {
		res := &Result{Decision: models.DecisionSkip, SkipReason: models.SkipConfigInvalid}
		if terr := writeTrace(db, in, res, ""); terr != nil {
			return nil, terr
		}
		return res, err
	}

	res, err := decide(db, in, &wc)
	if err != nil {
		return nil, err
	}

	if res.Decision == models.DecisionTrigger {
		req, err := createRequest(db, in, &wc)
		if err != nil {
			return nil, err
		}
		res.Request = req
	}

	reqID := ""
	if res.Request != nil {
		reqID = res.Request.ID
	}
	if err := writeTrace(db, in, res, reqID); err != nil {
		return nil, err
	}
	return res, nil
}

// decide walks the skip ladder in order: threshold, in-flight request, unit
// lock, cooldown.
func decide(db *gorm.DB, in Input, wc *models.IrrigationWorkflowConfig) (*Result, error) {
	if in.Moisture >= in.Threshold {
		return &Result{Decision: models.DecisionSkip, SkipReason: models.SkipAboveThreshold}, nil
	}

	var inflight int64
	err := db.Model(&models.PendingIrrigationRequest{}).
		Where("unit_id = ? AND status IN ?", in.UnitID, models.NonTerminalStatuses).
		Count(&inflight).Error
	if err != nil {
		return nil, fmt.Errorf("eligibility: count in-flight requests for %s: %w", in.UnitID, err)
	}
	if inflight > 0 {
		return &Result{Decision: models.DecisionSkip, SkipReason: models.SkipRequestInFlight}, nil
	}

	held, err := unitlock.Held(db, in.UnitID)
	if err != nil {
		return nil, err
	}
	if held {
		return &Result{Decision: models.DecisionSkip, SkipReason: models.SkipUnitLocked}, nil
	}

	recent, err := irrigatedWithin(db, in.UnitID, in.Now, wc.CooldownHours)
	if err != nil {
		return nil, err
	}
	if recent {
		return &Result{Decision: models.DecisionSkip, SkipReason: models.SkipCooldown}, nil
	}

	return &Result{Decision: models.DecisionTrigger}, nil
}

// irrigatedWithin reports whether the unit saw a successful automatic run or a
// manual watering inside the cooldown window.
func irrigatedWithin(db *gorm.DB, unitID string, now time.Time, cooldownHours float64) (bool, error) {
	cutoff := now.Add(-time.Duration(cooldownHours * float64(time.Hour)))

	var n int64
	err := db.Model(&models.IrrigationExecutionLog{}).
		Where("unit_id = ? AND status = ? AND created_at > ?", unitID, models.ExecStatusSuccess, cutoff).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("eligibility: check execution cooldown for %s: %w", unitID, err)
	}
	if n > 0 {
		return true, nil
	}

	err = db.Model(&models.ManualIrrigationLog{}).
		Where("unit_id = ? AND watered_at > ?", unitID, cutoff).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("eligibility: check manual cooldown for %s: %w", unitID, err)
	}
	return n > 0, nil
}

// createRequest writes the pending request and bumps the user's total-request
// counter. expires_at is computed once here and never moves.
func createRequest(db *gorm.DB, in Input, wc *models.IrrigationWorkflowConfig) (*models.PendingIrrigationRequest, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	req := models.PendingIrrigationRequest{
		ID:                   id,
		UnitID:               in.UnitID,
		PlantID:              in.PlantID,
		UserID:               in.UserID,
		SensorID:             in.SensorID,
		ActuatorID:           in.ActuatorID,
		MoistureAtDetection:  in.Moisture,
		ThresholdAtDetection: in.Threshold,
		Status:               models.StatusPending,
		DetectedAt:           in.Now,
		ScheduledTime:        in.Now.Add(time.Duration(wc.ScheduledDelayMin) * time.Minute),
		ExpiresAt:            in.Now.Add(time.Duration(wc.ExpirationHours * float64(time.Hour))),
	}
	if err := db.Create(&req).Error; err != nil {
		return nil, fmt.Errorf("eligibility: create request for %s: %w", in.UnitID, err)
	}

	pref, err := belief.EnsurePreference(db, in.UserID, in.UnitID, in.Learning)
	if err != nil {
		return nil, err
	}
	err = db.Model(&models.IrrigationUserPreference{}).
		Where("id = ?", pref.ID).
		Update("total_requests", gorm.Expr("total_requests + 1")).Error
	if err != nil {
		return nil, fmt.Errorf("eligibility: bump request count for %s/%s: %w", in.UserID, in.UnitID, err)
	}

	return &req, nil
}

// writeTrace appends the evaluation cycle's audit row.
func writeTrace(db *gorm.DB, in Input, res *Result, requestID string) error {
	trace := models.IrrigationEligibilityTrace{
		UnitID:     in.UnitID,
		PlantID:    in.PlantID,
		Moisture:   in.Moisture,
		Threshold:  in.Threshold,
		Decision:   res.Decision,
		SkipReason: res.SkipReason,
		RequestID:  requestID,
	}
	if err := db.Create(&trace).Error; err != nil {
		return fmt.Errorf("eligibility: write trace for %s: %w", in.UnitID, err)
	}
	return nil
}

// TraceSensorError records an evaluation cycle that could not read moisture.
// The trace remains the only record of "nothing happened and why."
func TraceSensorError(db *gorm.DB, unitID, plantID string) error {
	trace := models.IrrigationEligibilityTrace{
		UnitID:     unitID,
		PlantID:    plantID,
		Decision:   models.DecisionSkip,
		SkipReason: models.SkipSensorError,
	}
	if err := db.Create(&trace).Error; err != nil {
		return fmt.Errorf("eligibility: write sensor-error trace for %s: %w", unitID, err)
	}
	return nil
}

// validateConfig rejects malformed workflow configs at evaluation time.
func validateConfig(wc *models.IrrigationWorkflowConfig) error {
	switch {
	case wc.ExpirationHours <= 0:
		return fmt.Errorf("%w: expiration_hours must be positive", ErrInvalidConfig)
	case wc.MaxDelayHours < 0:
		return fmt.Errorf("%w: max_delay_hours must not be negative", ErrInvalidConfig)
	case wc.DelayIncrementMin <= 0:
		return fmt.Errorf("%w: delay_increment_min must be positive", ErrInvalidConfig)
	case wc.ScheduledDelayMin < 0:
		return fmt.Errorf("%w: scheduled_delay_min must not be negative", ErrInvalidConfig)
	case wc.CooldownHours < 0:
		return fmt.Errorf("%w: cooldown_hours must not be negative", ErrInvalidConfig)
	}
	return nil
}
