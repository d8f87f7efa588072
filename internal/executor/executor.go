// Package executor claims approved requests, gates them on the unit lock,
// drives the actuator, measures the outcome, and writes the audit trail.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/drydown"
	"github.com/verdant/sluice/internal/hardware"
	"github.com/verdant/sluice/internal/lifecycle"
	"github.com/verdant/sluice/internal/models"
	"github.com/verdant/sluice/internal/unitlock"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts     = 3
	defaultActuatorTimeout = 2 * time.Minute
)

// Opts holds the executor's collaborators and tuning.
type Opts struct {
	Sensor          hardware.Sensor
	Actuator        hardware.Actuator
	Clock           hardware.Clock
	Learning        belief.Params
	FlowRateLPM     float64
	HolderID        string
	LockTTL         time.Duration
	ActuatorTimeout time.Duration
	MaxAttempts     int
	SettleDelay     time.Duration
}

// Result describes what happened to one execution attempt sequence.
type Result struct {
	Requeued bool // lock contention: no attempt occurred, request left approved
	Success  bool
	Attempts int
	Delta    *float64
}

// Execute runs an approved request end to end. Lock contention re-queues the
// request without counting an attempt; actuator failures retry up to the
// attempt cap with the lock released between attempts, then surface as a
// failed execution. A successful valve cycle and "moisture rose as expected"
// are recorded separately.
func Execute(ctx context.Context, db *gorm.DB, requestID string, opts Opts) (*Result, error) {
	applyDefaults(&opts)

	req, err := lifecycle.Get(db, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusApproved {
		return nil, fmt.Errorf("executor: %s is %s: %w", requestID, req.Status, lifecycle.ErrStaleTransition)
	}

	// Claim the request so no second trigger advances it concurrently.
	claim := db.Model(&models.PendingIrrigationRequest{}).
		Where("id = ? AND status = ? AND execution_status = ?",
			requestID, models.StatusApproved, models.ExecStatusNone).
		Update("execution_status", models.ExecStatusRunning)
	if claim.Error != nil {
		return nil, fmt.Errorf("executor: claim %s: %w", requestID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		return nil, fmt.Errorf("executor: claim %s: %w", requestID, lifecycle.ErrStaleTransition)
	}

	// The learned dry-down rate feeds the duration estimate; an unknown plant
	// reads as rate 0 and gets the bare gap-closing run.
	rate, err := drydown.Rate(db, req.PlantID)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var lastErr error
	var pre float64
	var actualDuration time.Duration

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lockErr := unitlock.TryAcquire(db, req.UnitID, opts.HolderID, opts.LockTTL)
		if errors.Is(lockErr, unitlock.ErrHeld) {
			// Contention is not a fault: no attempt occurred, so release the
			// claim and let the next cycle pick the request up again.
			if err := unclaim(db, requestID); err != nil {
				return nil, err
			}
			res.Requeued = true
			return res, nil
		}
		if lockErr != nil {
			return nil, lockErr
		}

		pre = readOrFallback(ctx, opts, req.SensorID, req.MoistureAtDetection)
		gap := req.ThresholdAtDetection - pre
		planned := drydown.EstimateRunDuration(gap, rate, opts.FlowRateLPM)

		actErr := activate(ctx, opts, req.ActuatorID, planned)
		actualDuration = planned
		if actErr != nil {
			actualDuration = 0
		}

		res.Attempts = attempt
		if err := logAttempt(db, req, attempt, pre, planned, actualDuration, opts, actErr); err != nil {
			releaseQuietly(db, req.UnitID, opts.HolderID)
			return nil, err
		}

		if relErr := unitlock.Release(db, req.UnitID, opts.HolderID); relErr != nil {
			return nil, relErr
		}

		if actErr == nil {
			res.Success = true
			break
		}
		lastErr = actErr
	}

	if !res.Success {
		if err := finalize(db, requestID, finalState{
			success:  false,
			duration: 0,
			errText:  lastErr.Error(),
			now:      opts.Clock().UTC(),
		}); err != nil {
			if errors.Is(err, lifecycle.ErrStaleTransition) {
				// Cancelled mid-flight; the terminal state belongs to the
				// cancel, same as on the success path.
				return res, nil
			}
			return nil, err
		}
		return res, nil
	}

	// Let the water settle before trusting the post read.
	if err := sleepWithContext(ctx, opts.SettleDelay); err != nil {
		return res, err
	}

	var post, delta *float64
	if p, err := opts.Sensor.ReadMoisture(ctx, req.SensorID); err == nil {
		d := p - pre
		post, delta = &p, &d
		res.Delta = &d
	}

	state := finalState{
		success:  true,
		duration: actualDuration,
		post:     post,
		delta:    delta,
		now:      opts.Clock().UTC(),
	}
	if err := finalize(db, requestID, state); err != nil {
		if errors.Is(err, lifecycle.ErrStaleTransition) {
			// Cancelled mid-flight; the water flowed but the request's
			// terminal state belongs to the cancel.
			return res, nil
		}
		return nil, err
	}

	if err := afterSuccess(db, req, pre, delta, opts); err != nil {
		return nil, err
	}
	return res, nil
}

// unclaim returns a contended request to the approved pool.
func unclaim(db *gorm.DB, requestID string) error {
	err := db.Model(&models.PendingIrrigationRequest{}).
		Where("id = ? AND execution_status = ?", requestID, models.ExecStatusRunning).
		Update("execution_status", models.ExecStatusNone).Error
	if err != nil {
		return fmt.Errorf("executor: unclaim %s: %w", requestID, err)
	}
	return nil
}

type finalState struct {
	success  bool
	duration time.Duration
	post     *float64
	delta    *float64
	errText  string
	now      time.Time
}

// finalize writes the terminal executed state, conditional on the request
// still being the one we claimed.
func finalize(db *gorm.DB, requestID string, s finalState) error {
	execStatus := models.ExecStatusSuccess
	if !s.success {
		execStatus = models.ExecStatusFailed
	}

	updates := map[string]interface{}{
		"status":            models.StatusExecuted,
		"execution_status":  execStatus,
		"execution_success": s.success,
		"executed_at":       s.now,
		"actual_duration_s": s.duration.Seconds(),
		"execution_error":   s.errText,
	}
	if s.post != nil {
		updates["post_moisture"] = *s.post
	}
	if s.delta != nil {
		updates["delta_moisture"] = *s.delta
	}

	result := db.Model(&models.PendingIrrigationRequest{}).
		Where("id = ? AND status = ? AND execution_status = ?",
			requestID, models.StatusApproved, models.ExecStatusRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("executor: finalize %s: %w", requestID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("executor: finalize %s: %w", requestID, lifecycle.ErrStaleTransition)
	}
	return nil
}

// logAttempt appends one execution-log row and bumps the request's attempt
// counter. A retried request yields multiple rows sharing the request ID.
func logAttempt(db *gorm.DB, req *models.PendingIrrigationRequest, attempt int, pre float64, planned, actual time.Duration, opts Opts, actErr error) error {
	entry := models.IrrigationExecutionLog{
		RequestID:        req.ID,
		UnitID:           req.UnitID,
		PlantID:          req.PlantID,
		Attempt:          attempt,
		TriggerReason:    req.UserResponse,
		PreMoisture:      pre,
		PlannedDurationS: planned.Seconds(),
		ActualDurationS:  actual.Seconds(),
		EstimatedVolumeL: opts.FlowRateLPM * actual.Minutes(),
		Status:           models.ExecStatusSuccess,
	}
	if actErr != nil {
		entry.Status = models.ExecStatusFailed
		entry.Error = actErr.Error()
	}

	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("executor: log attempt %d for %s: %w", attempt, req.ID, err)
	}

	err := db.Model(&models.PendingIrrigationRequest{}).
		Where("id = ?", req.ID).
		Update("attempt_count", gorm.Expr("attempt_count + 1")).Error
	if err != nil {
		return fmt.Errorf("executor: bump attempts for %s: %w", req.ID, err)
	}
	return nil
}

// afterSuccess feeds the learning loops and writes the post-hoc
// recommendation on the final log row.
func afterSuccess(db *gorm.DB, req *models.PendingIrrigationRequest, pre float64, delta *float64, opts Opts) error {
	var wc models.IrrigationWorkflowConfig
	if err := db.Where("unit_id = ?", req.UnitID).First(&wc).Error; err != nil {
		return fmt.Errorf("executor: load workflow config for %s: %w", req.UnitID, err)
	}

	if wc.DryDownLearningEnabled {
		drop := req.MoistureAtDetection - pre
		elapsed := opts.Clock().UTC().Sub(req.DetectedAt)
		if err := drydown.RecordDrying(db, req.PlantID, req.UnitID, drop, elapsed); err != nil {
			return err
		}
	}

	switch req.UserResponse {
	case models.ResponseApprove, models.ResponseDelay:
		// An executed human approval reinforces the belief.
		if wc.ThresholdLearningEnabled {
			if _, err := belief.Apply(db, req.UserID, req.UnitID, belief.FeedbackAccept, opts.Learning); err != nil {
				return err
			}
		}
	case models.ResponseAuto:
		pref, err := belief.EnsurePreference(db, req.UserID, req.UnitID, opts.Learning)
		if err != nil {
			return err
		}
		err = db.Model(&models.IrrigationUserPreference{}).
			Where("id = ?", pref.ID).
			Update("auto_executions", gorm.Expr("auto_executions + 1")).Error
		if err != nil {
			return fmt.Errorf("executor: bump auto executions for %s: %w", req.ID, err)
		}
	}

	if delta != nil {
		err := db.Model(&models.IrrigationExecutionLog{}).
			Where("request_id = ? AND status = ?", req.ID, models.ExecStatusSuccess).
			Updates(map[string]interface{}{
				"post_moisture":  pre + *delta,
				"recommendation": recommend(req.ThresholdAtDetection-pre, *delta),
			}).Error
		if err != nil {
			return fmt.Errorf("executor: write outcome for %s: %w", req.ID, err)
		}
	}
	return nil
}

// recommend compares the observed moisture rise against the threshold gap.
func recommend(gap, delta float64) string {
	if gap <= 0 {
		gap = 1
	}
	switch {
	case delta < 0.5*gap:
		return "moisture rose less than expected; increase duration or check emitters"
	case delta > 1.5*gap:
		return "moisture rose more than expected; reduce duration"
	default:
		return "duration on target"
	}
}

func readOrFallback(ctx context.Context, opts Opts, sensorID string, fallback float64) float64 {
	v, err := opts.Sensor.ReadMoisture(ctx, sensorID)
	if err != nil {
		return fallback
	}
	return v
}

// activate runs the actuator with a bounded timeout distinct from the lock
// TTL. The lock TTL must be >= this timeout.
func activate(ctx context.Context, opts Opts, actuatorID string, duration time.Duration) error {
	actCtx, cancel := context.WithTimeout(ctx, opts.ActuatorTimeout)
	defer cancel()
	return opts.Actuator.Activate(actCtx, actuatorID, duration)
}

func releaseQuietly(db *gorm.DB, unitID, holder string) {
	_ = unitlock.Release(db, unitID, holder)
}

func applyDefaults(opts *Opts) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ActuatorTimeout <= 0 {
		opts.ActuatorTimeout = defaultActuatorTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = unitlock.DefaultTTL
	}
	if opts.LockTTL < opts.ActuatorTimeout {
		opts.LockTTL = opts.ActuatorTimeout
	}
	if opts.HolderID == "" {
		opts.HolderID = "executor"
	}
	if opts.FlowRateLPM <= 0 {
		opts.FlowRateLPM = 4
	}
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
