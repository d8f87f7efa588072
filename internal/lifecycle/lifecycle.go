// Package lifecycle applies user responses and timer fallbacks to pending
// irrigation requests. Every transition is an optimistic conditional update on
// status, so duplicate or late-arriving triggers resolve to no-ops instead of
// corrupting state.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
)

// ErrStaleTransition marks a transition attempted against a request no longer
// in the expected pre-state. Callers treat it as a race already resolved by
// another trigger.
var ErrStaleTransition = errors.New("lifecycle: stale transition")

// ErrNotFound is returned when the request does not exist at all.
var ErrNotFound = errors.New("lifecycle: request not found")

// Opts carries the learning parameters needed for preference bookkeeping and,
// for Delay, an optional caller-chosen increment. Zero means the unit's
// configured increment.
type Opts struct {
	Learning     belief.Params
	DelayMinutes int
}

// Approve moves a pending or delayed request to approved and records the
// user's response. The caller hands the approved request to the executor.
func Approve(db *gorm.DB, requestID string, opts Opts) (*models.PendingIrrigationRequest, error) {
	req, err := load(db, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rows, err := transition(db, requestID,
		[]string{models.StatusPending, models.StatusDelayed},
		map[string]interface{}{
			"status":        models.StatusApproved,
			"user_response": models.ResponseApprove,
			"responded_at":  now,
		})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s: %w", requestID, ErrStaleTransition)
	}

	counter := "immediate_approvals"
	if req.DelayCount > 0 {
		counter = "delayed_approvals"
	}
	if err := recordResponse(db, req, counter, now, opts); err != nil {
		return nil, err
	}

	return load(db, requestID)
}

// Delay pushes the request's scheduled time out by opts.DelayMinutes, or by
// the configured increment when no explicit value is given. delayed_until
// never exceeds detected_at + max_delay_hours; a delay that would pass the
// ceiling is clamped there, and once the clamped time is already due the
// request proceeds as if approved.
func Delay(db *gorm.DB, requestID string, opts Opts) (*models.PendingIrrigationRequest, error) {
	req, err := load(db, requestID)
	if err != nil {
		return nil, err
	}

	var wc models.IrrigationWorkflowConfig
	if err := db.Where("unit_id = ?", req.UnitID).First(&wc).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: load workflow config for %s: %w", req.UnitID, err)
	}

	increment := time.Duration(wc.DelayIncrementMin) * time.Minute
	if opts.DelayMinutes > 0 {
		increment = time.Duration(opts.DelayMinutes) * time.Minute
	}

	now := time.Now().UTC()
	ceiling := req.DetectedAt.Add(time.Duration(wc.MaxDelayHours * float64(time.Hour)))
	target := now.Add(increment)
	clamped := false
	if target.After(ceiling) {
		target = ceiling
		clamped = true
	}

	if clamped && !target.After(now) {
		// Ceiling reached and already due. The user wanted it done later;
		// later has arrived, so proceed as an approval.
		return Approve(db, requestID, opts)
	}

	rows, err := transition(db, requestID,
		[]string{models.StatusPending, models.StatusDelayed},
		map[string]interface{}{
			"status":        models.StatusDelayed,
			"user_response": models.ResponseDelay,
			"responded_at":  now,
			"delayed_until": target,
			"delay_count":   gorm.Expr("delay_count + 1"),
		})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s: %w", requestID, ErrStaleTransition)
	}

	if err := recordResponse(db, req, "", now, opts); err != nil {
		return nil, err
	}

	if wc.ThresholdLearningEnabled {
		if _, err := belief.Apply(db, req.UserID, req.UnitID, belief.FeedbackDelay, opts.Learning); err != nil {
			return nil, err
		}
	}

	return load(db, requestID)
}

// Cancel terminates the request. Terminal requests are left untouched.
func Cancel(db *gorm.DB, requestID string, opts Opts) (*models.PendingIrrigationRequest, error) {
	req, err := load(db, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rows, err := transition(db, requestID, models.NonTerminalStatuses,
		map[string]interface{}{
			"status":        models.StatusCancelled,
			"user_response": models.ResponseCancel,
			"responded_at":  now,
		})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s: %w", requestID, ErrStaleTransition)
	}

	if err := recordResponse(db, req, "cancellations", now, opts); err != nil {
		return nil, err
	}

	return load(db, requestID)
}

// transition performs the optimistic conditional update: the write applies
// only if the current status matches one of the expected pre-states.
func transition(db *gorm.DB, requestID string, from []string, updates map[string]interface{}) (int64, error) {
	result := db.Model(&models.PendingIrrigationRequest{}).
		Where("id = ? AND status IN ?", requestID, from).
		Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("lifecycle: transition %s: %w", requestID, result.Error)
	}
	return result.RowsAffected, nil
}

// load fetches a request or ErrNotFound.
func load(db *gorm.DB, requestID string) (*models.PendingIrrigationRequest, error) {
	var req models.PendingIrrigationRequest
	err := db.Where("id = ?", requestID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load %s: %w", requestID, err)
	}
	return &req, nil
}

// recordResponse updates the (user, unit) preference: the named counter and
// the responsiveness statistics. Belief rows are per-(user, unit), so this
// needs no cross-key serialization.
func recordResponse(db *gorm.DB, req *models.PendingIrrigationRequest, counter string, now time.Time, opts Opts) error {
	pref, err := belief.EnsurePreference(db, req.UserID, req.UnitID, opts.Learning)
	if err != nil {
		return err
	}

	minutes := now.Sub(req.DetectedAt).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	newCount := pref.ResponseCount + 1
	newAvg := (pref.AvgResponseMinutes*float64(pref.ResponseCount) + minutes) / float64(newCount)

	updates := map[string]interface{}{
		"response_count":       newCount,
		"avg_response_minutes": newAvg,
	}
	if counter != "" {
		updates[counter] = gorm.Expr(counter + " + 1")
	}

	err = db.Model(&models.IrrigationUserPreference{}).
		Where("id = ?", pref.ID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("lifecycle: record response for %s/%s: %w", req.UserID, req.UnitID, err)
	}
	return nil
}

// ListFilters holds optional filters for listing requests.
type ListFilters struct {
	UnitID string
	Status string
	Limit  int
}

// List returns requests matching the filters, newest first.
func List(db *gorm.DB, f ListFilters) ([]models.PendingIrrigationRequest, error) {
	q := db.Model(&models.PendingIrrigationRequest{}).Order("detected_at DESC")
	if f.UnitID != "" {
		q = q.Where("unit_id = ?", f.UnitID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var reqs []models.PendingIrrigationRequest
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: list requests: %w", err)
	}
	return reqs, nil
}

// Get returns one request by ID.
func Get(db *gorm.DB, requestID string) (*models.PendingIrrigationRequest, error) {
	return load(db, requestID)
}
