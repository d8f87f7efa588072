package lifecycle

import (
	"fmt"
	"time"

	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
)

// Deadlines are evaluated by these recurring sweeps rather than per-request
// timers, so a crash or restart never loses a pending deadline.

// ReleaseDueDelays re-arms delayed requests whose delayed_until has arrived:
// they go back to pending with the delayed time as the new scheduled time.
func ReleaseDueDelays(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Model(&models.PendingIrrigationRequest{}).
		Where("status = ? AND delayed_until <= ?", models.StatusDelayed, now).
		Updates(map[string]interface{}{
			"status":         models.StatusPending,
			"scheduled_time": gorm.Expr("delayed_until"),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("lifecycle: release due delays: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ExpireOverdue terminates pending and delayed requests past their
// expires_at. Approved requests belong to the executor and are never expired
// here. Expiry is distinct from rejection: no feedback event is ever
// generated for it.
func ExpireOverdue(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Model(&models.PendingIrrigationRequest{}).
		Where("status IN ? AND expires_at <= ?",
			[]string{models.StatusPending, models.StatusDelayed}, now).
		Update("status", models.StatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("lifecycle: expire overdue: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// AutoApproveDue turns due pending requests into implicit approvals, for
// units where auto-irrigation is enabled or no approval is required.
// Auto-irrigation units are due at scheduled_time; approval-not-required
// units wait out the full response window and are due at expires_at. A
// delayed request re-armed to pending by ReleaseDueDelays is due again at
// its new scheduled time. Manual-mode units never auto-approve: their
// requests sit until they expire or are explicitly cancelled.
func AutoApproveDue(db *gorm.DB, now time.Time) ([]models.PendingIrrigationRequest, error) {
	var configs []models.IrrigationWorkflowConfig
	err := db.Where("manual_mode_enabled = ? AND (auto_irrigation_enabled = ? OR approval_required = ?)",
		false, true, false).
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load auto-capable configs: %w", err)
	}

	var approved []models.PendingIrrigationRequest
	for _, wc := range configs {
		deadline := "scheduled_time"
		if !wc.AutoIrrigationEnabled {
			deadline = "expires_at"
		}

		var due []models.PendingIrrigationRequest
		err := db.Where("unit_id = ? AND status = ? AND "+deadline+" <= ? AND user_response IN ?",
			wc.UnitID, models.StatusPending, now, []string{"", models.ResponseDelay}).
			Find(&due).Error
		if err != nil {
			return nil, fmt.Errorf("lifecycle: find due requests for %s: %w", wc.UnitID, err)
		}

		for _, req := range due {
			updates := map[string]interface{}{
				"status": models.StatusApproved,
			}
			// A re-armed delay keeps the user's response and response time.
			if req.UserResponse == "" {
				updates["user_response"] = models.ResponseAuto
				updates["responded_at"] = now
			}
			rows, err := transition(db, req.ID, []string{models.StatusPending}, updates)
			if err != nil {
				return nil, err
			}
			if rows == 0 {
				continue // raced with a user response or expiry
			}
			req.Status = models.StatusApproved
			if req.UserResponse == "" {
				req.UserResponse = models.ResponseAuto
			}
			approved = append(approved, req)
		}
	}
	return approved, nil
}

// DueReminders returns pending requests older than their unit's reminder
// window that have not yet been reminded, marking each as reminded. The
// caller turns them into notification intents.
func DueReminders(db *gorm.DB, now time.Time) ([]models.PendingIrrigationRequest, error) {
	var configs []models.IrrigationWorkflowConfig
	if err := db.Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: load configs for reminders: %w", err)
	}

	var out []models.PendingIrrigationRequest
	for _, wc := range configs {
		if wc.ReminderAfterHours <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(wc.ReminderAfterHours * float64(time.Hour)))

		var due []models.PendingIrrigationRequest
		err := db.Where("unit_id = ? AND status = ? AND detected_at <= ? AND reminder_sent_at IS NULL",
			wc.UnitID, models.StatusPending, cutoff).
			Find(&due).Error
		if err != nil {
			return nil, fmt.Errorf("lifecycle: find reminder-due requests for %s: %w", wc.UnitID, err)
		}

		for _, req := range due {
			result := db.Model(&models.PendingIrrigationRequest{}).
				Where("id = ? AND reminder_sent_at IS NULL", req.ID).
				Update("reminder_sent_at", now)
			if result.Error != nil {
				return nil, fmt.Errorf("lifecycle: mark reminder for %s: %w", req.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}
			out = append(out, req)
		}
	}
	return out, nil
}

// Approvable returns approved requests awaiting execution.
func Approvable(db *gorm.DB) ([]models.PendingIrrigationRequest, error) {
	var reqs []models.PendingIrrigationRequest
	err := db.Where("status = ? AND execution_status = ?",
		models.StatusApproved, models.ExecStatusNone).
		Order("responded_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list approved requests: %w", err)
	}
	return reqs, nil
}
