// Package daemon runs the recurring detection-and-sweep loop: deadline
// sweeps, auto-execution, per-unit eligibility evaluation, and reminders.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/config"
	"github.com/verdant/sluice/internal/drydown"
	"github.com/verdant/sluice/internal/eligibility"
	"github.com/verdant/sluice/internal/executor"
	"github.com/verdant/sluice/internal/hardware"
	"github.com/verdant/sluice/internal/lifecycle"
	"github.com/verdant/sluice/internal/models"
	"github.com/verdant/sluice/internal/notify"
	"gorm.io/gorm"
)

const defaultPollInterval = 30 * time.Second

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Deps holds the daemon's external collaborators.
type Deps struct {
	Sensor     hardware.Sensor
	Actuator   hardware.Actuator
	Clock      hardware.Clock
	Dispatcher *notify.Dispatcher
}

// RunDaemon runs the detection/sweep loop until ctx is cancelled. Each tick
// walks the phases in order; one unit's failure never stops the others.
func RunDaemon(ctx context.Context, db *gorm.DB, cfg *config.Config, deps Deps, pollInterval time.Duration, out io.Writer) error {
	if db == nil {
		return fmt.Errorf("daemon: db is required")
	}
	if cfg == nil {
		return fmt.Errorf("daemon: config is required")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if out == nil {
		out = io.Discard
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = notify.NewDispatcher()
	}

	sched, err := cronParser.Parse(cfg.Daemon.DetectionSchedule)
	if err != nil {
		return fmt.Errorf("daemon: parse detection schedule %q: %w", cfg.Daemon.DetectionSchedule, err)
	}

	fmt.Fprintf(out, "Sluice daemon starting (poll every %s, detection %q)...\n",
		pollInterval, cfg.Daemon.DetectionSchedule)

	// First detection pass runs immediately; the cron cadence governs after.
	nextDetection := deps.Clock()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Sluice daemon stopped.\n")
			return nil
		default:
		}

		now := deps.Clock().UTC()

		// Phase 1: re-arm delayed requests whose time has come.
		if n, err := lifecycle.ReleaseDueDelays(db, now); err != nil {
			log.Printf("daemon: release delays: %v", err)
		} else if n > 0 {
			fmt.Fprintf(out, "Re-armed %d delayed request(s)\n", n)
		}

		// Phase 2: implicit approvals for auto-capable units. This runs before
		// expiry: an approval-not-required request is due at the same instant
		// it would expire, and approval wins that tie.
		approved, err := lifecycle.AutoApproveDue(db, now)
		if err != nil {
			log.Printf("daemon: auto-approve: %v", err)
		}
		for _, req := range approved {
			fmt.Fprintf(out, "Auto-approved %s (unit %s)\n", req.ID, req.UnitID)
		}

		// Phase 3: expire requests past their window.
		if n, err := lifecycle.ExpireOverdue(db, now); err != nil {
			log.Printf("daemon: expire overdue: %v", err)
		} else if n > 0 {
			fmt.Fprintf(out, "Expired %d request(s)\n", n)
		}

		// Phase 4: execute everything approved.
		executeApproved(ctx, db, cfg, deps, out)

		// Phase 5: eligibility evaluation on the detection cadence. When the
		// dry-down model predicts a still-wet unit will cross its threshold
		// before the next cron slot, the next pass is pulled forward to that
		// prediction.
		if !now.Before(nextDetection) {
			suggested := evaluateUnits(ctx, db, cfg, deps, out)
			nextDetection = sched.Next(deps.Clock())
			if suggested > 0 {
				if hint := deps.Clock().Add(suggested); hint.Before(nextDetection) {
					nextDetection = hint
				}
			}
		}

		// Phase 6: remind users about long-pending requests.
		sendReminders(ctx, db, deps, now)

		if err := sleepWithContext(ctx, pollInterval); err != nil {
			fmt.Fprintf(out, "Sluice daemon stopped.\n")
			return nil
		}
	}
}

// executeApproved drains the approved pool through the executor.
func executeApproved(ctx context.Context, db *gorm.DB, cfg *config.Config, deps Deps, out io.Writer) {
	reqs, err := lifecycle.Approvable(db)
	if err != nil {
		log.Printf("daemon: list approved: %v", err)
		return
	}

	for _, req := range reqs {
		unit := cfg.Unit(req.UnitID)
		flow := 4.0
		if unit != nil {
			flow = unit.FlowRateLPM
		}

		settle := settleDelay(db, req.UnitID, cfg)

		res, err := executor.Execute(ctx, db, req.ID, executor.Opts{
			Sensor:          deps.Sensor,
			Actuator:        deps.Actuator,
			Clock:           deps.Clock,
			Learning:        learningParams(cfg),
			FlowRateLPM:     flow,
			HolderID:        "daemon",
			LockTTL:         time.Duration(cfg.Daemon.LockTTLSec) * time.Second,
			ActuatorTimeout: time.Duration(cfg.Daemon.ActuatorTimeoutSec) * time.Second,
			MaxAttempts:     cfg.Daemon.MaxAttempts,
			SettleDelay:     settle,
		})
		if err != nil {
			log.Printf("daemon: execute %s: %v", req.ID, err)
			continue
		}

		switch {
		case res.Requeued:
			fmt.Fprintf(out, "Unit %s locked, re-queued %s\n", req.UnitID, req.ID)
		case res.Success:
			fmt.Fprintf(out, "Executed %s (unit %s, %d attempt(s))\n", req.ID, req.UnitID, res.Attempts)
		default:
			fmt.Fprintf(out, "Execution failed for %s after %d attempt(s)\n", req.ID, res.Attempts)
			deps.Dispatcher.Dispatch(ctx, notify.Intent{
				Kind:     notify.KindExecutionFailed,
				UnitID:   req.UnitID,
				UserID:   req.UserID,
				Title:    "Irrigation failed on unit " + req.UnitID,
				Body:     fmt.Sprintf("request %s failed after %d attempt(s); check the actuator", req.ID, res.Attempts),
				Severity: "error",
			})
		}
	}
}

// evaluateUnits runs one eligibility cycle for every configured unit. It
// returns the soonest dry-down prediction of a still-wet unit crossing its
// threshold, or 0 when no prediction applies.
func evaluateUnits(ctx context.Context, db *gorm.DB, cfg *config.Config, deps Deps, out io.Writer) time.Duration {
	params := learningParams(cfg)
	var soonest time.Duration

	for _, unit := range cfg.Units {
		moisture, err := deps.Sensor.ReadMoisture(ctx, unit.SensorID)
		if err != nil {
			log.Printf("daemon: read sensor %s: %v", unit.SensorID, err)
			if terr := eligibility.TraceSensorError(db, unit.ID, unit.PlantID); terr != nil {
				log.Printf("daemon: %v", terr)
			}
			continue
		}

		learned, err := belief.LearnedThreshold(db, unit.ID, unit.UserID, params)
		if err != nil {
			log.Printf("daemon: threshold for %s: %v", unit.ID, err)
			continue
		}

		res, err := eligibility.Evaluate(db, eligibility.Input{
			UnitID:     unit.ID,
			PlantID:    unit.PlantID,
			UserID:     unit.UserID,
			SensorID:   unit.SensorID,
			ActuatorID: unit.ActuatorID,
			Moisture:   moisture,
			Threshold:  learned.Threshold,
			Now:        deps.Clock().UTC(),
			Learning:   params,
		})
		if err != nil {
			log.Printf("daemon: evaluate %s: %v", unit.ID, err)
			continue
		}

		if res.Decision == models.DecisionTrigger && res.Request != nil {
			fmt.Fprintf(out, "Detected dry unit %s (%.1f%% < %.1f%%), request %s\n",
				unit.ID, moisture, learned.Threshold, res.Request.ID)
			deps.Dispatcher.Dispatch(ctx, notify.Intent{
				Kind:     notify.KindRequestCreated,
				UnitID:   unit.ID,
				UserID:   unit.UserID,
				Title:    "Unit " + unit.ID + " needs water",
				Body:     fmt.Sprintf("moisture %.1f%% is below threshold %.1f%% (request %s)", moisture, learned.Threshold, res.Request.ID),
				Severity: "info",
			})
			continue
		}

		if res.SkipReason == models.SkipAboveThreshold {
			rate, rerr := drydown.Rate(db, unit.PlantID)
			if rerr != nil {
				log.Printf("daemon: dry-down rate for %s: %v", unit.PlantID, rerr)
				continue
			}
			wait := drydown.NextCheckAfter(moisture, learned.Threshold, rate)
			if soonest == 0 || wait < soonest {
				soonest = wait
			}
		}
	}
	return soonest
}

// sendReminders turns reminder-due requests into notification intents.
func sendReminders(ctx context.Context, db *gorm.DB, deps Deps, now time.Time) {
	due, err := lifecycle.DueReminders(db, now)
	if err != nil {
		log.Printf("daemon: reminders: %v", err)
		return
	}
	for _, req := range due {
		deps.Dispatcher.Dispatch(ctx, notify.Intent{
			Kind:     notify.KindReminder,
			UnitID:   req.UnitID,
			UserID:   req.UserID,
			Title:    "Irrigation request " + req.ID + " still pending",
			Body:     fmt.Sprintf("unit %s has waited since %s", req.UnitID, req.DetectedAt.Format(time.RFC3339)),
			Severity: "warning",
		})
	}
}

// settleDelay reads the unit's configured settle delay, falling back to the
// YAML default.
func settleDelay(db *gorm.DB, unitID string, cfg *config.Config) time.Duration {
	var wc models.IrrigationWorkflowConfig
	if err := db.Where("unit_id = ?", unitID).First(&wc).Error; err == nil {
		return time.Duration(wc.SettleDelayMin) * time.Minute
	}
	return time.Duration(cfg.Workflow.SettleDelayMin) * time.Minute
}

func learningParams(cfg *config.Config) belief.Params {
	return belief.Params{
		DefaultThreshold:      cfg.Learning.DefaultThreshold,
		DefaultConfidence:     cfg.Learning.DefaultConfidence,
		BaseAdjustment:        cfg.Learning.BaseAdjustment,
		NotificationTolerance: cfg.Learning.NotificationTolerance,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
