package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.PendingIrrigationRequest{},
		&models.IrrigationWorkflowConfig{},
		&models.IrrigationUserPreference{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testOpts() Opts {
	return Opts{Learning: belief.Params{
		DefaultThreshold:  45,
		DefaultConfidence: 0.5,
		BaseAdjustment:    5,
	}}
}

func seedConfig(t *testing.T, db *gorm.DB, unitID string, mutate func(*models.IrrigationWorkflowConfig)) {
	t.Helper()
	wc := models.IrrigationWorkflowConfig{
		UnitID:                   unitID,
		PlantID:                  "plant-1",
		UserID:                   "alice",
		ApprovalRequired:         true,
		ScheduledDelayMin:        30,
		DelayIncrementMin:        60,
		MaxDelayHours:            4,
		ExpirationHours:          48,
		ReminderAfterHours:       24,
		CooldownHours:            6,
		ThresholdLearningEnabled: true,
	}
	if mutate != nil {
		mutate(&wc)
	}
	if err := db.Create(&wc).Error; err != nil {
		t.Fatalf("seed workflow config: %v", err)
	}
}

func seedRequest(t *testing.T, db *gorm.DB, id, unitID, status string, detectedAt time.Time) *models.PendingIrrigationRequest {
	t.Helper()
	req := models.PendingIrrigationRequest{
		ID:                   id,
		UnitID:               unitID,
		PlantID:              "plant-1",
		UserID:               "alice",
		MoistureAtDetection:  38,
		ThresholdAtDetection: 45,
		Status:               status,
		DetectedAt:           detectedAt,
		ScheduledTime:        detectedAt.Add(30 * time.Minute),
		ExpiresAt:            detectedAt.Add(48 * time.Hour),
	}
	if err := db.Create(&req).Error; err != nil {
		t.Fatalf("seed request %s: %v", id, err)
	}
	return &req
}

func TestApprove_Pending(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC().Add(-10*time.Minute))

	req, err := Approve(db, "req-aaaaa", testOpts())
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if req.Status != models.StatusApproved {
		t.Errorf("Status = %q, want approved", req.Status)
	}
	if req.UserResponse != models.ResponseApprove {
		t.Errorf("UserResponse = %q, want approve", req.UserResponse)
	}
	if req.RespondedAt == nil {
		t.Error("RespondedAt not set")
	}

	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ? AND unit_id = ?", "alice", "unit-1").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.ImmediateApprovals != 1 {
		t.Errorf("ImmediateApprovals = %d, want 1", pref.ImmediateApprovals)
	}
	if pref.ResponseCount != 1 {
		t.Errorf("ResponseCount = %d, want 1", pref.ResponseCount)
	}
	if pref.AvgResponseMinutes < 9 || pref.AvgResponseMinutes > 11 {
		t.Errorf("AvgResponseMinutes = %v, want about 10", pref.AvgResponseMinutes)
	}
}

func TestApprove_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := Approve(db, "req-zzzzz", testOpts())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Approve = %v, want ErrNotFound", err)
	}
}

func TestApprove_TerminalIsStale(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusCancelled, time.Now().UTC())

	_, err := Approve(db, "req-aaaaa", testOpts())
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("Approve = %v, want ErrStaleTransition", err)
	}
}

func TestApprove_Replay(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	if _, err := Approve(db, "req-aaaaa", testOpts()); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	// A duplicate trigger must resolve to a no-op, not corrupt state.
	_, err := Approve(db, "req-aaaaa", testOpts())
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("second Approve = %v, want ErrStaleTransition", err)
	}

	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ?", "alice").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.ImmediateApprovals != 1 {
		t.Errorf("ImmediateApprovals = %d, want 1 after replay", pref.ImmediateApprovals)
	}
}

func TestApprove_AfterDelayCountsAsDelayed(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	if _, err := Delay(db, "req-aaaaa", testOpts()); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if _, err := Approve(db, "req-aaaaa", testOpts()); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ?", "alice").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.DelayedApprovals != 1 {
		t.Errorf("DelayedApprovals = %d, want 1", pref.DelayedApprovals)
	}
	if pref.ImmediateApprovals != 0 {
		t.Errorf("ImmediateApprovals = %d, want 0", pref.ImmediateApprovals)
	}
}

func TestDelay_PushesScheduledTime(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	req, err := Delay(db, "req-aaaaa", testOpts())
	if err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if req.Status != models.StatusDelayed {
		t.Errorf("Status = %q, want delayed", req.Status)
	}
	if req.DelayCount != 1 {
		t.Errorf("DelayCount = %d, want 1", req.DelayCount)
	}
	if req.DelayedUntil == nil {
		t.Fatal("DelayedUntil not set")
	}
	want := time.Now().UTC().Add(60 * time.Minute)
	if diff := req.DelayedUntil.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("DelayedUntil = %v, want about %v", req.DelayedUntil, want)
	}
}

func TestDelay_CustomMinutes(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	opts := testOpts()
	opts.DelayMinutes = 15
	req, err := Delay(db, "req-aaaaa", opts)
	if err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if req.DelayedUntil == nil {
		t.Fatal("DelayedUntil not set")
	}
	// The caller's increment overrides the configured 60 minutes.
	want := time.Now().UTC().Add(15 * time.Minute)
	if diff := req.DelayedUntil.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("DelayedUntil = %v, want about %v", req.DelayedUntil, want)
	}
}

func TestDelay_CustomMinutesClampAtCeiling(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", func(wc *models.IrrigationWorkflowConfig) {
		wc.MaxDelayHours = 2
	})
	detected := time.Now().UTC()
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, detected)
	ceiling := detected.Add(2 * time.Hour)

	opts := testOpts()
	opts.DelayMinutes = 600
	req, err := Delay(db, "req-aaaaa", opts)
	if err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if diff := req.DelayedUntil.Sub(ceiling); diff < -time.Second || diff > time.Second {
		t.Errorf("DelayedUntil = %v, want clamped to ceiling %v", req.DelayedUntil, ceiling)
	}
}

func TestDelay_AppliesWeakFeedback(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	if _, err := Delay(db, "req-aaaaa", testOpts()); err != nil {
		t.Fatalf("Delay: %v", err)
	}

	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ?", "alice").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	// delay at confidence 0.5 with base 5: mean drops by 5*0.5*0.4 = 1.
	if pref.ThresholdMean >= 45 {
		t.Errorf("ThresholdMean = %v, want below default after delay", pref.ThresholdMean)
	}
	if pref.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", pref.SampleCount)
	}
}

func TestDelay_LearningDisabled(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", func(wc *models.IrrigationWorkflowConfig) {
		wc.ThresholdLearningEnabled = false
	})
	// The default tag would flip the zero value back to true on insert.
	if err := db.Model(&models.IrrigationWorkflowConfig{}).
		Where("unit_id = ?", "unit-1").
		Update("threshold_learning_enabled", false).Error; err != nil {
		t.Fatalf("disable learning: %v", err)
	}
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	if _, err := Delay(db, "req-aaaaa", testOpts()); err != nil {
		t.Fatalf("Delay: %v", err)
	}

	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ?", "alice").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.SampleCount != 0 {
		t.Errorf("SampleCount = %d, want 0 with learning disabled", pref.SampleCount)
	}
}

func TestDelay_RepeatedDelaysClampAtCeiling(t *testing.T) {
	db := openTestDB(t)
	// 2h ceiling, 150min increments: every delay overshoots and is clamped.
	seedConfig(t, db, "unit-1", func(wc *models.IrrigationWorkflowConfig) {
		wc.MaxDelayHours = 2
		wc.DelayIncrementMin = 150
	})
	detected := time.Now().UTC()
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, detected)
	ceiling := detected.Add(2 * time.Hour)

	first, err := Delay(db, "req-aaaaa", testOpts())
	if err != nil {
		t.Fatalf("first Delay: %v", err)
	}
	if diff := first.DelayedUntil.Sub(ceiling); diff < -time.Second || diff > time.Second {
		t.Errorf("first DelayedUntil = %v, want clamped to ceiling %v", first.DelayedUntil, ceiling)
	}

	second, err := Delay(db, "req-aaaaa", testOpts())
	if err != nil {
		t.Fatalf("second Delay: %v", err)
	}
	if second.DelayedUntil.After(ceiling) {
		t.Errorf("second DelayedUntil = %v past ceiling %v", second.DelayedUntil, ceiling)
	}
	if second.DelayCount != 2 {
		t.Errorf("DelayCount = %d, want 2", second.DelayCount)
	}
}

func TestDelay_PastCeilingBecomesApproval(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", func(wc *models.IrrigationWorkflowConfig) {
		wc.MaxDelayHours = 2
	})
	// Detected over two hours ago: the clamped target is already in the past.
	detected := time.Now().UTC().Add(-3 * time.Hour)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, detected)

	req, err := Delay(db, "req-aaaaa", testOpts())
	if err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if req.Status != models.StatusApproved {
		t.Errorf("Status = %q, want approved once the ceiling has passed", req.Status)
	}
}

func TestCancel(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusDelayed, time.Now().UTC())

	req, err := Cancel(db, "req-aaaaa", testOpts())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if req.Status != models.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", req.Status)
	}
	if !req.Terminal() {
		t.Error("cancelled request not terminal")
	}

	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ?", "alice").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.Cancellations != 1 {
		t.Errorf("Cancellations = %d, want 1", pref.Cancellations)
	}
}

func TestCancel_ExecutedIsStale(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "unit-1", nil)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusExecuted, time.Now().UTC())

	_, err := Cancel(db, "req-aaaaa", testOpts())
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("Cancel = %v, want ErrStaleTransition", err)
	}
}

func TestList_Filters(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, now.Add(-2*time.Hour))
	seedRequest(t, db, "req-bbbbb", "unit-1", models.StatusExpired, now.Add(-time.Hour))
	seedRequest(t, db, "req-ccccc", "unit-2", models.StatusPending, now)

	all, err := List(db, ListFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "req-ccccc" {
		t.Errorf("first = %q, want newest req-ccccc", all[0].ID)
	}

	unit1, err := List(db, ListFilters{UnitID: "unit-1"})
	if err != nil {
		t.Fatalf("List unit-1: %v", err)
	}
	if len(unit1) != 2 {
		t.Errorf("unit-1 len = %d, want 2", len(unit1))
	}

	pending, err := List(db, ListFilters{Status: models.StatusPending, Limit: 1})
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending len = %d, want 1 with limit", len(pending))
	}
}

func TestGet(t *testing.T) {
	db := openTestDB(t)
	seedRequest(t, db, "req-aaaaa", "unit-1", models.StatusPending, time.Now().UTC())

	req, err := Get(db, "req-aaaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.ID != "req-aaaaa" {
		t.Errorf("ID = %q", req.ID)
	}

	if _, err := Get(db, "req-zzzzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}
