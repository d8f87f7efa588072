package drydown

import (
	"math"
	"strings"
	"testing"
	"time"

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
	if err := db.AutoMigrate(&models.PlantIrrigationModel{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestRecordDrying_FirstObservation(t *testing.T) {
	db := openTestDB(t)

	// 4 points over 2 hours: 2 points per hour.
	if err := RecordDrying(db, "tomato", "unit-1", 4, 2*time.Hour); err != nil {
		t.Fatalf("RecordDrying: %v", err)
	}

	rate, err := Rate(db, "tomato")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if math.Abs(rate-2) > 1e-9 {
		t.Errorf("rate = %v, want 2", rate)
	}

	var m models.PlantIrrigationModel
	if err := db.First(&m, "plant_id = ?", "tomato").Error; err != nil {
		t.Fatalf("load model: %v", err)
	}
	if m.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", m.SampleCount)
	}
	if m.LastObservedAt == nil {
		t.Error("LastObservedAt not set")
	}
}

func TestRecordDrying_EWMA(t *testing.T) {
	db := openTestDB(t)

	if err := RecordDrying(db, "tomato", "unit-1", 2, time.Hour); err != nil {
		t.Fatalf("first RecordDrying: %v", err)
	}
	if err := RecordDrying(db, "tomato", "unit-1", 4, time.Hour); err != nil {
		t.Fatalf("second RecordDrying: %v", err)
	}

	// 0.7*2 + 0.3*4 = 2.6
	rate, err := Rate(db, "tomato")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if math.Abs(rate-2.6) > 1e-9 {
		t.Errorf("rate = %v, want 2.6", rate)
	}
}

func TestRecordDrying_IgnoresBadWindows(t *testing.T) {
	db := openTestDB(t)

	if err := RecordDrying(db, "tomato", "unit-1", 2, 0); err != nil {
		t.Fatalf("zero window: %v", err)
	}
	// Rain or a manual top-up between readings looks like a negative drop.
	if err := RecordDrying(db, "tomato", "unit-1", -3, time.Hour); err != nil {
		t.Fatalf("negative drop: %v", err)
	}

	var count int64
	db.Model(&models.PlantIrrigationModel{}).Count(&count)
	if count != 0 {
		t.Errorf("model rows = %d, want 0", count)
	}
}

func TestRecordDrying_EmptyPlantID(t *testing.T) {
	err := RecordDrying(nil, "", "unit-1", 2, time.Hour)
	if err == nil {
		t.Fatal("expected error for empty plant ID")
	}
	if !strings.Contains(err.Error(), "plant ID is required") {
		t.Errorf("error = %q", err)
	}
}

func TestRate_Unknown(t *testing.T) {
	db := openTestDB(t)
	rate, err := Rate(db, "nope")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if rate != 0 {
		t.Errorf("rate = %v, want 0 for unknown plant", rate)
	}
}

func TestEstimateRunDuration(t *testing.T) {
	tests := []struct {
		name string
		gap  float64
		rate float64
		flow float64
		want time.Duration
	}{
		// 8 points / 2 per liter = 4 liters; at 4 L/min that's 1 minute.
		{"typical", 8, 0, 4, time.Minute},
		// A learned rate of 2 points/hour adds an hour of headroom:
		// (8 + 2) / 2 = 5 liters, 75 seconds at 4 L/min.
		{"learned rate adds headroom", 8, 2, 4, 75 * time.Second},
		// Tiny gaps clamp up to the minimum pulse.
		{"minimum pulse", 0.1, 0, 4, 30 * time.Second},
		{"zero gap defaults", 0, 0, 4, 30 * time.Second},
		// Huge gaps clamp to the flood ceiling.
		{"ceiling", 500, 0, 1, 10 * time.Minute},
		{"zero flow defaults", 8, 0, 0, 4 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateRunDuration(tt.gap, tt.rate, tt.flow); got != tt.want {
				t.Errorf("EstimateRunDuration(%v, %v, %v) = %v, want %v", tt.gap, tt.rate, tt.flow, got, tt.want)
			}
		})
	}
}

func TestNextCheckAfter(t *testing.T) {
	// 10 points above threshold at 2 points/hour: 5 hours out.
	if got := NextCheckAfter(55, 45, 2); got != 5*time.Hour {
		t.Errorf("NextCheckAfter = %v, want 5h", got)
	}
	// Unknown rate falls back to an hour.
	if got := NextCheckAfter(55, 45, 0); got != time.Hour {
		t.Errorf("NextCheckAfter with no rate = %v, want 1h", got)
	}
	// Already at or below threshold: check again soon.
	if got := NextCheckAfter(40, 45, 2); got != time.Hour {
		t.Errorf("NextCheckAfter below threshold = %v, want 1h", got)
	}
	// Capped at a day.
	if got := NextCheckAfter(100, 45, 0.1); got != 24*time.Hour {
		t.Errorf("NextCheckAfter = %v, want 24h cap", got)
	}
}
