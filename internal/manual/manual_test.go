package manual

import (
	"context"
	"fmt"
	"strings"
	"sync"
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
		&models.ManualIrrigationLog{},
		&models.IrrigationUserPreference{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type scriptedSensor struct {
	mu       sync.Mutex
	readings []float64
	failFrom int // fail from the nth read (1-based); 0 never fails
	reads    int
}

func (s *scriptedSensor) ReadMoisture(ctx context.Context, sensorID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failFrom > 0 && s.reads >= s.failFrom {
		return 0, fmt.Errorf("sensor %s offline", sensorID)
	}
	v := s.readings[0]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return v, nil
}

func testOpts(sensor *scriptedSensor) Opts {
	return Opts{
		UnitID:   "unit-1",
		PlantID:  "tomato",
		UserID:   "alice",
		SensorID: "sensor-1",
		Sensor:   sensor,
		Learning: belief.Params{DefaultThreshold: 45, DefaultConfidence: 0.5, BaseAdjustment: 5},
	}
}

func TestRecord_FullCycle(t *testing.T) {
	db := openTestDB(t)
	sensor := &scriptedSensor{readings: []float64{40, 52}}
	opts := testOpts(sensor)
	amount := 500.0
	opts.AmountML = &amount
	opts.Notes = "watering can"

	entry, err := Record(context.Background(), db, opts)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.PreMoisture != 40 {
		t.Errorf("PreMoisture = %v, want 40", entry.PreMoisture)
	}
	if entry.PostMoisture == nil || *entry.PostMoisture != 52 {
		t.Errorf("PostMoisture = %v, want 52", entry.PostMoisture)
	}
	if entry.DeltaMoisture == nil || *entry.DeltaMoisture != 12 {
		t.Errorf("DeltaMoisture = %v, want 12", entry.DeltaMoisture)
	}
	if entry.SettledAt == nil {
		t.Error("SettledAt not set")
	}
	if entry.AmountML == nil || *entry.AmountML != 500 {
		t.Errorf("AmountML = %v, want 500", entry.AmountML)
	}

	// Manual watering reinforces the belief without moving the mean.
	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ? AND unit_id = ?", "alice", "unit-1").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.ThresholdMean != 45 {
		t.Errorf("ThresholdMean = %v, want unchanged 45", pref.ThresholdMean)
	}
	if pref.Confidence <= 0.5 {
		t.Errorf("Confidence = %v, want raised", pref.Confidence)
	}
	if pref.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", pref.SampleCount)
	}
}

func TestRecord_PreReadFails(t *testing.T) {
	db := openTestDB(t)
	sensor := &scriptedSensor{failFrom: 1}

	_, err := Record(context.Background(), db, testOpts(sensor))
	if err == nil {
		t.Fatal("expected error when pre read fails")
	}

	var count int64
	db.Model(&models.ManualIrrigationLog{}).Count(&count)
	if count != 0 {
		t.Errorf("log rows = %d, want 0", count)
	}
}

func TestRecord_PostReadFails(t *testing.T) {
	db := openTestDB(t)
	sensor := &scriptedSensor{readings: []float64{40}, failFrom: 2}

	entry, err := Record(context.Background(), db, testOpts(sensor))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.PostMoisture != nil {
		t.Errorf("PostMoisture = %v, want nil", entry.PostMoisture)
	}

	// The watering still counts as feedback.
	var pref models.IrrigationUserPreference
	if err := db.First(&pref, "user_id = ?", "alice").Error; err != nil {
		t.Fatalf("load preference: %v", err)
	}
	if pref.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1 without a post read", pref.SampleCount)
	}
}

func TestRecord_MissingFields(t *testing.T) {
	db := openTestDB(t)
	sensor := &scriptedSensor{readings: []float64{40}}

	opts := testOpts(sensor)
	opts.UnitID = ""
	if _, err := Record(context.Background(), db, opts); err == nil || !strings.Contains(err.Error(), "unit ID is required") {
		t.Errorf("missing unit error = %v", err)
	}

	opts = testOpts(sensor)
	opts.UserID = ""
	if _, err := Record(context.Background(), db, opts); err == nil || !strings.Contains(err.Error(), "user ID is required") {
		t.Errorf("missing user error = %v", err)
	}

	opts = testOpts(sensor)
	opts.Sensor = nil
	if _, err := Record(context.Background(), db, opts); err == nil || !strings.Contains(err.Error(), "sensor is required") {
		t.Errorf("missing sensor error = %v", err)
	}
}

func TestRecord_CancelledDuringSettle(t *testing.T) {
	db := openTestDB(t)
	sensor := &scriptedSensor{readings: []float64{40, 52}}
	opts := testOpts(sensor)
	opts.SettleDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry, err := Record(ctx, db, opts)
	if err == nil {
		t.Fatal("expected context error during settle delay")
	}
	// The pre-read log entry survives the abort.
	if entry == nil || entry.PreMoisture != 40 {
		t.Errorf("entry = %+v, want pre-read row", entry)
	}
}
