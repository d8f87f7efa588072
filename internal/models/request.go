package models

import "time"

// Request statuses. Cancelled and expired are terminal; executed is terminal
// once the coordinator has written its outcome.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusDelayed   = "delayed"
	StatusExecuted  = "executed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Execution statuses on a request.
const (
	ExecStatusNone    = ""
	ExecStatusRunning = "running"
	ExecStatusSuccess = "success"
	ExecStatusFailed  = "failed"
)

// User responses recorded on a request.
const (
	ResponseApprove = "approve"
	ResponseDelay   = "delay"
	ResponseCancel  = "cancel"
	ResponseAuto    = "auto"
)

// NonTerminalStatuses are the statuses in which a request still blocks new
// detections for its unit.
var NonTerminalStatuses = []string{StatusPending, StatusApproved, StatusDelayed}

// PendingIrrigationRequest is one detected irrigation opportunity. At most one
// non-terminal request exists per unit at a time.
type PendingIrrigationRequest struct {
	ID         string `gorm:"primaryKey;size:32"`
	UnitID     string `gorm:"size:64;not null;index"`
	PlantID    string `gorm:"size:64;not null"`
	UserID     string `gorm:"size:64;not null;index"`
	SensorID   string `gorm:"size:64"`
	ActuatorID string `gorm:"size:64"`

	MoistureAtDetection  float64
	ThresholdAtDetection float64

	Status          string `gorm:"size:16;default:pending;index"`
	ExecutionStatus string `gorm:"size:16;default:''"`
	AttemptCount    int    `gorm:"default:0"`

	DetectedAt    time.Time `gorm:"index"`
	ScheduledTime time.Time `gorm:"index"`
	DelayedUntil  *time.Time
	ExpiresAt     time.Time `gorm:"index"`

	UserResponse   string `gorm:"size:16"`
	RespondedAt    *time.Time
	DelayCount     int `gorm:"default:0"`
	ReminderSentAt *time.Time

	ExecutedAt       *time.Time
	ActualDurationS  float64
	PostMoisture     *float64
	DeltaMoisture    *float64
	ExecutionSuccess *bool
	ExecutionError   string `gorm:"type:text"`

	FeedbackID *uint

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the request can never change state again.
func (r *PendingIrrigationRequest) Terminal() bool {
	switch r.Status {
	case StatusExecuted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}
