// Package belief maintains the per-(user, unit) moisture-threshold belief and
// applies feedback updates to it.
package belief

import (
	"errors"
	"fmt"

	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
)

// FeedbackType is the closed set of signals the adjuster accepts. Expired
// requests never produce feedback; silence must not be misread as rejection.
type FeedbackType string

const (
	FeedbackTooEarly FeedbackType = "too_early"
	FeedbackTooLate  FeedbackType = "too_late"
	FeedbackDelay    FeedbackType = "delay"
	FeedbackAccept   FeedbackType = "accept"
	FeedbackManual   FeedbackType = "manual"
)

// maxConfidence keeps the system permanently willing to revise under
// sustained contradictory evidence.
const maxConfidence = 0.95

// ErrUnknownFeedback is returned for a feedback type outside the closed set.
var ErrUnknownFeedback = errors.New("belief: unknown feedback type")

// Params holds the learning constants, sourced from config.
type Params struct {
	DefaultThreshold      float64
	DefaultConfidence     float64
	BaseAdjustment        float64
	NotificationTolerance float64
}

// Update describes the outcome of one feedback application.
type Update struct {
	OldMean    float64
	NewMean    float64
	Adjustment float64
	Confidence float64
	Notify     bool // |adjustment| crossed the notification tolerance
}

// ValidFeedback reports whether t is one of the accepted feedback types.
func ValidFeedback(t FeedbackType) bool {
	switch t {
	case FeedbackTooEarly, FeedbackTooLate, FeedbackDelay, FeedbackAccept, FeedbackManual:
		return true
	}
	return false
}

// EnsurePreference fetches the (user, unit) preference row, creating it with
// the default belief on first use.
func EnsurePreference(db *gorm.DB, userID, unitID string, p Params) (*models.IrrigationUserPreference, error) {
	var pref models.IrrigationUserPreference
	err := db.Where("user_id = ? AND unit_id = ?", userID, unitID).First(&pref).Error
	if err == nil {
		return &pref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("belief: load preference %s/%s: %w", userID, unitID, err)
	}

	pref = models.IrrigationUserPreference{
		UserID:        userID,
		UnitID:        unitID,
		ThresholdMean: p.DefaultThreshold,
		Confidence:    p.DefaultConfidence,
	}
	if err := db.Create(&pref).Error; err != nil {
		return nil, fmt.Errorf("belief: create preference %s/%s: %w", userID, unitID, err)
	}
	return &pref, nil
}

// Apply consumes one feedback event and persists the updated belief. The
// adjustment magnitude shrinks as confidence grows, so the belief stabilizes
// rather than oscillating under late, noisy feedback.
func Apply(db *gorm.DB, userID, unitID string, ftype FeedbackType, p Params) (*Update, error) {
	if !ValidFeedback(ftype) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeedback, ftype)
	}

	pref, err := EnsurePreference(db, userID, unitID, p)
	if err != nil {
		return nil, err
	}

	up := Update{OldMean: pref.ThresholdMean}
	size := p.BaseAdjustment * (1 - pref.Confidence)

	switch ftype {
	case FeedbackTooEarly:
		up.Adjustment = -size
		pref.Confidence += 0.05
	case FeedbackTooLate:
		up.Adjustment = size
		pref.Confidence += 0.05
	case FeedbackDelay:
		up.Adjustment = -size * 0.4
		pref.Confidence += 0.02
	case FeedbackAccept, FeedbackManual:
		// Reinforcement: mean unchanged.
		pref.Confidence += 0.10
	}

	pref.ThresholdMean += up.Adjustment
	pref.Confidence = clamp(pref.Confidence, 0, maxConfidence)
	pref.SampleCount++

	up.NewMean = pref.ThresholdMean
	up.Confidence = pref.Confidence
	up.Notify = abs(up.Adjustment) >= p.NotificationTolerance

	err = db.Model(&models.IrrigationUserPreference{}).
		Where("id = ?", pref.ID).
		Updates(map[string]interface{}{
			"threshold_mean": pref.ThresholdMean,
			"confidence":     pref.Confidence,
			"sample_count":   pref.SampleCount,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("belief: persist update %s/%s: %w", userID, unitID, err)
	}
	return &up, nil
}

// Learned holds the current belief for query surfaces.
type Learned struct {
	Threshold   float64 `json:"threshold"`
	Confidence  float64 `json:"confidence"`
	SampleCount int     `json:"sample_count"`
}

// LearnedThreshold returns the current belief for a unit. With an empty
// userID, the most-sampled belief for the unit wins. Units with no feedback
// yet fall back to the configured default.
func LearnedThreshold(db *gorm.DB, unitID, userID string, p Params) (*Learned, error) {
	q := db.Where("unit_id = ?", unitID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var pref models.IrrigationUserPreference
	err := q.Order("sample_count DESC").First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Learned{Threshold: p.DefaultThreshold, Confidence: p.DefaultConfidence}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("belief: load threshold for %s: %w", unitID, err)
	}
	return &Learned{
		Threshold:   pref.ThresholdMean,
		Confidence:  pref.Confidence,
		SampleCount: pref.SampleCount,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
