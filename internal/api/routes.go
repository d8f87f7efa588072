package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/lifecycle"
	"github.com/verdant/sluice/internal/manual"
	"github.com/verdant/sluice/internal/models"
	"github.com/verdant/sluice/internal/notify"
	"gorm.io/gorm"
)

func registerRoutes(router *gin.Engine, opts StartOpts) {
	apiGroup := router.Group("/api")

	apiGroup.POST("/requests/:id/response", func(c *gin.Context) { handleResponse(c, opts) })
	apiGroup.GET("/requests", func(c *gin.Context) { handleListRequests(c, opts.DB) })
	apiGroup.GET("/requests/:id", func(c *gin.Context) { handleGetRequest(c, opts.DB) })

	apiGroup.POST("/feedback", func(c *gin.Context) { handleFeedback(c, opts) })
	apiGroup.POST("/manual", func(c *gin.Context) { handleManual(c, opts) })

	apiGroup.GET("/units/:unit/threshold", func(c *gin.Context) { handleThreshold(c, opts) })
	apiGroup.GET("/units/:unit/trace", func(c *gin.Context) { handleTrace(c, opts.DB) })
	apiGroup.GET("/units/:unit/executions", func(c *gin.Context) { handleExecutions(c, opts.DB) })
}

type responseBody struct {
	Response     string `json:"response" binding:"required"`
	DelayMinutes int    `json:"delay_minutes"`
}

// handleResponse applies a user response to a request. Replaying a response
// against an already-terminal request is a no-op, not an error.
func handleResponse(c *gin.Context, opts StartOpts) {
	id := c.Param("id")
	var body responseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lopts := lifecycle.Opts{
		Learning:     learningParams(opts.Config),
		DelayMinutes: body.DelayMinutes,
	}

	var req *models.PendingIrrigationRequest
	var err error
	switch body.Response {
	case models.ResponseApprove:
		req, err = lifecycle.Approve(opts.DB, id, lopts)
	case models.ResponseDelay:
		req, err = lifecycle.Delay(opts.DB, id, lopts)
	case models.ResponseCancel:
		req, err = lifecycle.Cancel(opts.DB, id, lopts)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "response must be approve, delay, or cancel"})
		return
	}

	if errors.Is(err, lifecycle.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	if errors.Is(err, lifecycle.ErrStaleTransition) {
		current, gerr := lifecycle.Get(opts.DB, id)
		if gerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gerr.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"request": current, "noop": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": req})
}

func handleListRequests(c *gin.Context, db *gorm.DB) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	reqs, err := lifecycle.List(db, lifecycle.ListFilters{
		UnitID: c.Query("unit"),
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func handleGetRequest(c *gin.Context, db *gorm.DB) {
	req, err := lifecycle.Get(db, c.Param("id"))
	if errors.Is(err, lifecycle.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

type feedbackBody struct {
	UnitID       string   `json:"unit_id" binding:"required"`
	UserID       string   `json:"user_id" binding:"required"`
	FeedbackType string   `json:"feedback_type" binding:"required"`
	Moisture     *float64 `json:"moisture"`
}

func handleFeedback(c *gin.Context, opts StartOpts) {
	var body feedbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ftype := belief.FeedbackType(body.FeedbackType)
	if !belief.ValidFeedback(ftype) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown feedback type"})
		return
	}

	up, err := belief.Apply(opts.DB, body.UserID, body.UnitID, ftype, learningParams(opts.Config))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if up.Notify && opts.Dispatcher != nil {
		opts.Dispatcher.Dispatch(c.Request.Context(), notify.Intent{
			Kind:     notify.KindThresholdChanged,
			UnitID:   body.UnitID,
			UserID:   body.UserID,
			Title:    "Moisture threshold adjusted",
			Body:     thresholdChangeBody(up),
			Severity: "info",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"threshold":  up.NewMean,
		"adjustment": up.Adjustment,
		"confidence": up.Confidence,
	})
}

type manualBody struct {
	UnitID   string   `json:"unit_id" binding:"required"`
	PlantID  string   `json:"plant_id"`
	AmountML *float64 `json:"amount_ml"`
	Notes    string   `json:"notes"`
}

func handleManual(c *gin.Context, opts StartOpts) {
	var body manualBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	unit := opts.Config.Unit(body.UnitID)
	if unit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unit not configured"})
		return
	}

	settle := time.Duration(opts.Config.Workflow.SettleDelayMin) * time.Minute
	if opts.SettleDelay != nil {
		settle = *opts.SettleDelay
	}

	plantID := body.PlantID
	if plantID == "" {
		plantID = unit.PlantID
	}

	entry, err := manual.Record(c.Request.Context(), opts.DB, manual.Opts{
		UnitID:      body.UnitID,
		PlantID:     plantID,
		UserID:      unit.UserID,
		SensorID:    unit.SensorID,
		AmountML:    body.AmountML,
		Notes:       body.Notes,
		Sensor:      opts.Sensor,
		SettleDelay: settle,
		Learning:    learningParams(opts.Config),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": entry})
}

func handleThreshold(c *gin.Context, opts StartOpts) {
	learned, err := belief.LearnedThreshold(opts.DB, c.Param("unit"), c.Query("user"), learningParams(opts.Config))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, learned)
}

func handleTrace(c *gin.Context, db *gorm.DB) {
	hours, _ := strconv.ParseFloat(c.DefaultQuery("hours", "24"), 64)
	cutoff := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))

	var traces []models.IrrigationEligibilityTrace
	err := db.Where("unit_id = ? AND created_at > ?", c.Param("unit"), cutoff).
		Order("created_at DESC").
		Find(&traces).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trace": traces})
}

func handleExecutions(c *gin.Context, db *gorm.DB) {
	hours, _ := strconv.ParseFloat(c.DefaultQuery("hours", "168"), 64)
	cutoff := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))

	var logs []models.IrrigationExecutionLog
	err := db.Where("unit_id = ? AND created_at > ?", c.Param("unit"), cutoff).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": logs})
}

func thresholdChangeBody(up *belief.Update) string {
	return "threshold moved from " +
		strconv.FormatFloat(up.OldMean, 'f', 1, 64) + "% to " +
		strconv.FormatFloat(up.NewMean, 'f', 1, 64) + "% (confidence " +
		strconv.FormatFloat(up.Confidence, 'f', 2, 64) + ")"
}
