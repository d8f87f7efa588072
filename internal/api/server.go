// Package api exposes the workflow engine's capabilities over HTTP: user
// responses, feedback, manual waterings, and the audit query surfaces.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/config"
	"github.com/verdant/sluice/internal/hardware"
	"github.com/verdant/sluice/internal/notify"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB         *gorm.DB
	Config     *config.Config
	Sensor     hardware.Sensor
	Dispatcher *notify.Dispatcher
	Port       int
	Out        io.Writer
	// SettleDelay overrides the workflow settle delay for manual recordings;
	// used by tests to avoid real waits. Zero means use the unit's config.
	SettleDelay *time.Duration
}

// Start launches the API server. It blocks until ctx is cancelled, then shuts
// down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Config == nil {
		return fmt.Errorf("api: config is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	router := NewRouter(opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}

// learningParams derives belief parameters from config.
func learningParams(cfg *config.Config) belief.Params {
	return belief.Params{
		DefaultThreshold:      cfg.Learning.DefaultThreshold,
		DefaultConfidence:     cfg.Learning.DefaultConfidence,
		BaseAdjustment:        cfg.Learning.BaseAdjustment,
		NotificationTolerance: cfg.Learning.NotificationTolerance,
	}
}
