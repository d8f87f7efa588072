package db

import (
	"fmt"

	"github.com/verdant/sluice/internal/config"
	"github.com/verdant/sluice/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.PendingIrrigationRequest{},
		&models.IrrigationWorkflowConfig{},
		&models.IrrigationUserPreference{},
		&models.IrrigationExecutionLog{},
		&models.IrrigationEligibilityTrace{},
		&models.ManualIrrigationLog{},
		&models.PlantIrrigationModel{},
		&models.IrrigationLock{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every table and recreates the schema. All stored requests,
// beliefs, and logs are lost.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}

// SeedWorkflowConfigs upserts one IrrigationWorkflowConfig row per configured
// unit from the YAML defaults. Existing rows keep their timing knobs only if
// the upsert columns are untouched by user-facing settings; seeding is the
// install-time path, not the runtime one.
func SeedWorkflowConfigs(db *gorm.DB, cfg *config.Config) error {
	for _, u := range cfg.Units {
		wc := models.IrrigationWorkflowConfig{
			UnitID:                   u.ID,
			PlantID:                  u.PlantID,
			UserID:                   u.UserID,
			ApprovalRequired:         cfg.Workflow.ApprovalRequired,
			AutoIrrigationEnabled:    cfg.Workflow.AutoIrrigationEnabled,
			ManualModeEnabled:        cfg.Workflow.ManualModeEnabled,
			ScheduledDelayMin:        cfg.Workflow.ScheduledDelayMin,
			DelayIncrementMin:        cfg.Workflow.DelayIncrementMin,
			MaxDelayHours:            cfg.Workflow.MaxDelayHours,
			ExpirationHours:          cfg.Workflow.ExpirationHours,
			ReminderAfterHours:       cfg.Workflow.ReminderAfterHours,
			SettleDelayMin:           cfg.Workflow.SettleDelayMin,
			CooldownHours:            cfg.Workflow.CooldownHours,
			ThresholdLearningEnabled: true,
			DryDownLearningEnabled:   true,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unit_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"plant_id", "user_id"}),
		}).Create(&wc)
		if result.Error != nil {
			return fmt.Errorf("db: seed workflow config for unit %q: %w", u.ID, result.Error)
		}
	}
	return nil
}
