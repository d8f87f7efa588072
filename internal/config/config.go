// Package config provides YAML-based configuration loading for Sluice.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Sluice configuration, loaded from sluice.yaml.
type Config struct {
	Site     string         `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	Units    []UnitConfig   `yaml:"units"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Learning LearningConfig `yaml:"learning"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Hardware HardwareConfig `yaml:"hardware"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
}

// DatabaseConfig holds connection settings. Driver is "sqlite" or "mysql".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// UnitConfig describes one growing unit under management.
type UnitConfig struct {
	ID          string  `yaml:"id"`
	PlantID     string  `yaml:"plant_id"`
	UserID      string  `yaml:"user_id"`
	SensorID    string  `yaml:"sensor_id"`
	ActuatorID  string  `yaml:"actuator_id"` // empty for manual-only units
	FlowRateLPM float64 `yaml:"flow_rate_lpm"`
}

// WorkflowConfig holds per-unit workflow defaults, seeded into the database
// on migration and editable there afterwards.
type WorkflowConfig struct {
	ApprovalRequired      bool    `yaml:"approval_required"`
	AutoIrrigationEnabled bool    `yaml:"auto_irrigation_enabled"`
	ManualModeEnabled     bool    `yaml:"manual_mode_enabled"`
	ScheduledDelayMin     int     `yaml:"scheduled_delay_min"`
	DelayIncrementMin     int     `yaml:"delay_increment_min"`
	MaxDelayHours         float64 `yaml:"max_delay_hours"`
	ExpirationHours       float64 `yaml:"expiration_hours"`
	ReminderAfterHours    float64 `yaml:"reminder_after_hours"`
	SettleDelayMin        int     `yaml:"settle_delay_min"`
	CooldownHours         float64 `yaml:"cooldown_hours"`
}

// LearningConfig holds the threshold-belief parameters.
type LearningConfig struct {
	DefaultThreshold      float64 `yaml:"default_threshold"`
	DefaultConfidence     float64 `yaml:"default_confidence"`
	BaseAdjustment        float64 `yaml:"base_adjustment"`
	NotificationTolerance float64 `yaml:"notification_tolerance"`
}

// DaemonConfig controls the detection/sweep loop.
type DaemonConfig struct {
	PollIntervalSec    int    `yaml:"poll_interval_sec"`
	DetectionSchedule  string `yaml:"detection_schedule"` // 5-field cron
	LockTTLSec         int    `yaml:"lock_ttl_sec"`
	ActuatorTimeoutSec int    `yaml:"actuator_timeout_sec"`
	MaxAttempts        int    `yaml:"max_attempts"`
}

// HardwareConfig holds the shell command templates for sensor and actuator I/O.
type HardwareConfig struct {
	MoistureCommand string `yaml:"moisture_command"` // prints a float percentage
	ActuatorCommand string `yaml:"actuator_command"`
}

// NotifyConfig configures notification delivery channels.
type NotifyConfig struct {
	Command string              `yaml:"command"` // shell template, e.g. notify-send
	Slack   SlackNotifyConfig   `yaml:"slack"`
	Discord DiscordNotifyConfig `yaml:"discord"`
}

// SlackNotifyConfig holds Slack bot credentials and target channel.
type SlackNotifyConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordNotifyConfig holds Discord bot credentials and target channel.
type DiscordNotifyConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "sluice.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" && c.Site != "" {
		c.Database.Name = "sluice_" + c.Site
	}

	if c.Workflow.ScheduledDelayMin == 0 {
		c.Workflow.ScheduledDelayMin = 30
	}
	if c.Workflow.DelayIncrementMin == 0 {
		c.Workflow.DelayIncrementMin = 60
	}
	if c.Workflow.MaxDelayHours == 0 {
		c.Workflow.MaxDelayHours = 4
	}
	if c.Workflow.ExpirationHours == 0 {
		c.Workflow.ExpirationHours = 48
	}
	if c.Workflow.ReminderAfterHours == 0 {
		c.Workflow.ReminderAfterHours = c.Workflow.ExpirationHours / 2
	}
	if c.Workflow.SettleDelayMin == 0 {
		c.Workflow.SettleDelayMin = 20
	}
	if c.Workflow.CooldownHours == 0 {
		c.Workflow.CooldownHours = 6
	}

	if c.Learning.DefaultThreshold == 0 {
		c.Learning.DefaultThreshold = 45
	}
	if c.Learning.DefaultConfidence == 0 {
		c.Learning.DefaultConfidence = 0.5
	}
	if c.Learning.BaseAdjustment == 0 {
		c.Learning.BaseAdjustment = 5
	}
	if c.Learning.NotificationTolerance == 0 {
		c.Learning.NotificationTolerance = 2
	}

	if c.Daemon.PollIntervalSec == 0 {
		c.Daemon.PollIntervalSec = 30
	}
	if c.Daemon.DetectionSchedule == "" {
		c.Daemon.DetectionSchedule = "*/15 * * * *"
	}
	if c.Daemon.LockTTLSec == 0 {
		c.Daemon.LockTTLSec = 300
	}
	if c.Daemon.ActuatorTimeoutSec == 0 {
		c.Daemon.ActuatorTimeoutSec = 120
	}
	if c.Daemon.MaxAttempts == 0 {
		c.Daemon.MaxAttempts = 3
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	for i := range c.Units {
		if c.Units[i].FlowRateLPM == 0 {
			c.Units[i].FlowRateLPM = 4
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Site == "" {
		errs = append(errs, "site is required")
	}
	if len(c.Units) == 0 {
		errs = append(errs, "at least one unit is required")
	}
	seen := map[string]bool{}
	for i, u := range c.Units {
		if u.ID == "" {
			errs = append(errs, fmt.Sprintf("units[%d].id is required", i))
			continue
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Sprintf("units[%d].id %q is duplicated", i, u.ID))
		}
		seen[u.ID] = true
		if u.SensorID == "" {
			errs = append(errs, fmt.Sprintf("units[%d].sensor_id is required", i))
		}
		if u.UserID == "" {
			errs = append(errs, fmt.Sprintf("units[%d].user_id is required", i))
		}
		if u.PlantID == "" {
			errs = append(errs, fmt.Sprintf("units[%d].plant_id is required", i))
		}
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Daemon.LockTTLSec < c.Daemon.ActuatorTimeoutSec {
		errs = append(errs, "daemon.lock_ttl_sec must be >= daemon.actuator_timeout_sec")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Unit returns the unit config with the given ID, or nil if not configured.
func (c *Config) Unit(id string) *UnitConfig {
	for i := range c.Units {
		if c.Units[i].ID == id {
			return &c.Units[i]
		}
	}
	return nil
}
