package main

import (
	"log"

	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/config"
	"github.com/verdant/sluice/internal/db"
	"github.com/verdant/sluice/internal/hardware"
	"github.com/verdant/sluice/internal/notify"
	"github.com/verdant/sluice/internal/notify/discord"
	"github.com/verdant/sluice/internal/notify/slack"
	"gorm.io/gorm"
)

const defaultConfigPath = "sluice.yaml"

// openFromConfig loads the config and opens the database.
func openFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gdb, nil
}

// buildDispatcher wires every configured notification channel. Misconfigured
// channels are skipped with a log line rather than blocking startup.
func buildDispatcher(cfg *config.Config) *notify.Dispatcher {
	var channels []notify.Notifier

	if cfg.Notify.Command != "" {
		channels = append(channels, &notify.CommandNotifier{Command: cfg.Notify.Command})
	}
	if cfg.Notify.Slack.ChannelID != "" {
		n, err := slack.New(slack.Opts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.ChannelID,
		})
		if err != nil {
			log.Printf("notify: slack disabled: %v", err)
		} else {
			channels = append(channels, n)
		}
	}
	if cfg.Notify.Discord.ChannelID != "" {
		n, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			log.Printf("notify: discord disabled: %v", err)
		} else {
			channels = append(channels, n)
		}
	}

	return notify.NewDispatcher(channels...)
}

// buildSensor returns the configured moisture sensor.
func buildSensor(cfg *config.Config) hardware.Sensor {
	return &hardware.CommandSensor{Command: cfg.Hardware.MoistureCommand}
}

// buildActuator returns the configured actuator.
func buildActuator(cfg *config.Config) hardware.Actuator {
	return &hardware.CommandActuator{Command: cfg.Hardware.ActuatorCommand}
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
