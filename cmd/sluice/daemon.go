package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		configPath   string
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the detection and execution daemon",
		Long:  "Runs the recurring loop: deadline sweeps, auto-execution, per-unit moisture evaluation, and reminders.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps := daemon.Deps{
				Sensor:     buildSensor(cfg),
				Actuator:   buildActuator(cfg),
				Dispatcher: buildDispatcher(cfg),
			}
			return daemon.RunDaemon(ctx, gdb, cfg, deps, pollInterval, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().DurationVar(&pollInterval, "poll", 0, "poll interval (default from config)")
	return cmd
}
