package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/api"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.API.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return api.Start(ctx, api.StartOpts{
				DB:         gdb,
				Config:     cfg,
				Sensor:     buildSensor(cfg),
				Dispatcher: buildDispatcher(cfg),
				Port:       port,
				Out:        cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}
