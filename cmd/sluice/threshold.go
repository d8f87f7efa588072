package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/belief"
)

func newThresholdCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "threshold <unit-id>",
		Short: "Show the learned moisture threshold for a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			learned, err := belief.LearnedThreshold(gdb, args[0], userID, learningParams(cfg))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unit %s: threshold %.1f, confidence %.2f, %d sample(s)\n",
				args[0], learned.Threshold, learned.Confidence, learned.SampleCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user whose belief to read (default: most experienced)")
	return cmd
}
