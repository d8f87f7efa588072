package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/belief"
)

func newFeedbackCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "feedback <unit-id> <too_early|too_late|accept>",
		Short: "Record threshold feedback for a unit",
		Long:  "Adjusts the learned moisture threshold for a unit. too_early lowers it, too_late raises it, accept only raises confidence.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := args[0]
			ftype := belief.FeedbackType(args[1])
			if !belief.ValidFeedback(ftype) {
				return fmt.Errorf("invalid feedback type %q", args[1])
			}

			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			if userID == "" {
				if u := cfg.Unit(unitID); u != nil {
					userID = u.UserID
				}
			}
			if userID == "" {
				return fmt.Errorf("no user configured for unit %s, pass --user", unitID)
			}

			up, err := belief.Apply(gdb, userID, unitID, ftype, learningParams(cfg))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Threshold for %s: %.1f -> %.1f (confidence %.2f)\n",
				unitID, up.OldMean, up.NewMean, up.Confidence)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user recording the feedback (default from unit config)")
	return cmd
}
