package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/manual"
)

func newManualCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		amountML   float64
		notes      string
		settle     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "manual <unit-id>",
		Short: "Record a manual watering",
		Long:  "Reads moisture before and after a hand watering, waits for the settle delay between reads, and records the event as threshold feedback.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := args[0]

			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			unit := cfg.Unit(unitID)
			if unit == nil {
				return fmt.Errorf("unit %s not found in config", unitID)
			}
			if userID == "" {
				userID = unit.UserID
			}

			opts := manual.Opts{
				UnitID:      unitID,
				PlantID:     unit.PlantID,
				UserID:      userID,
				SensorID:    unit.SensorID,
				Notes:       notes,
				Sensor:      buildSensor(cfg),
				SettleDelay: settle,
				Learning:    learningParams(cfg),
			}
			if amountML > 0 {
				opts.AmountML = &amountML
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Reading moisture, then waiting %s for the water to settle...\n", settle)
			entry, err := manual.Record(cmd.Context(), gdb, opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Recorded manual watering on %s: pre %.1f", unitID, entry.PreMoisture)
			if entry.PostMoisture != nil {
				fmt.Fprintf(cmd.OutOrStdout(), ", post %.1f (delta %+.1f)", *entry.PostMoisture, *entry.DeltaMoisture)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user who watered (default from unit config)")
	cmd.Flags().Float64Var(&amountML, "amount", 0, "amount of water in milliliters")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().DurationVar(&settle, "settle", 20*time.Minute, "wait between pre and post moisture reads")
	return cmd
}
