package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/belief"
	"github.com/verdant/sluice/internal/lifecycle"
	"github.com/verdant/sluice/internal/unitlock"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every unit's threshold, lock state, and open request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tPLANT\tTHRESHOLD\tCONFIDENCE\tLOCK\tOPEN REQUEST")
			for _, u := range cfg.Units {
				learned, err := belief.LearnedThreshold(gdb, u.ID, "", learningParams(cfg))
				if err != nil {
					return err
				}

				lock := "free"
				held, err := unitlock.Held(gdb, u.ID)
				if err != nil {
					return err
				}
				if held {
					lock = "held"
				}

				open := "-"
				reqs, err := lifecycle.List(gdb, lifecycle.ListFilters{UnitID: u.ID, Limit: 10})
				if err != nil {
					return err
				}
				for _, r := range reqs {
					if !r.Terminal() {
						open = fmt.Sprintf("%s (%s)", r.ID, r.Status)
						break
					}
				}

				fmt.Fprintf(w, "%s\t%s\t%.1f\t%.2f\t%s\t%s\n",
					u.ID, u.PlantID, learned.Threshold, learned.Confidence, lock, open)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}
