package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/verdant/sluice/internal/lifecycle"
	"github.com/verdant/sluice/internal/models"
)

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Inspect and respond to irrigation requests",
	}

	cmd.AddCommand(newRequestListCmd())
	cmd.AddCommand(newRequestShowCmd())
	cmd.AddCommand(newRequestApproveCmd())
	cmd.AddCommand(newRequestDelayCmd())
	cmd.AddCommand(newRequestCancelCmd())
	return cmd
}

func newRequestListCmd() *cobra.Command {
	var (
		configPath string
		unitID     string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List irrigation requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			reqs, err := lifecycle.List(gdb, lifecycle.ListFilters{
				UnitID: unitID,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No requests found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUNIT\tSTATUS\tMOISTURE\tTHRESHOLD\tDELAYS\tDETECTED\tEXPIRES")
			for _, r := range reqs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.1f\t%d\t%s\t%s\n",
					r.ID, r.UnitID, r.Status, r.MoistureAtDetection, r.ThresholdAtDetection,
					r.DelayCount,
					r.DetectedAt.Format("2006-01-02 15:04"),
					r.ExpiresAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&unitID, "unit", "u", "", "filter by unit")
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}

func newRequestShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one request in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			req, err := lifecycle.Get(gdb, args[0])
			if err != nil {
				return err
			}
			printRequest(cmd, req)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func printRequest(cmd *cobra.Command, r *models.PendingIrrigationRequest) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Request:     %s\n", r.ID)
	fmt.Fprintf(out, "Unit:        %s (plant %s)\n", r.UnitID, r.PlantID)
	fmt.Fprintf(out, "Status:      %s\n", r.Status)
	fmt.Fprintf(out, "Moisture:    %.1f (threshold %.1f)\n", r.MoistureAtDetection, r.ThresholdAtDetection)
	fmt.Fprintf(out, "Detected:    %s\n", r.DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Scheduled:   %s\n", r.ScheduledTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Expires:     %s\n", r.ExpiresAt.Format("2006-01-02 15:04:05"))
	if r.DelayCount > 0 && r.DelayedUntil != nil {
		fmt.Fprintf(out, "Delays:      %d (until %s)\n", r.DelayCount, r.DelayedUntil.Format("2006-01-02 15:04:05"))
	}
	if r.UserResponse != "" && r.RespondedAt != nil {
		fmt.Fprintf(out, "Response:    %s at %s\n", r.UserResponse, r.RespondedAt.Format("2006-01-02 15:04:05"))
	}
	if r.ExecutionStatus != models.ExecStatusNone {
		fmt.Fprintf(out, "Execution:   %s (%d attempt(s))\n", r.ExecutionStatus, r.AttemptCount)
	}
}

func newRequestApproveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending or delayed request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			req, err := lifecycle.Approve(gdb, args[0], lifecycle.Opts{Learning: learningParams(cfg)})
			if err != nil {
				return respondErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s approved for unit %s\n", req.ID, req.UnitID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func newRequestDelayCmd() *cobra.Command {
	var (
		configPath string
		minutes    int
	)

	cmd := &cobra.Command{
		Use:   "delay <request-id>",
		Short: "Delay a pending or delayed request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			req, err := lifecycle.Delay(gdb, args[0], lifecycle.Opts{
				Learning:     learningParams(cfg),
				DelayMinutes: minutes,
			})
			if err != nil {
				return respondErr(cmd, err)
			}
			if req.Status == models.StatusApproved || req.DelayedUntil == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Request %s hit its delay ceiling and was approved\n", req.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Request %s delayed until %s\n", req.ID, req.DelayedUntil.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "delay by this many minutes instead of the configured increment")
	return cmd
}

func newRequestCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel an open request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			req, err := lifecycle.Cancel(gdb, args[0], lifecycle.Opts{Learning: learningParams(cfg)})
			if err != nil {
				return respondErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s cancelled\n", req.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func respondErr(cmd *cobra.Command, err error) error {
	if errors.Is(err, lifecycle.ErrStaleTransition) {
		fmt.Fprintln(cmd.OutOrStdout(), "Request already settled, nothing to do")
		return nil
	}
	return err
}
