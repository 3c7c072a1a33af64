package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/dayshift/internal/shift"
)

var days int

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Move eligible records forward by --days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShift(cmd.Context(), (*shift.Pipeline).Advance)
	},
}

var retreatCmd = &cobra.Command{
	Use:   "retreat",
	Short: "Move eligible records back by --days",
	Long: `Move eligible records back by --days, undoing an earlier advance.

Only records last updated before the run starts are shifted, so a retreat
restores exactly the records an advance touched when nothing else wrote to
them in between.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShift(cmd.Context(), (*shift.Pipeline).Retreat)
	},
}

type shiftFunc func(p *shift.Pipeline, ctx context.Context, days int) (*shift.Report, error)

func runShift(ctx context.Context, fn shiftFunc) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close(context.Background())

	report, err := fn(pipeline, ctx, days)
	if err != nil {
		return err
	}

	printReport(report)
	return reportErr(report)
}

// reportErr turns per-record failures into a command failure
func reportErr(report *shift.Report) error {
	if report.Failed() == 0 {
		return nil
	}
	return fmt.Errorf("run %s: %d of %d record writes failed: %w",
		report.RunID, report.Failed(), report.Submitted, report.Err())
}

func init() {
	for _, cmd := range []*cobra.Command{advanceCmd, retreatCmd} {
		cmd.Flags().IntVarP(&days, "days", "d", shift.DefaultDays, "number of days to shift")
		rootCmd.AddCommand(cmd)
	}
}
