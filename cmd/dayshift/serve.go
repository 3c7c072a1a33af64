package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/dayshift/internal/notify"
	"github.com/livinlefevreloca/dayshift/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advance records on the configured schedule",
	Long: `Run in the foreground and advance records by schedule.days every time
schedule.cron fires. SIGHUP requests an immediate run; SIGINT and SIGTERM
stop the process once the current run returns.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipeline, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer pipeline.Close(context.Background())

		job := func(ctx context.Context) error {
			report, err := pipeline.Advance(ctx, cfg.Schedule.Days)
			if err != nil {
				return err
			}
			return reportErr(report)
		}

		onFailure := func(ctx context.Context, trigger scheduler.Trigger, err error) {
			failure := notify.Failure{Command: "dayshift serve (" + trigger.Reason + " run)", Err: err}
			if nerr := notifier.Notify(ctx, failure); nerr != nil {
				logger.Error("failed to send failure notification", "error", nerr)
			}
		}

		sched, err := scheduler.New(cfg.Schedule.Config, job, logger,
			scheduler.WithFailureHandler(onFailure))
		if err != nil {
			return err
		}

		if next, ok := sched.NextRun(); ok {
			logger.Info("dayshift is running", "next_run", next, "days", cfg.Schedule.Days)
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if !sched.Trigger(ctx, scheduler.ReasonManual) {
						logger.Warn("manual run request dropped")
					}
				}
			}
		}()

		err = sched.Run(ctx)
		logger.Info("shutting down gracefully")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
