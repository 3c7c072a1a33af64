package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/dayshift/internal/config"
	"github.com/livinlefevreloca/dayshift/internal/notify"
)

var (
	configFile string

	cfg      *config.Config
	logger   *slog.Logger
	notifier notify.Notifier = notify.Nop{}
)

var rootCmd = &cobra.Command{
	Use:   "dayshift",
	Short: "Shift the day counters of stored market data",
	Long: `dayshift keeps the relative day counters of stored records current.

Every "age" leaf found anywhere in a record grows by the shift and every
"occurs_in" leaf shrinks by it. Only records last updated before the run
started are touched.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger, err = cfg.Logging.NewLogger(os.Stdout)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if cfg.Notify.Enabled() {
			mailgun, err := notify.NewMailgun(cfg.Notify, nil, logger)
			if err != nil {
				return err
			}
			notifier = mailgun
		}
		return nil
	},
}

// Execute runs the root command and reports a failure to operators
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		reportFailure(context.Background(), err)
		os.Exit(1)
	}
}

func reportFailure(ctx context.Context, err error) {
	failure := notify.Failure{Command: strings.Join(os.Args, " "), Err: err}
	if nerr := notifier.Notify(ctx, failure); nerr != nil {
		fmt.Fprintln(os.Stderr, "failed to send failure notification:", nerr)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to configuration file (TOML)")
}
