package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/dayshift/internal/config"
	"github.com/livinlefevreloca/dayshift/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the SQLite store and ledger schemas up to date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var dsns []string
		if cfg.Store.Backend == config.BackendSQLite {
			dsns = append(dsns, cfg.Store.SQLite.DSN)
		}
		if cfg.Ledger.Enabled && (len(dsns) == 0 || dsns[0] != cfg.Ledger.DSN) {
			dsns = append(dsns, cfg.Ledger.DSN)
		}
		if len(dsns) == 0 {
			fmt.Println("nothing to migrate: no sqlite store or ledger configured")
			return nil
		}

		for _, dsn := range dsns {
			database, err := db.OpenWithConfig(db.Config{Driver: "sqlite3", DSN: dsn, SkipMigrations: true})
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", dsn, err)
			}
			err = database.Migrate()
			if err == nil {
				var version int
				version, err = database.SchemaVersion()
				if err == nil {
					fmt.Printf("%s: schema version %d\n", dsn, version)
				}
			}
			database.Close()
			if err != nil {
				return fmt.Errorf("failed to migrate %s: %w", dsn, err)
			}
		}
		return nil
	},
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Print the root keys a run would read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pipeline, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer pipeline.Close(ctx)

		feeds, err := pipeline.Feeds(ctx)
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Println("(whole records)")
			return nil
		}
		fmt.Println(strings.Join(feeds, "\n"))
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeLedger, err := openLedger()
		if err != nil {
			return err
		}
		defer closeLedger()

		runs, err := ledger.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tDELTA\tSTATUS\tSCANNED\tMODIFIED\tFAILED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
				r.RunID, r.StartedAt.Format(time.RFC3339), r.Delta, colorizeStatus(r.Status),
				r.Scanned, r.Modified, r.Failed)
		}
		return w.Flush()
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release the run lock left behind by a crashed process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeLedger, err := openLedger()
		if err != nil {
			return err
		}
		defer closeLedger()

		released, err := ledger.Unlock(cmd.Context())
		if err != nil {
			return err
		}
		if released {
			fmt.Println("run lock released")
		} else {
			fmt.Println("run lock was not held")
		}
		return nil
	},
}

func openLedger() (*db.Ledger, func() error, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil, fmt.Errorf("the ledger is disabled; set ledger.enabled = true")
	}
	database, err := openLedgerDB()
	if err != nil {
		return nil, nil, err
	}
	return db.NewLedger(database, cfg.Ledger.LockTTL), database.Close, nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	rootCmd.AddCommand(migrateCmd, feedsCmd, historyCmd, unlockCmd)
}
