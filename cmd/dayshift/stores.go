package main

import (
	"context"
	"fmt"

	"github.com/livinlefevreloca/dayshift/internal/config"
	"github.com/livinlefevreloca/dayshift/internal/db"
	"github.com/livinlefevreloca/dayshift/internal/mongostore"
	"github.com/livinlefevreloca/dayshift/internal/shift"

	_ "github.com/mattn/go-sqlite3"
)

// openPipeline connects the configured store and, when enabled, the run
// ledger. Closing the pipeline releases every connection it was built with.
func openPipeline(ctx context.Context) (*shift.Pipeline, error) {
	var (
		store    shift.Store
		sqliteDB *db.DB
	)

	switch cfg.Store.Backend {
	case config.BackendMongo:
		logger.Info("connecting to mongo",
			"database", cfg.Store.Mongo.Database,
			"collection", cfg.Store.Mongo.Collection)
		mongoStore, err := mongostore.Connect(ctx, cfg.Store.Mongo, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		store = mongoStore

	case config.BackendSQLite:
		logger.Info("opening sqlite store",
			"dsn", cfg.Store.SQLite.DSN,
			"collection", cfg.Store.SQLite.Collection)
		database, err := db.OpenWithConfig(cfg.Store.SQLite.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		sqliteDB = database
		store = db.NewDocumentStore(database, cfg.Store.SQLite.Collection)
	}

	var opts []shift.Option
	if cfg.Ledger.Enabled {
		ledgerDB := sqliteDB
		if ledgerDB == nil || cfg.Ledger.DSN != cfg.Store.SQLite.DSN {
			database, err := openLedgerDB()
			if err != nil {
				store.Close(ctx)
				return nil, err
			}
			ledgerDB = database
			store = &closingStore{Store: store, extra: database}
		}
		opts = append(opts, shift.WithLedger(db.NewLedger(ledgerDB, cfg.Ledger.LockTTL)))
	}

	pipeline, err := shift.NewPipeline(cfg.Shift, store, logger, opts...)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	return pipeline, nil
}

func openLedgerDB() (*db.DB, error) {
	database, err := db.OpenWithConfig(db.Config{Driver: "sqlite3", DSN: cfg.Ledger.DSN, MaxOpenConns: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return database, nil
}

// closingStore closes a second database alongside the store
type closingStore struct {
	shift.Store
	extra *db.DB
}

func (s *closingStore) Close(ctx context.Context) error {
	err := s.Store.Close(ctx)
	if cerr := s.extra.Close(); err == nil {
		err = cerr
	}
	return err
}
