// Package mongostore is the MongoDB implementation of shift.Store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/dayshift/internal/shift"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store reads and shifts records of one collection
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger

	// set when the store created the client and must disconnect it
	ownsClient bool
}

// Connect dials the server described by config and returns a store on its
// collection. The driver's own logging is routed to logger with informational
// messages at debug level.
func Connect(ctx context.Context, config Config, logger *slog.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetAppName(config.AppName).
		SetLoggerOptions(options.Logger().
			SetSink(&logSink{logger: logger.With("component", "mongo")}).
			SetComponentLevel(options.LogComponentConnection, options.LogLevelInfo).
			SetComponentLevel(options.LogComponentTopology, options.LogLevelInfo))
	if config.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(config.MaxPoolSize)
	}
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(config.ConnectTimeout)
		opts.SetServerSelectionTimeout(config.ConnectTimeout)
	}
	if config.RequestTimeout > 0 {
		opts.SetTimeout(config.RequestTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", redact(config.URI), err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to reach %s: %w", redact(config.URI), err)
	}

	logger.Info("connected to mongo",
		"uri", redact(config.URI),
		"database", config.Database,
		"collection", config.Collection)

	s := New(client.Database(config.Database).Collection(config.Collection), logger)
	s.ownsClient = true
	return s, nil
}

// New returns a store on an existing collection. Close leaves the client
// connected.
func New(coll *mongo.Collection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: coll.Database().Client(),
		coll:   coll,
		logger: logger,
	}
}

// Pages streams the records matching q in _id order through one cursor,
// fetching PageSize documents per server batch. Each page is buffered
// before fn runs. A single cursor keeps identifiers of every BSON type in
// one sort order, where a range query resumed from the last _id would only
// match identifiers of that same type.
func (s *Store) Pages(ctx context.Context, q shift.Query, fn func(page []shift.Record) error) error {
	if q.PageSize <= 0 {
		return shift.ErrInvalidPageSize
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: idField, Value: 1}}).
		SetBatchSize(int32(q.PageSize))
	if proj := projection(q); proj != nil {
		findOpts.SetProjection(proj)
	}

	cursor, err := s.coll.Find(ctx, pageFilter(q), findOpts)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = cursor.Close(context.WithoutCancel(ctx)) }()

	page := make([]shift.Record, 0, q.PageSize)
	for cursor.Next(ctx) {
		rec, ok, err := s.decode(cursor, q.Filter.Field)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		page = append(page, rec)
		if len(page) == q.PageSize {
			if err := fn(page); err != nil {
				return err
			}
			page = make([]shift.Record, 0, q.PageSize)
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("failed during record listing: %w", err)
	}

	if len(page) > 0 {
		return fn(page)
	}
	return nil
}

// decode reads the cursor's current document. Documents that cannot be
// turned into records are logged and reported as not ok.
func (s *Store) decode(cursor *mongo.Cursor, timestampField string) (shift.Record, bool, error) {
	var doc bson.D
	if err := cursor.Decode(&doc); err != nil {
		return shift.Record{}, false, fmt.Errorf("failed to decode record: %w", err)
	}

	rec, err := toRecord(doc, timestampField)
	if err != nil {
		s.logger.Warn("skipping undecodable record", "record_id", cursor.Current.Lookup(idField), "error", err)
		return shift.Record{}, false, nil
	}
	return rec, true, nil
}

// IncrementBatch issues one unordered bulk write of guarded $inc updates.
// Documents the server rejects, and documents that no longer match their
// guard, are reported as failures; the rest are applied.
func (s *Store) IncrementBatch(ctx context.Context, updates []shift.Update) (shift.BatchResult, error) {
	b, failures := newBatch(updates)
	result := shift.BatchResult{Failures: failures}
	if len(b.models) == 0 {
		return result, nil
	}

	res, err := s.coll.BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(false))

	var failed map[int]bool
	var bulkErr mongo.BulkWriteException
	switch {
	case errors.As(err, &bulkErr):
		if bulkErr.WriteConcernError != nil {
			return result, fmt.Errorf("failed to write batch: %w", err)
		}
		var rejected []shift.WriteFailure
		rejected, failed = b.writeFailures(bulkErr.WriteErrors)
		result.Failures = append(result.Failures, rejected...)
	case err != nil:
		return result, fmt.Errorf("failed to write batch: %w", err)
	}

	if res != nil {
		result.Matched = res.MatchedCount
		result.Modified = res.ModifiedCount
	}

	unmatched := len(b.models) - len(failed) - int(result.Matched)
	if unmatched > 0 {
		missing, err := s.unmatched(ctx, b, failed)
		if err != nil {
			return result, err
		}
		result.Failures = append(result.Failures, missing...)
	}

	return result, nil
}

// unmatched finds the updates whose guard no longer matches. Applied updates
// leave their leaves numeric, so they still match.
func (s *Store) unmatched(ctx context.Context, b batch, failed map[int]bool) ([]shift.WriteFailure, error) {
	var clauses bson.A
	for i, filter := range b.filters {
		if !failed[i] {
			clauses = append(clauses, filter)
		}
	}

	cursor, err := s.coll.Find(ctx, bson.D{{Key: "$or", Value: clauses}},
		options.Find().SetProjection(bson.D{{Key: idField, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to check unmatched updates: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	matched := make(map[string]bool)
	for cursor.Next(ctx) {
		var doc struct {
			ID any `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode id: %w", err)
		}
		matched[idKey(doc.ID)] = true
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to check unmatched updates: %w", err)
	}

	var failures []shift.WriteFailure
	for i, u := range b.updates {
		if !failed[i] && !matched[idKey(u.ID)] {
			failures = append(failures, shift.WriteFailure{ID: u.ID, Err: ErrNotMatched})
		}
	}
	return failures, nil
}

// SampleRecords returns up to n records in natural order
func (s *Store) SampleRecords(ctx context.Context, n int) ([]shift.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetLimit(int64(n)))
	if err != nil {
		return nil, fmt.Errorf("failed to sample records: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var records []shift.Record
	for cursor.Next(ctx) {
		rec, ok, err := s.decode(cursor, "")
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to sample records: %w", err)
	}
	return records, nil
}

// Close disconnects the client if the store created it
func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// logSink adapts driver log messages to slog
type logSink struct {
	logger *slog.Logger
}

func (l *logSink) Info(_ int, message string, keysAndValues ...any) {
	l.logger.Debug(message, keysAndValues...)
}

func (l *logSink) Error(err error, message string, keysAndValues ...any) {
	l.logger.Warn(message, append(keysAndValues, "error", err)...)
}
