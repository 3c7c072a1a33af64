package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/document"
	"github.com/livinlefevreloca/dayshift/internal/shift"
)

// DocumentStore keeps one collection of JSON documents and implements
// shift.Store on top of SQLite's JSON functions.
type DocumentStore struct {
	db         *DB
	collection string
}

// NewDocumentStore returns a store for collection. The store owns db and
// closes it on Close.
func NewDocumentStore(db *DB, collection string) *DocumentStore {
	return &DocumentStore{db: db, collection: collection}
}

// =============================================================================
// Document Operations
// =============================================================================

// PutDocument inserts or replaces a document
func (s *DocumentStore) PutDocument(ctx context.Context, id string, updatedAt time.Time, payload document.Value) error {
	if payload.Kind != document.MapKind {
		return fmt.Errorf("payload of %s must be a map, got %s", id, payload.Kind)
	}
	body, err := payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}

	query := `
		INSERT INTO documents (collection, id, updated_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE
		SET updated_at = excluded.updated_at, payload = excluded.payload
	`

	_, err = s.db.ExecContext(ctx, query, s.collection, id, toMillis(updatedAt), string(body))
	return err
}

// GetDocument retrieves a document by ID
func (s *DocumentStore) GetDocument(ctx context.Context, id string) (shift.Record, error) {
	query := `
		SELECT id, updated_at, payload
		FROM documents
		WHERE collection = ? AND id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, s.collection, id))
	if err == sql.ErrNoRows {
		return shift.Record{}, ErrNotFound
	}
	return rec, err
}

// DeleteDocument deletes a document by ID
func (s *DocumentStore) DeleteDocument(ctx context.Context, id string) error {
	query := `DELETE FROM documents WHERE collection = ? AND id = ?`

	result, err := s.db.ExecContext(ctx, query, s.collection, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// =============================================================================
// shift.Store
// =============================================================================

// Pages reads matching documents in id order, one keyset page at a time.
// Each page is fully read before fn runs, so fn may write through the same
// connection.
func (s *DocumentStore) Pages(ctx context.Context, q shift.Query, fn func(page []shift.Record) error) error {
	if q.PageSize <= 0 {
		return shift.ErrInvalidPageSize
	}

	payloadExpr, projArgs := projection(q.Projection)
	query := `
		SELECT id, updated_at, ` + payloadExpr + `
		FROM documents
		WHERE collection = ? AND updated_at < ? AND id > ?
		ORDER BY id
		LIMIT ?
	`

	asOf := ceilMillis(q.Filter.AsOf)
	lastID := ""
	for {
		args := append(append([]any{}, projArgs...), s.collection, asOf, lastID, q.PageSize)
		page, err := s.queryRecords(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to read documents after %q: %w", lastID, err)
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}

		if len(page) < q.PageSize {
			return nil
		}
		lastID = page[len(page)-1].ID.(string)
	}
}

// projection returns the payload column expression keeping only the given
// root keys, or the whole payload when keys is empty
func projection(keys []string) (string, []any) {
	if len(keys) == 0 {
		return "payload", nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}

	expr := `(
			SELECT json_group_object(je.key, json(documents.payload -> je.fullkey))
			FROM json_each(documents.payload) AS je
			WHERE je.key IN (` + strings.Join(placeholders, ", ") + `)
		)`
	return expr, args
}

// IncrementBatch applies every update in its own statement. A statement only
// changes its row when every addressed leaf exists and is numeric, so each
// record is shifted completely or not at all.
func (s *DocumentStore) IncrementBatch(ctx context.Context, updates []shift.Update) (shift.BatchResult, error) {
	var result shift.BatchResult

	for _, u := range updates {
		err := s.increment(ctx, u)
		if err == nil {
			result.Matched++
			result.Modified++
			continue
		}
		if isFatal(ctx, err) {
			return result, err
		}
		result.Failures = append(result.Failures, shift.WriteFailure{ID: u.ID, Err: err})
	}

	return result, nil
}

func (s *DocumentStore) increment(ctx context.Context, u shift.Update) error {
	id, ok := u.ID.(string)
	if !ok {
		return fmt.Errorf("%w: identifier %v is %T, want string", ErrInvalidPath, u.ID, u.ID)
	}

	incs := u.Instruction.Increments()
	if len(incs) == 0 {
		return nil
	}

	var (
		sets   []string
		guards []string
		args   []any
		gargs  []any
	)
	for _, inc := range incs {
		p, err := jsonPath(inc.Path)
		if err != nil {
			return err
		}
		sets = append(sets, "?, json_extract(payload, ?) + ?")
		args = append(args, p, p, inc.Delta)
		guards = append(guards, "json_type(payload, ?) IN ('integer', 'real')")
		gargs = append(gargs, p)
	}

	query := `
		UPDATE documents
		SET payload = json_set(payload, ` + strings.Join(sets, ", ") + `)
		WHERE collection = ? AND id = ? AND ` + strings.Join(guards, " AND ")

	args = append(args, s.collection, id)
	args = append(args, gargs...)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ? AND id = ?`,
		s.collection, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrNotNumeric
}

// jsonPath renders p in SQLite JSON path syntax, e.g. $."history"[0]."age"
func jsonPath(p document.Path) (string, error) {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p {
		if seg.IsIndex {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteString("]")
			continue
		}
		if strings.ContainsAny(seg.Key, `"\`) {
			return "", fmt.Errorf("%w: key %q", ErrInvalidPath, seg.Key)
		}
		b.WriteString(`."`)
		b.WriteString(seg.Key)
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// SampleRecords returns up to n documents in id order
func (s *DocumentStore) SampleRecords(ctx context.Context, n int) ([]shift.Record, error) {
	query := `
		SELECT id, updated_at, payload
		FROM documents
		WHERE collection = ?
		ORDER BY id
		LIMIT ?
	`
	return s.queryRecords(ctx, query, s.collection, n)
}

// Close releases the underlying database
func (s *DocumentStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *DocumentStore) queryRecords(ctx context.Context, query string, args ...any) ([]shift.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []shift.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (shift.Record, error) {
	var (
		id        string
		updatedAt int64
		payload   sql.NullString
	)
	if err := row.Scan(&id, &updatedAt, &payload); err != nil {
		return shift.Record{}, err
	}

	body := payload.String
	if !payload.Valid {
		body = "{}"
	}
	v, err := document.FromJSON([]byte(body))
	if err != nil {
		return shift.Record{}, fmt.Errorf("document %s: %w", id, err)
	}

	return shift.Record{
		ID:        id,
		UpdatedAt: fromMillis(updatedAt),
		Payload:   v,
	}, nil
}
