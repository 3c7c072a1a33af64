package mongostore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/document"
	"github.com/livinlefevreloca/dayshift/internal/shift"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrNotMatched means the record was deleted, or a targeted leaf stopped
	// being numeric, between the read and the write
	ErrNotMatched = errors.New("mongostore: record deleted or leaf no longer numeric")

	// ErrUnaddressable means a path segment cannot be expressed in dot notation
	ErrUnaddressable = errors.New("mongostore: path cannot be addressed")

	// ErrWriteRejected wraps a per-document error reported by the server
	ErrWriteRejected = errors.New("mongostore: write rejected")
)

// pageFilter selects records last modified before the cutoff
func pageFilter(q shift.Query) bson.D {
	return bson.D{{Key: q.Filter.Field, Value: bson.D{{Key: "$lt", Value: cutoff(q.Filter.AsOf)}}}}
}

// cutoff rounds asOf up to the millisecond precision of BSON dates, so that
// "stored < cutoff" matches "stored < asOf"
func cutoff(asOf time.Time) primitive.DateTime {
	ms := asOf.Truncate(time.Millisecond)
	if ms.Before(asOf) {
		ms = ms.Add(time.Millisecond)
	}
	return primitive.NewDateTimeFromTime(ms)
}

// projection reads the id, the timestamp and the requested feeds; nil reads
// everything
func projection(q shift.Query) bson.D {
	if len(q.Projection) == 0 {
		return nil
	}

	seen := map[string]bool{idField: true, q.Filter.Field: true}
	proj := bson.D{{Key: idField, Value: 1}, {Key: q.Filter.Field, Value: 1}}
	for _, k := range q.Projection {
		if seen[k] {
			continue
		}
		seen[k] = true
		proj = append(proj, bson.E{Key: k, Value: 1})
	}
	return proj
}

// dotted renders p in MongoDB dot notation
func dotted(p document.Path) (string, error) {
	parts := make([]string, len(p))
	for i, seg := range p {
		if seg.IsIndex {
			parts[i] = fmt.Sprint(seg.Index)
			continue
		}
		if seg.Key == "" || strings.Contains(seg.Key, ".") || strings.HasPrefix(seg.Key, "$") {
			return "", fmt.Errorf("%w: key %q", ErrUnaddressable, seg.Key)
		}
		parts[i] = seg.Key
	}
	return strings.Join(parts, "."), nil
}

// updateDocs builds the guarded filter and $inc update for u. The filter only
// matches while every targeted leaf is still a number, so a concurrent change
// cannot turn the increment into a field creation.
func updateDocs(u shift.Update) (filter, update bson.D, err error) {
	filter = bson.D{{Key: idField, Value: u.ID}}
	inc := bson.D{}

	for _, in := range u.Instruction.Increments() {
		path, err := dotted(in.Path)
		if err != nil {
			return nil, nil, err
		}
		filter = append(filter, bson.E{Key: path, Value: bson.D{{Key: "$type", Value: "number"}}})
		inc = append(inc, bson.E{Key: path, Value: in.Delta})
	}

	return filter, bson.D{{Key: "$inc", Value: inc}}, nil
}

// batch is a set of write models and the updates they came from
type batch struct {
	models  []mongo.WriteModel
	filters []bson.D
	updates []shift.Update
}

// newBatch builds one UpdateOne model per update. Updates that cannot be
// expressed are returned as failures.
func newBatch(updates []shift.Update) (batch, []shift.WriteFailure) {
	var (
		b        batch
		failures []shift.WriteFailure
	)
	for _, u := range updates {
		filter, update, err := updateDocs(u)
		if err != nil {
			failures = append(failures, shift.WriteFailure{ID: u.ID, Err: err})
			continue
		}
		b.models = append(b.models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update))
		b.filters = append(b.filters, filter)
		b.updates = append(b.updates, u)
	}
	return b, failures
}

// writeFailures maps the per-model errors of an unordered bulk write back to
// records. The returned set holds the indexes of the failed models.
func (b batch) writeFailures(errs []mongo.BulkWriteError) ([]shift.WriteFailure, map[int]bool) {
	failed := make(map[int]bool, len(errs))
	failures := make([]shift.WriteFailure, 0, len(errs))
	for _, we := range errs {
		if we.Index < 0 || we.Index >= len(b.updates) {
			continue
		}
		failed[we.Index] = true
		failures = append(failures, shift.WriteFailure{
			ID:  b.updates[we.Index].ID,
			Err: fmt.Errorf("%w: code %d: %s", ErrWriteRejected, we.Code, we.Message),
		})
	}
	return failures, failed
}

// idKey makes any decoded _id usable as a map key
func idKey(id any) string {
	return fmt.Sprintf("%T:%v", id, id)
}
