package mongostore

import (
	"fmt"
	"sort"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/document"
	"github.com/livinlefevreloca/dayshift/internal/shift"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// idField is the primary key of every MongoDB document
const idField = "_id"

// fromBSON converts a decoded BSON value into a document value. Documents
// keep their field order; bson.M keys are sorted.
func fromBSON(raw any) document.Value {
	switch v := raw.(type) {
	case bson.D:
		fields := make([]document.Field, 0, len(v))
		for _, e := range v {
			fields = append(fields, document.F(e.Key, fromBSON(e.Value)))
		}
		return document.Map(fields...)
	case bson.M:
		return fromMap(v)
	case map[string]any:
		return fromMap(v)
	case bson.A:
		items := make([]document.Value, 0, len(v))
		for _, item := range v {
			items = append(items, fromBSON(item))
		}
		return document.Sequence(items...)
	case []any:
		return fromBSON(bson.A(v))
	case primitive.DateTime:
		return document.Scalar(v.Time().UTC())
	default:
		return document.Scalar(v)
	}
}

func fromMap(m map[string]any) document.Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]document.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, document.F(k, fromBSON(m[k])))
	}
	return document.Map(fields...)
}

// toRecord splits a decoded document into its identifier, timestamp and
// payload
func toRecord(doc bson.D, timestampField string) (shift.Record, error) {
	rec := shift.Record{Payload: fromBSON(doc)}

	var hasID bool
	for _, e := range doc {
		switch e.Key {
		case idField:
			rec.ID = e.Value
			hasID = true
		case timestampField:
			at, err := toTime(e.Value)
			if err != nil {
				return shift.Record{}, fmt.Errorf("field %s: %w", timestampField, err)
			}
			rec.UpdatedAt = at
		}
	}

	if !hasID {
		return shift.Record{}, fmt.Errorf("document has no %s", idField)
	}
	return rec, nil
}

func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case time.Time:
		return v.UTC(), nil
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}
