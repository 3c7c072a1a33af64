package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrPathNotFound = errors.New("document: path not found")
	ErrNotNumeric   = errors.New("document: value is not numeric")
)

// Increment returns a copy of v with the numeric leaf at p shifted by delta.
// Nodes off the path are shared with v.
func Increment(v Value, p Path, delta int64) (Value, error) {
	if len(p) == 0 {
		if v.Kind != ScalarKind {
			return Value{}, fmt.Errorf("%w: %s node", ErrNotNumeric, v.Kind)
		}
		n, err := addScalar(v.Scalar, delta)
		if err != nil {
			return Value{}, err
		}
		return Scalar(n), nil
	}

	seg := p[0]
	switch {
	case seg.IsIndex && v.Kind == SequenceKind:
		if seg.Index < 0 || seg.Index >= len(v.Items) {
			return Value{}, ErrPathNotFound
		}
		child, err := Increment(v.Items[seg.Index], p[1:], delta)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, len(v.Items))
		copy(items, v.Items)
		items[seg.Index] = child
		return Sequence(items...), nil
	case !seg.IsIndex && v.Kind == MapKind:
		for i, f := range v.Fields {
			if f.Key != seg.Key {
				continue
			}
			child, err := Increment(f.Value, p[1:], delta)
			if err != nil {
				return Value{}, err
			}
			fields := make([]Field, len(v.Fields))
			copy(fields, v.Fields)
			fields[i] = Field{Key: f.Key, Value: child}
			return Map(fields...), nil
		}
		return Value{}, ErrPathNotFound
	default:
		return Value{}, ErrPathNotFound
	}
}

func addScalar(s any, delta int64) (any, error) {
	switch n := s.(type) {
	case int:
		return n + int(delta), nil
	case int32:
		return n + int32(delta), nil
	case int64:
		return n + delta, nil
	case float64:
		return n + float64(delta), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return json.Number(strconv.FormatInt(i+delta, 10)), nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrNotNumeric, n)
		}
		return json.Number(strconv.FormatFloat(f+float64(delta), 'f', -1, 64)), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotNumeric, s)
	}
}
