// Package document models the nested payload of a stored record as a tagged
// variant (Map, Sequence, Scalar) and locates named leaves inside it.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	ScalarKind Kind = iota
	MapKind
	SequenceKind
)

func (k Kind) String() string {
	switch k {
	case ScalarKind:
		return "scalar"
	case MapKind:
		return "map"
	case SequenceKind:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one node of a record payload.
// Only the members matching Kind are meaningful:
//   - MapKind: Fields, in document order
//   - SequenceKind: Items
//   - ScalarKind: Scalar (number, string, bool, time, nil, ...)
type Value struct {
	Kind   Kind
	Fields []Field
	Items  []Value
	Scalar any
}

// Field is a single key/value pair of a map node
type Field struct {
	Key   string
	Value Value
}

// Map builds a map node from fields in the given order
func Map(fields ...Field) Value {
	return Value{Kind: MapKind, Fields: fields}
}

// Sequence builds a sequence node
func Sequence(items ...Value) Value {
	return Value{Kind: SequenceKind, Items: items}
}

// Scalar builds a leaf node
func Scalar(v any) Value {
	return Value{Kind: ScalarKind, Scalar: v}
}

// F is shorthand for constructing a Field
func F(key string, v Value) Field {
	return Field{Key: key, Value: v}
}

// IsContainer reports whether the value can hold named leaves
func (v Value) IsContainer() bool {
	return v.Kind == MapKind || v.Kind == SequenceKind
}

// Get returns the value stored under key in a map node
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != MapKind {
		return Value{}, false
	}
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// ContainerKeys lists the top-level keys of a map node whose values are maps
// or sequences, in document order.
func (v Value) ContainerKeys() []string {
	if v.Kind != MapKind {
		return nil
	}
	var keys []string
	for _, f := range v.Fields {
		if f.Value.IsContainer() {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// From converts a generically decoded value (as produced by encoding/json or
// a store driver decoding into map[string]any) into a Value.
// Go maps carry no order, so their keys are sorted to keep traversal stable.
// Anything that is neither a map nor a slice becomes a scalar.
func From(raw any) Value {
	switch t := raw.(type) {
	case Value:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Key: k, Value: From(t[k])})
		}
		return Value{Kind: MapKind, Fields: fields}
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, From(item))
		}
		return Value{Kind: SequenceKind, Items: items}
	case []map[string]any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, From(item))
		}
		return Value{Kind: SequenceKind, Items: items}
	default:
		return Value{Kind: ScalarKind, Scalar: raw}
	}
}

// FromJSON decodes a JSON document into a Value, keeping object key order and
// numbers as json.Number.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return Value{}, fmt.Errorf("failed to decode document: %w", err)
	}
	if dec.More() {
		return Value{}, fmt.Errorf("failed to decode document: trailing data")
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return Scalar(tok), nil
	}
	switch delim {
	case '{':
		fields := []Field{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return Value{}, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
			}
			child, err := decodeJSON(dec)
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Key: key, Value: child})
		}
		if _, err := dec.Token(); err != nil {
			return Value{}, err
		}
		return Value{Kind: MapKind, Fields: fields}, nil
	case '[':
		items := []Value{}
		for dec.More() {
			child, err := decodeJSON(dec)
			if err != nil {
				return Value{}, err
			}
			items = append(items, child)
		}
		if _, err := dec.Token(); err != nil {
			return Value{}, err
		}
		return Value{Kind: SequenceKind, Items: items}, nil
	default:
		return Value{}, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// MarshalJSON renders the value as JSON, preserving map key order
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.Kind {
	case MapKind:
		buf.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := f.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case SequenceKind:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(v.Scalar)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
