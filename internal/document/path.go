package document

import (
	"strconv"
	"strings"
)

// Delimiter joins path segments in the canonical dotted form
const Delimiter = "."

// Segment is one step of a Path: either a map key or a sequence index
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns a map-key segment
func Key(k string) Segment {
	return Segment{Key: k}
}

// Index returns a sequence-index segment
func Index(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Path locates a node from the payload root, segment by segment
type Path []Segment

// String joins the segments with Delimiter, e.g. "history.0.age"
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, Delimiter)
}

// With returns a new path extended by seg. The receiver is never modified,
// so sibling branches can share a prefix safely.
func (p Path) With(seg Segment) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	return append(next, seg)
}

// Lookup follows p from v and returns the node it reaches
func Lookup(v Value, p Path) (Value, bool) {
	cur := v
	for _, seg := range p {
		switch {
		case seg.IsIndex && cur.Kind == SequenceKind:
			if seg.Index < 0 || seg.Index >= len(cur.Items) {
				return Value{}, false
			}
			cur = cur.Items[seg.Index]
		case !seg.IsIndex && cur.Kind == MapKind:
			next, ok := cur.Get(seg.Key)
			if !ok {
				return Value{}, false
			}
			cur = next
		default:
			return Value{}, false
		}
	}
	return cur, true
}
