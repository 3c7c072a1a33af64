package shift

import (
	"sort"

	"github.com/livinlefevreloca/dayshift/internal/document"
)

// Increment shifts one leaf by Delta
type Increment struct {
	Path  document.Path
	Delta int64
}

// Instruction maps each dotted path of a record to the increment applied to
// it. An empty instruction means the record has nothing to shift.
type Instruction map[string]Increment

// Deltas returns the dotted path to delta mapping
func (in Instruction) Deltas() map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, inc := range in {
		out[k] = inc.Delta
	}
	return out
}

// Increments returns the increments ordered by dotted path
func (in Instruction) Increments() []Increment {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Increment, 0, len(keys))
	for _, k := range keys {
		out = append(out, in[k])
	}
	return out
}

// Builder turns a record into its Instruction
type Builder struct {
	ElapsingField  string
	CountdownField string
}

// NewBuilder returns a Builder for the configured field names
func NewBuilder(config Config) Builder {
	return Builder{
		ElapsingField:  config.ElapsingField,
		CountdownField: config.CountdownField,
	}
}

// Build returns the instruction shifting rec by delta days: elapsing leaves
// get +delta, countdown leaves get -delta. The two searches match different
// key names, so their paths never collide.
func (b Builder) Build(rec Record, delta int) Instruction {
	in := make(Instruction)
	for _, p := range document.FindPaths(rec.Payload, b.ElapsingField) {
		in[p.String()] = Increment{Path: p, Delta: int64(delta)}
	}
	for _, p := range document.FindPaths(rec.Payload, b.CountdownField) {
		in[p.String()] = Increment{Path: p, Delta: -int64(delta)}
	}
	return in
}
