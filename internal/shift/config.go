package shift

import (
	"fmt"
)

// Cutoff selects how the eligibility instant is derived from the run start
type Cutoff string

const (
	// CutoffNow judges records against the captured run instant
	CutoffNow Cutoff = "now"
	// CutoffMidnight judges records against the start of the run's UTC day
	CutoffMidnight Cutoff = "midnight"
)

// DefaultPageSize is the number of records fetched and written per batch
const DefaultPageSize = 500

// DefaultDays is the shift applied when a caller does not ask for another
const DefaultDays = 1

// Config defines how records are selected and which leaves are shifted
type Config struct {
	// Leaf names counting up (shifted with the delta) and down (against it)
	ElapsingField  string `toml:"elapsing_field"`
	CountdownField string `toml:"countdown_field"`

	// Last-modified timestamp the eligibility filter compares against
	TimestampField string `toml:"timestamp_field"`

	// Records per fetched page and per submitted batch
	PageSize int `toml:"page_size"`

	// Root keys to read. Empty reads whole records unless FeedSampleSize
	// asks for discovery. Root keys named like either field are always read.
	Feeds []string `toml:"feeds"`

	// Records sampled for feed discovery. A key first appearing after the
	// sample is not read, so only enable this for uniform collections.
	FeedSampleSize int `toml:"feed_sample_size"`

	Cutoff Cutoff `toml:"cutoff"`
}

// DefaultConfig returns the settings the daily job runs with
func DefaultConfig() Config {
	return Config{
		ElapsingField:  "age",
		CountdownField: "occurs_in",
		TimestampField: "updated_at",
		PageSize:       DefaultPageSize,
		Cutoff:         CutoffNow,
	}
}

// Validate checks the configuration and returns an error if invalid
func (c Config) Validate() error {
	if c.ElapsingField == "" {
		return fmt.Errorf("ElapsingField must be specified")
	}

	if c.CountdownField == "" {
		return fmt.Errorf("CountdownField must be specified")
	}

	if c.ElapsingField == c.CountdownField {
		return fmt.Errorf("ElapsingField and CountdownField must differ, both are %q", c.ElapsingField)
	}

	if c.TimestampField == "" {
		return fmt.Errorf("TimestampField must be specified")
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPageSize, c.PageSize)
	}

	if c.FeedSampleSize < 0 {
		return fmt.Errorf("FeedSampleSize must not be negative, got %d", c.FeedSampleSize)
	}

	switch c.Cutoff {
	case CutoffNow, CutoffMidnight:
	default:
		return fmt.Errorf("invalid cutoff: %q (must be %q or %q)", c.Cutoff, CutoffNow, CutoffMidnight)
	}

	return nil
}
