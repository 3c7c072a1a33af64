package scheduler

import (
	"fmt"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/cron"
)

// Config defines when the scheduler runs its job
type Config struct {
	// Cron expression or descriptor, evaluated in Timezone
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`

	// Run the job once immediately when the loop starts
	RunOnStart bool `toml:"run_on_start"`

	// Upper bound on a single run; zero means no limit
	JobTimeout time.Duration `toml:"job_timeout"`

	// Manual trigger inbox
	TriggerBufferSize  int           `toml:"trigger_buffer_size"`
	TriggerSendTimeout time.Duration `toml:"trigger_send_timeout"`
}

// DefaultConfig runs once a day at midnight UTC
func DefaultConfig() Config {
	return Config{
		Cron:               "0 0 * * *",
		Timezone:           "UTC",
		JobTimeout:         time.Hour,
		TriggerBufferSize:  1,
		TriggerSendTimeout: time.Second,
	}
}

// Validate checks the configuration and returns the parsed schedule and location
func (c Config) Validate() (*cron.Schedule, *time.Location, error) {
	schedule, err := cron.Parse(c.Cron)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron %q: %w", c.Cron, err)
	}

	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.JobTimeout < 0 {
		return nil, nil, fmt.Errorf("JobTimeout must not be negative, got %v", c.JobTimeout)
	}

	if c.TriggerBufferSize <= 0 {
		return nil, nil, fmt.Errorf("TriggerBufferSize must be positive, got %d", c.TriggerBufferSize)
	}

	if c.TriggerSendTimeout <= 0 {
		return nil, nil, fmt.Errorf("TriggerSendTimeout must be positive, got %v", c.TriggerSendTimeout)
	}

	return schedule, location, nil
}
