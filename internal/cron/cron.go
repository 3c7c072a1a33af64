// Package cron parses five-field cron expressions and computes their
// occurrences.
package cron

import (
	"time"
)

// searchLimit bounds Next for schedules that match rarely, such as Feb 29
const searchLimit = 5 * 366 * 24 * time.Hour

// Schedule is a parsed cron expression
type Schedule struct {
	minutes     []int // 0-59
	hours       []int // 0-23
	daysOfMonth []int // 1-31
	months      []int // 1-12
	daysOfWeek  []int // 0-6 (0=Sunday)

	original string
}

// Parse parses a five-field cron expression or one of the descriptors
// @yearly, @monthly, @weekly, @daily, @midnight and @hourly.
//
// An expression whose day and month fields can never coincide, such as
// "0 0 31 2 *", is rejected.
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// MustParse is like Parse but panics on error
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the expression the schedule was parsed from
func (s *Schedule) String() string {
	return s.original
}

// Next returns the first occurrence strictly after the given time, evaluated
// in after's location. The second result is false if nothing matches within
// five years.
func (s *Schedule) Next(after time.Time) (time.Time, bool) {
	current := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchLimit)

	for current.Before(limit) {
		if !contains(s.months, int(current.Month())) {
			current = startOfMonth(current).AddDate(0, 1, 0)
			continue
		}
		if !s.matchesDay(current) {
			current = startOfDay(current).AddDate(0, 0, 1)
			continue
		}
		if !contains(s.hours, current.Hour()) {
			current = time.Date(current.Year(), current.Month(), current.Day(),
				current.Hour()+1, 0, 0, 0, current.Location())
			continue
		}
		if !contains(s.minutes, current.Minute()) {
			current = current.Add(time.Minute)
			continue
		}
		return current, true
	}

	return time.Time{}, false
}

// NextN returns up to count occurrences strictly after the given time
func (s *Schedule) NextN(after time.Time, count int) []time.Time {
	results := make([]time.Time, 0, count)
	for len(results) < count {
		next, ok := s.Next(after)
		if !ok {
			break
		}
		results = append(results, next)
		after = next
	}
	return results
}

// Between returns all occurrences within [start, end) in chronological order
func (s *Schedule) Between(start, end time.Time) []time.Time {
	results := []time.Time{}

	current := start.Truncate(time.Minute)
	if current.Before(start) {
		current = current.Add(time.Minute)
	}
	if s.matches(current) && current.Before(end) {
		results = append(results, current)
	}

	for {
		next, ok := s.Next(current)
		if !ok || !next.Before(end) {
			return results
		}
		results = append(results, next)
		current = next
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
