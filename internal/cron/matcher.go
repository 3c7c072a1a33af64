package cron

import (
	"slices"
	"time"
)

// matches checks if a time matches the schedule
func (s *Schedule) matches(t time.Time) bool {
	return contains(s.minutes, t.Minute()) &&
		contains(s.hours, t.Hour()) &&
		s.matchesDay(t) &&
		contains(s.months, int(t.Month()))
}

// matchesDay applies the standard cron day rule: when both day-of-month and
// day-of-week are restricted, either may match; otherwise only the restricted
// one is checked.
func (s *Schedule) matchesDay(t time.Time) bool {
	domRestricted := len(s.daysOfMonth) < 31
	dowRestricted := len(s.daysOfWeek) < 7

	domMatch := contains(s.daysOfMonth, t.Day())
	dowMatch := contains(s.daysOfWeek, int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}

func contains(values []int, v int) bool {
	_, found := slices.BinarySearch(values, v)
	return found
}
