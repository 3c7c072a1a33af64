package cron

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

func parse(expr string) (*Schedule, error) {
	original := strings.TrimSpace(expr)
	if strings.HasPrefix(original, "@") {
		expanded, ok := descriptors[original]
		if !ok {
			return nil, fmt.Errorf("invalid cron expression: unknown descriptor %q", original)
		}
		expr = expanded
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	var values [5][]int
	for i, spec := range fieldSpecs {
		vals, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
		values[i] = vals
	}

	if err := validateImpossibleDates(values[2], values[3]); err != nil {
		return nil, err
	}

	return &Schedule{
		minutes:     values[0],
		hours:       values[1],
		daysOfMonth: values[2],
		months:      values[3],
		daysOfWeek:  values[4],
		original:    original,
	}, nil
}

// parseField parses a comma separated list of values, ranges and steps
func parseField(field string, min, max int) ([]int, error) {
	if field == "" {
		return nil, fmt.Errorf("empty field")
	}

	var result []int
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, fmt.Errorf("empty value in list")
		}

		vals, err := parseTerm(part, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, vals...)
	}

	slices.Sort(result)
	return slices.Compact(result), nil
}

// parseTerm parses *, N, N-M, */S or N-M/S
func parseTerm(term string, min, max int) ([]int, error) {
	rangePart, stepPart, hasStep := strings.Cut(term, "/")

	step := 1
	if hasStep {
		var err error
		step, err = strconv.Atoi(stepPart)
		if err != nil {
			return nil, fmt.Errorf("invalid step value: %w", err)
		}
		if step <= 0 {
			return nil, fmt.Errorf("step must be greater than 0")
		}
	}

	var start, end int
	switch {
	case rangePart == "*":
		start, end = min, max
	case strings.Contains(rangePart, "-"):
		lo, hi, _ := strings.Cut(rangePart, "-")
		var err error
		if start, err = parseValue(lo, min, max); err != nil {
			return nil, fmt.Errorf("invalid range start: %w", err)
		}
		if end, err = parseValue(hi, min, max); err != nil {
			return nil, fmt.Errorf("invalid range end: %w", err)
		}
		if start > end {
			return nil, fmt.Errorf("invalid range: start %d > end %d", start, end)
		}
	default:
		if hasStep {
			return nil, fmt.Errorf("invalid step range %q", rangePart)
		}
		v, err := parseValue(rangePart, min, max)
		if err != nil {
			return nil, err
		}
		return []int{v}, nil
	}

	var result []int
	for v := start; v <= end; v += step {
		result = append(result, v)
	}
	return result, nil
}

func parseValue(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value: %w", err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", v, min, max)
	}
	return v, nil
}

// validateImpossibleDates rejects schedules where no listed day exists in
// any listed month
func validateImpossibleDates(daysOfMonth, months []int) error {
	for _, month := range months {
		if daysOfMonth[0] <= maxDaysInMonth(month) {
			return nil
		}
	}
	return fmt.Errorf("impossible date: no valid days exist for specified days %v in months %v", daysOfMonth, months)
}

// maxDaysInMonth counts Feb 29 as reachable
func maxDaysInMonth(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}
