package cron

import (
	"testing"
	"time"
)

// Test helpers

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", expr, err)
	}
	return s
}

func assertTimes(t *testing.T, expected, actual []time.Time) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("length mismatch: expected %d times, got %d: %v", len(expected), len(actual), actual)
	}
	for i := range expected {
		if !expected[i].Equal(actual[i]) {
			t.Errorf("time[%d] mismatch: expected %v, got %v", i, expected[i], actual[i])
		}
	}
}

func makeTime(year, month, day, hour, minute int) time.Time {
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"* * * * *", "every minute"},
		{"0 0 * * *", "every day"},
		{"0 0 1 1 *", "January 1st"},
		{"0,30 * * * *", "list"},
		{"0 9-17 * * *", "range"},
		{"*/5 * * * *", "step"},
		{"5-59/10 * * * *", "stepped range"},
		{"0,10-20/5 * * * *", "list with stepped range"},
		{"*/15 9-17 * * 1-5", "complex"},
		{"@daily", "daily descriptor"},
		{"@midnight", "midnight descriptor"},
		{"  @hourly ", "padded descriptor"},
		{"0 0 29 2 *", "leap day"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := Parse(tt.expr); err != nil {
				t.Errorf("Parse(%q) unexpected error: %v", tt.expr, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"", "empty string"},
		{"* * * *", "only 4 fields"},
		{"* * * * * *", "6 fields"},
		{"@fortnightly", "unknown descriptor"},
		{"* * * * x", "non-numeric"},
		{"60 * * * *", "minute out of range"},
		{"* 24 * * *", "hour out of range"},
		{"* * 0 * *", "day 0 invalid"},
		{"* * * 13 *", "month out of range"},
		{"* * * * 7", "day-of-week out of range"},
		{"5-2 * * * *", "inverted range"},
		{"*/0 * * * *", "step of 0"},
		{"*/ * * * *", "incomplete step"},
		{"5/10 * * * *", "step on single value"},
		{"- * * * *", "incomplete range"},
		{"1,,2 * * * *", "double comma"},
		{"1,2, * * * *", "trailing comma"},
		{"0 0 31 2 *", "Feb 31st"},
		{"0 0 31 4,6,9,11 *", "31st of 30 day months"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := Parse(tt.expr); err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.expr)
			}
		})
	}
}

func TestParse_DescriptorMatchesExpression(t *testing.T) {
	after := makeTime(2024, 1, 1, 10, 30)
	assertTimes(t,
		mustParse(t, "0 0 * * *").NextN(after, 3),
		mustParse(t, "@midnight").NextN(after, 3))

	if got := mustParse(t, "@daily").String(); got != "@daily" {
		t.Errorf("String() = %q, want @daily", got)
	}
}

func TestMustParse_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustParse("not cron")
}

func TestNext(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		after    time.Time
		expected []time.Time
	}{
		{
			name:  "every minute",
			expr:  "* * * * *",
			after: time.Date(2024, 1, 1, 10, 30, 45, 0, time.UTC),
			expected: []time.Time{
				makeTime(2024, 1, 1, 10, 31),
				makeTime(2024, 1, 1, 10, 32),
			},
		},
		{
			name:  "daily after target time",
			expr:  "30 14 * * *",
			after: makeTime(2024, 1, 1, 15, 0),
			expected: []time.Time{
				makeTime(2024, 1, 2, 14, 30),
				makeTime(2024, 1, 3, 14, 30),
			},
		},
		{
			name:  "midnight strictly after midnight",
			expr:  "0 0 * * *",
			after: makeTime(2024, 1, 1, 0, 0),
			expected: []time.Time{
				makeTime(2024, 1, 2, 0, 0),
				makeTime(2024, 1, 3, 0, 0),
			},
		},
		{
			name:  "sub-minute precision",
			expr:  "30 14 * * *",
			after: time.Date(2024, 1, 1, 14, 30, 30, 500000000, time.UTC),
			expected: []time.Time{
				makeTime(2024, 1, 2, 14, 30),
			},
		},
		{
			name:  "weekdays",
			expr:  "0 9 * * 1-5",
			after: makeTime(2024, 1, 5, 12, 0), // Friday
			expected: []time.Time{
				makeTime(2024, 1, 8, 9, 0),
				makeTime(2024, 1, 9, 9, 0),
			},
		},
		{
			name:  "year boundary",
			expr:  "0 0 * * *",
			after: makeTime(2024, 12, 30, 10, 0),
			expected: []time.Time{
				makeTime(2024, 12, 31, 0, 0),
				makeTime(2025, 1, 1, 0, 0),
			},
		},
		{
			name:  "skips non leap years",
			expr:  "0 0 29 2 *",
			after: makeTime(2025, 1, 1, 0, 0),
			expected: []time.Time{
				makeTime(2028, 2, 29, 0, 0),
			},
		},
		{
			name:  "31st only in long months",
			expr:  "0 0 31 * *",
			after: makeTime(2024, 1, 31, 0, 0),
			expected: []time.Time{
				makeTime(2024, 3, 31, 0, 0),
				makeTime(2024, 5, 31, 0, 0),
				makeTime(2024, 7, 31, 0, 0),
			},
		},
		{
			name:  "day of month or day of week",
			expr:  "0 0 15 * 5",
			after: makeTime(2024, 1, 1, 0, 0),
			expected: []time.Time{
				makeTime(2024, 1, 5, 0, 0),  // Fri
				makeTime(2024, 1, 12, 0, 0), // Fri
				makeTime(2024, 1, 15, 0, 0), // 15th
				makeTime(2024, 1, 19, 0, 0), // Fri
			},
		},
		{
			name:  "step not aligned",
			expr:  "*/7 * * * *",
			after: makeTime(2024, 1, 1, 10, 56),
			expected: []time.Time{
				makeTime(2024, 1, 1, 11, 0),
				makeTime(2024, 1, 1, 11, 7),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustParse(t, tt.expr)
			assertTimes(t, tt.expected, s.NextN(tt.after, len(tt.expected)))
		})
	}
}

func TestNext_Location(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	s := mustParse(t, "0 0 * * *")

	next, ok := s.Next(time.Date(2024, 1, 1, 12, 0, 0, 0, loc))
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
	if next.Location() != loc {
		t.Errorf("location = %v, want %v", next.Location(), loc)
	}
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		start time.Time
		end   time.Time
		count int
	}{
		{"every minute one hour", "* * * * *", makeTime(2024, 1, 1, 10, 0), makeTime(2024, 1, 1, 11, 0), 60},
		{"hourly one day", "0 * * * *", makeTime(2024, 1, 1, 0, 0), makeTime(2024, 1, 2, 0, 0), 24},
		{"daily one week", "0 0 * * *", makeTime(2024, 1, 1, 0, 0), makeTime(2024, 1, 8, 0, 0), 7},
		{"weekdays two weeks", "0 9 * * 1-5", makeTime(2024, 1, 1, 0, 0), makeTime(2024, 1, 15, 0, 0), 10},
		{"monthly one year", "0 0 1 * *", makeTime(2024, 1, 1, 0, 0), makeTime(2024, 12, 31, 23, 59), 12},
		{"leap day in non leap year", "0 0 29 2 *", makeTime(2025, 2, 1, 0, 0), makeTime(2025, 3, 1, 0, 0), 0},
		{"31st in April", "0 0 31 * *", makeTime(2024, 4, 1, 0, 0), makeTime(2024, 5, 1, 0, 0), 0},
		{"start after end", "* * * * *", makeTime(2024, 1, 2, 0, 0), makeTime(2024, 1, 1, 0, 0), 0},
		{"start equal end", "* * * * *", makeTime(2024, 1, 1, 10, 0), makeTime(2024, 1, 1, 10, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := mustParse(t, tt.expr).Between(tt.start, tt.end)
			if len(results) != tt.count {
				t.Errorf("expected %d occurrences, got %d", tt.count, len(results))
			}
		})
	}
}

func TestBetween_BoundariesInclusiveExclusive(t *testing.T) {
	s := mustParse(t, "0 * * * *")

	results := s.Between(makeTime(2024, 1, 1, 10, 0), makeTime(2024, 1, 1, 13, 0))
	assertTimes(t, []time.Time{
		makeTime(2024, 1, 1, 10, 0),
		makeTime(2024, 1, 1, 11, 0),
		makeTime(2024, 1, 1, 12, 0),
	}, results)

	// a start past the minute excludes that minute
	results = s.Between(time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC), makeTime(2024, 1, 1, 12, 0))
	assertTimes(t, []time.Time{makeTime(2024, 1, 1, 11, 0)}, results)
}

func BenchmarkNext_Daily(b *testing.B) {
	s := MustParse("0 0 * * *")
	after := makeTime(2024, 1, 1, 0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Next(after)
	}
}

func BenchmarkNext_LeapDay(b *testing.B) {
	s := MustParse("0 0 29 2 *")
	after := makeTime(2025, 3, 1, 0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Next(after)
	}
}
