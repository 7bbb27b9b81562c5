package mailing

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 14, hour, min, 0, 0, time.Local)
}

func TestWithinWindow(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{"inside plain window", "09:00", "18:00", at(12, 0), true},
		{"before plain window", "09:00", "18:00", at(8, 59), false},
		{"after plain window", "09:00", "18:00", at(18, 1), false},
		{"boundary start inclusive", "09:00", "18:00", at(9, 0), true},
		{"boundary end inclusive", "09:00", "18:00", at(18, 0), true},
		{"midnight wrap late evening", "22:00", "06:00", at(23, 30), true},
		{"midnight wrap early morning", "22:00", "06:00", at(5, 0), true},
		{"midnight wrap daytime", "22:00", "06:00", at(10, 0), false},
		{"with seconds", "08:30:15", "08:30:45", at(8, 31), false},
		{"malformed start fails open", "banana", "18:00", at(3, 0), true},
		{"malformed end fails open", "09:00", "25:99", at(3, 0), true},
		{"empty bounds fail open", "", "", at(3, 0), true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := withinWindow(tc.now, tc.start, tc.end); got != tc.want {
				t.Errorf("withinWindow(%s, %q, %q) = %v, want %v",
					tc.now.Format("15:04"), tc.start, tc.end, got, tc.want)
			}
		})
	}
}
