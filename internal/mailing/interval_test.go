package mailing

import (
	"testing"
	"time"
)

func TestParseIntervalInput(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"5", 5 * time.Minute, false},
		{"1.30", 90 * time.Second, false},
		{"0.45", 45 * time.Second, false},
		{"1.5.30", time.Hour + 5*time.Minute + 30*time.Second, false},
		{" 10 ", 10 * time.Minute, false},
		{"0", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"1.2.3.4", 0, true},
		{"-5", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseIntervalInput(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseIntervalInput(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseIntervalInput(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestFormatInterval(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 5*time.Minute + 30*time.Second, "1h 5m 30s"},
	}
	for _, tc := range cases {
		if got := FormatInterval(tc.d); got != tc.want {
			t.Errorf("FormatInterval(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
