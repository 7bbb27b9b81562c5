package mailing

import (
	"strconv"
	"strings"
	"time"
)

// clock is seconds since midnight.
type clock int

// parseClock accepts "HH:MM" and "HH:MM:SS".
func parseClock(s string) (clock, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return clock(h*3600 + m*60 + sec), true
}

// withinWindow reports whether now falls inside the daily [start, end]
// window. A window with start > end spans midnight. Malformed bounds fall
// back to always-open so a bad string never blocks a task permanently.
func withinWindow(now time.Time, start, end string) bool {
	s, okS := parseClock(start)
	e, okE := parseClock(end)
	if !okS || !okE {
		return true
	}
	n := clock(now.Hour()*3600 + now.Minute()*60 + now.Second())
	if s <= e {
		return s <= n && n <= e
	}
	return n >= s || n <= e
}
