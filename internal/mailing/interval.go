package mailing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseIntervalInput converts the user-facing interval shorthand to a
// duration. Accepted forms: "M" (minutes), "M.S" (minutes.seconds) and
// "H.M.S" (hours.minutes.seconds).
func ParseIntervalInput(raw string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	nums := make([]int, 0, 3)
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad interval %q", raw)
		}
		nums = append(nums, n)
	}
	var secs int
	switch len(nums) {
	case 1:
		secs = nums[0] * 60
	case 2:
		secs = nums[0]*60 + nums[1]
	case 3:
		secs = nums[0]*3600 + nums[1]*60 + nums[2]
	default:
		return 0, fmt.Errorf("bad interval %q", raw)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("bad interval %q", raw)
	}
	return time.Duration(secs) * time.Second, nil
}

// FormatInterval renders a duration the way the interval prompt expects it
// back, e.g. "1h 5m 30s" with zero leading units omitted.
func FormatInterval(d time.Duration) string {
	secs := int(d / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
