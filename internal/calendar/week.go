package calendar

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	MinWeek = 1
	MaxWeek = 53
)

// CurrentWeek returns the ISO week number of now.
func CurrentWeek(now time.Time) int {
	_, w := now.ISOWeek()
	return w
}

// ClampWeek converts v to a week number in [MinWeek, MaxWeek]. Values that
// are not numeric resolve to the ISO week of now.
func ClampWeek(v any, now time.Time) int {
	n, ok := parseWeek(v)
	if !ok {
		n = CurrentWeek(now)
	}
	return min(MaxWeek, max(MinWeek, n))
}

func parseWeek(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	case *int:
		if x == nil {
			return 0, false
		}
		return *x, true
	}
	n, err := cast.ToIntE(v)
	return n, err == nil
}
