package calendar

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SlotsPerDay is the fixed number of promotion slots in a day.
const SlotsPerDay = 5

// Days lists the canonical weekday keys in calendar order.
var Days = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Week maps each canonical day to its slots. A nil slot is empty.
type Week map[string][]any

// EmptyWeek returns all seven days with no slots.
func EmptyWeek() Week {
	w := make(Week, len(Days))
	for _, d := range Days {
		w[d] = []any{}
	}
	return w
}

// DefaultSchedule returns all seven days with SlotsPerDay empty slots.
func DefaultSchedule() Week {
	return FixSlots(EmptyWeek())
}

// IsDay reports whether name is a canonical day key.
func IsDay(name string) bool {
	for _, d := range Days {
		if d == name {
			return true
		}
	}
	return false
}

// Normalize coerces v into a Week holding every canonical day. Keys are
// trimmed and capitalized; unknown keys and non-list values are dropped.
// It never fails.
func Normalize(v any) Week {
	out := EmptyWeek()
	var src map[string]any
	switch m := v.(type) {
	case map[string]any:
		src = m
	case Week:
		src = make(map[string]any, len(m))
		for k, slots := range m {
			src[k] = slots
		}
	case map[string][]any:
		return Normalize(Week(m))
	default:
		return out
	}
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		day := capitalize(strings.TrimSpace(k))
		if !IsDay(day) {
			continue
		}
		var slots []any
		switch list := src[k].(type) {
		case []any:
			slots = list
		case []map[string]any:
			slots = make([]any, len(list))
			for i, item := range list {
				slots[i] = item
			}
		default:
			continue
		}
		cp := make([]any, len(slots))
		copy(cp, slots)
		out[day] = cp
	}
	return out
}

// FixSlots returns a copy of w where every canonical day holds exactly
// SlotsPerDay slots, padded with empty slots or truncated.
func FixSlots(w Week) Week {
	out := make(Week, len(Days))
	for _, d := range Days {
		slots := w[d]
		fixed := make([]any, SlotsPerDay)
		copy(fixed, slots)
		out[d] = fixed
	}
	return out
}

// Map returns w as a plain JSON-compatible value.
func (w Week) Map() map[string]any {
	out := make(map[string]any, len(w))
	for k, slots := range w {
		out[k] = slots
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
