package store

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cast"

	"cockpit/internal/calendar"
)

// mergedDays maps two-day lead keys to their first day and span.
var mergedDays = map[string]string{
	"MonTue": "Monday",
	"TueWed": "Tuesday",
	"WedThu": "Wednesday",
	"ThuFri": "Thursday",
	"FriSat": "Friday",
	"SatSun": "Saturday",
	"SunMon": "Sunday",
}

// Leads reads precomputed lead blocks from the output directory.
type Leads struct {
	Dir string
}

// LeadsResult is a normalized leads payload.
type LeadsResult struct {
	Leads  []any  `json:"leads"`
	Source string `json:"-"`
}

// Candidates lists the files tried for year/week, most specific first.
// Zero values are treated as unset.
func (l Leads) Candidates(year, week int) []string {
	var out []string
	if year > 0 && week > 0 {
		out = append(out, filepath.Join(l.Dir, fmt.Sprintf("leads_%d_W%02d.json", year, week)))
	}
	if week > 0 {
		out = append(out, filepath.Join(l.Dir, fmt.Sprintf("leads_W%02d.json", week)))
	}
	return append(out, filepath.Join(l.Dir, "leads_default.json"))
}

// Load returns the first readable candidate, normalized. A missing source
// yields an empty list.
func (l Leads) Load(year, week int) LeadsResult {
	for _, p := range l.Candidates(year, week) {
		v, ok := readOptional(p)
		if !ok || v == nil {
			continue
		}
		return LeadsResult{Leads: NormalizeLeads(v), Source: p}
	}
	return LeadsResult{Leads: []any{}}
}

// NormalizeLeads flattens a leads payload into a list. Accepted shapes are
// {"leads": [...]}, a bare list, and objects keyed by day ("Tuesday") or
// by merged day pair ("TueWed"). Day-keyed entries gain "day" and "span".
func NormalizeLeads(payload any) []any {
	switch p := payload.(type) {
	case []any:
		return p
	case map[string]any:
		if list, ok := p["leads"].([]any); ok {
			return list
		}
		out := []any{}
		// Walk days in calendar order so output is stable.
		for _, day := range calendar.Days {
			out = append(out, spread(p[day], day, 0)...)
		}
		for _, key := range []string{"MonTue", "TueWed", "WedThu", "ThuFri", "FriSat", "SatSun", "SunMon"} {
			out = append(out, spread(p[key], mergedDays[key], 2)...)
		}
		return out
	default:
		return []any{}
	}
}

// spread stamps day and span on every object in arr. A zero span keeps the
// entry's own span, defaulting to 1.
func spread(arr any, day string, span int) []any {
	list, ok := arr.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		src, ok := item.(map[string]any)
		if !ok {
			continue
		}
		lead := make(map[string]any, len(src)+2)
		for k, v := range src {
			lead[k] = v
		}
		lead["day"] = day
		if span > 0 {
			lead["span"] = span
		} else {
			s := cast.ToInt(src["span"])
			if s <= 0 {
				s = 1
			}
			lead["span"] = s
		}
		out = append(out, lead)
	}
	return out
}
