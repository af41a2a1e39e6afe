package calendar

import (
	"strings"

	"github.com/spf13/cast"
)

// Card is the display projection of a slot.
type Card struct {
	Empty    bool           `json:"empty"`
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle"`
	Badges   []string       `json:"badges"`
	Meta     map[string]any `json:"meta"`
	Reasons  []any          `json:"reasons"`
	Locked   bool           `json:"locked"`
}

const lockedBadge = "🔒 Locked"

// ShapeCard derives a Card from a raw slot. cell is never modified.
func ShapeCard(cell any) Card {
	m, _ := cell.(map[string]any)
	if len(m) == 0 {
		return emptyCard([]any{"empty"})
	}
	if truthy(m["empty"]) {
		reasons := []any{"no_candidates_left"}
		if r, ok := m["reasons"]; ok && r != nil {
			reasons = asList(r)
		}
		return emptyCard(reasons)
	}

	name := str(first(m, "name", "wine"))
	vintage := str(m["vintage"])
	title := strings.TrimSpace(strings.TrimSpace(name) + " " + strings.TrimSpace(vintage))
	id := str(m["id"])
	if title == "" {
		title = id
	}

	badges := []string{}
	if truthy(m["locked"]) {
		badges = append(badges, lockedBadge)
	}
	if v := first(m, "type", "full_type"); truthy(v) {
		badges = append(badges, str(v))
	}
	if v := first(m, "region", "region_group"); truthy(v) {
		badges = append(badges, str(v))
	}
	if v := first(m, "price", "price_tier"); truthy(v) {
		badges = append(badges, "CHF "+str(v))
	}

	meta := map[string]any{}
	if v, ok := m["stock"]; ok {
		meta["Stock"] = v
	}
	if v, ok := m["score"]; ok {
		meta["Score"] = v
	} else if v, ok := m["avg_cpi_score"]; ok {
		meta["Score"] = v
	}

	reasons := []any{}
	if r, ok := m["reasons"]; ok && r != nil {
		reasons = asList(r)
	}
	return Card{
		Title:    title,
		Subtitle: id,
		Badges:   badges,
		Meta:     meta,
		Reasons:  reasons,
		Locked:   truthy(m["locked"]),
	}
}

// AttachCards returns a copy of w where every slot is an object carrying a
// "card" field next to its original fields. Empty slots become
// {"empty": true, "card": ...}.
func AttachCards(w Week) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(w))
	for day, slots := range w {
		shaped := make([]map[string]any, 0, len(slots))
		for _, cell := range slots {
			src, ok := cell.(map[string]any)
			if !ok || src == nil {
				src = map[string]any{"empty": true}
			}
			c := make(map[string]any, len(src)+1)
			for k, v := range src {
				c[k] = v
			}
			c["card"] = ShapeCard(src)
			shaped = append(shaped, c)
		}
		out[day] = shaped
	}
	return out
}

func emptyCard(reasons []any) Card {
	return Card{
		Empty:   true,
		Title:   "Empty",
		Badges:  []string{},
		Meta:    map[string]any{},
		Reasons: reasons,
	}
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return cast.ToString(v)
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return append([]any{}, l...)
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
