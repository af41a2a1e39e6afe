package calendar

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Item is the typed view of an occupied slot. Unknown fields are ignored.
type Item struct {
	ID           string  `mapstructure:"id"`
	Name         string  `mapstructure:"name"`
	Wine         string  `mapstructure:"wine"`
	Vintage      string  `mapstructure:"vintage"`
	FullType     string  `mapstructure:"full_type"`
	RegionGroup  string  `mapstructure:"region_group"`
	Stock        int     `mapstructure:"stock"`
	PriceTier    string  `mapstructure:"price_tier"`
	MatchQuality string  `mapstructure:"match_quality"`
	Score        float64 `mapstructure:"avg_cpi_score"`
	Locked       bool    `mapstructure:"locked"`
	Slot         *int    `mapstructure:"slot"`

	// Index is the position of the slot within its day, set by Items.
	Index int `mapstructure:"-"`
}

// DecodeItem decodes a slot into an Item. ok is false for empty slots.
func DecodeItem(slot any) (item Item, ok bool, err error) {
	m, isMap := slot.(map[string]any)
	if !isMap || len(m) == 0 || truthy(m["empty"]) {
		return Item{}, false, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &item,
	})
	if err != nil {
		return Item{}, false, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Item{}, false, fmt.Errorf("decode slot: %w", err)
	}
	return item, true, nil
}

// DisplayName returns Name, falling back to Wine.
func (i Item) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Wine
}

// Key identifies an item by id when present, else by name and vintage.
func (i Item) Key() string {
	if id := strings.TrimSpace(i.ID); id != "" {
		return "id:" + id
	}
	return "name:" + strings.ToLower(strings.TrimSpace(i.DisplayName())) + "::" + strings.ToLower(strings.TrimSpace(i.Vintage))
}

// Items returns the occupied slots of w by day, in slot order. Slots that
// cannot be decoded are skipped.
func Items(w Week) map[string][]Item {
	out := make(map[string][]Item, len(Days))
	for _, d := range Days {
		for i, slot := range w[d] {
			item, ok, err := DecodeItem(slot)
			if err != nil || !ok {
				continue
			}
			item.Index = i
			out[d] = append(out[d], item)
		}
	}
	return out
}

// Duplicates reports every item of w that names the same wine as an
// earlier slot in the week. Items with neither id nor name are ignored.
func Duplicates(w Week) []FieldError {
	seen := make(map[string]string)
	var errs []FieldError
	byDay := Items(w)
	for _, d := range Days {
		for _, item := range byDay[d] {
			name := strings.TrimSpace(item.DisplayName())
			if name == "" {
				name = strings.TrimSpace(item.ID)
			}
			if name == "" {
				continue
			}
			path := fmt.Sprintf("%s/%d", d, item.Index)
			if first, ok := seen[item.Key()]; ok {
				errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf("%q is already scheduled at %s", name, first)})
				continue
			}
			seen[item.Key()] = path
		}
	}
	return errs
}
