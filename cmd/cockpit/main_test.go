package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cockpit/internal/calendar"
)

func TestCardTitle(t *testing.T) {
	week := calendar.EmptyWeek()
	week["Monday"] = []any{
		map[string]any{"id": 7.0, "name": "Barolo", "vintage": 2019.0, "locked": true},
		map[string]any{"wine": "Fiano"},
		map[string]any{"id": "99"},
		nil,
		map[string]any{"name": "Gamay", "stock": "lots"},
	}
	slots := calendar.AttachCards(week)["Monday"]

	assert.Equal(t, "🔒 Barolo 2019", cardTitle(slots, 0))
	assert.Equal(t, "Fiano", cardTitle(slots, 1))
	assert.Equal(t, "99", cardTitle(slots, 2))
	assert.Equal(t, "-", cardTitle(slots, 3))
	assert.Equal(t, "Gamay", cardTitle(slots, 4))
	assert.Equal(t, "", cardTitle(slots, calendar.SlotsPerDay))
}
