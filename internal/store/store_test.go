package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	dir := t.TempDir()
	c := NewCalendar(dir, "", nil)
	c.Now = func() time.Time { return time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC) }
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadSchedulePrefersWeekFile(t *testing.T) {
	c := newTestCalendar(t)
	writeFile(t, c.SchedulePath(), `{"Monday": ["canonical"]}`)
	writeFile(t, c.ScheduleWeekPath(7), `{"weekly_calendar": {"Monday": ["week7"]}}`)

	data, ok := c.LoadSchedule(7)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"Monday": []any{"week7"}}, data)

	data, ok = c.LoadSchedule(8)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"Monday": []any{"canonical"}}, data)

	data, ok = c.LoadSchedule(0)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"Monday": []any{"canonical"}}, data)
}

func TestLoadScheduleMalformedIsAbsent(t *testing.T) {
	c := newTestCalendar(t)
	_, ok := c.LoadSchedule(3)
	assert.False(t, ok)

	writeFile(t, c.SchedulePath(), `{"Monday": ["canonical"]}`)
	writeFile(t, c.ScheduleWeekPath(3), `{not json`)
	_, ok = c.LoadSchedule(3)
	assert.False(t, ok, "a malformed week file must not fall back")

	writeFile(t, c.SchedulePath(), `[1, 2]`)
	_, ok = c.LoadSchedule(0)
	assert.False(t, ok)
}

func TestLockedCalendarRoundTrip(t *testing.T) {
	c := newTestCalendar(t)
	data := map[string]any{
		"Monday": []any{map[string]any{"id": "1", "locked": true}, nil, nil, nil, nil},
	}
	name, err := c.SaveLockedCalendar(5, data)
	require.NoError(t, err)
	assert.Equal(t, "locked_calendar_week_5.json", name)
	assert.FileExists(t, filepath.Join(c.OutputDir, "locked_weeks", name))

	got := c.LoadLockedCalendar(5)
	assert.Equal(t, map[string]any{
		"Monday": []any{map[string]any{"id": "1", "locked": true}, nil, nil, nil, nil},
	}, got)
	assert.Equal(t, map[string]any{}, c.LoadLockedCalendar(6))

	_, err = c.SaveLockedCalendar(5, map[string]any{"Tuesday": []any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Tuesday": []any{}}, c.LoadLockedCalendar(5))
}

func TestLoadLockedCalendarMalformed(t *testing.T) {
	c := newTestCalendar(t)
	writeFile(t, c.LockedPath(9), `{"Monday": [`)
	assert.Equal(t, map[string]any{}, c.LoadLockedCalendar(9))
}

func TestEngineReady(t *testing.T) {
	c := newTestCalendar(t)
	assert.False(t, c.IsEngineReady())

	require.NoError(t, c.SetEngineReady())
	assert.True(t, c.IsEngineReady())

	var marker EngineReady
	require.NoError(t, ReadJSON(filepath.Join(c.OutputDir, engineReadyFile), &marker))
	assert.Equal(t, "2024-05-06T08:00:00Z", marker.TS)

	writeFile(t, filepath.Join(c.OutputDir, engineReadyFile), `garbage`)
	assert.False(t, c.IsEngineReady())
}

func TestWriteJSONLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	require.NoError(t, WriteJSON(path, map[string]any{"a": 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(data))
	assert.NoFileExists(t, path+".tmp")
}

func TestSnapshotsPersist(t *testing.T) {
	s := Snapshots{NotebooksDir: filepath.Join(t.TempDir(), "nb"), OutputDir: filepath.Join(t.TempDir(), "iron")}
	require.NoError(t, s.Persist(Snapshot{}))
	assert.Equal(t, map[string]any{}, s.LoadFilters())
	assert.FileExists(t, s.LockedSnapshotPath())
	assert.NoFileExists(t, s.UISelectionPath())
	assert.NoFileExists(t, s.SelectedWinePath())

	require.NoError(t, s.Persist(Snapshot{
		Filters:      map[string]any{"region": "Tuscany"},
		UISelection:  map[string]any{"day": "Monday"},
		SelectedWine: map[string]any{"id": "42"},
	}))
	assert.Equal(t, map[string]any{"region": "Tuscany"}, s.LoadFilters())
	assert.FileExists(t, s.UISelectionPath())
	assert.FileExists(t, s.SelectedWinePath())
}

func TestSnapshotsPersistFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "x")
	s := Snapshots{NotebooksDir: filepath.Join(blocker, "nb"), OutputDir: dir}
	assert.Error(t, s.Persist(Snapshot{}))
}

func TestLeadsCandidatesAndNormalize(t *testing.T) {
	dir := t.TempDir()
	l := Leads{Dir: dir}
	assert.Equal(t, []string{
		filepath.Join(dir, "leads_2024_W07.json"),
		filepath.Join(dir, "leads_W07.json"),
		filepath.Join(dir, "leads_default.json"),
	}, l.Candidates(2024, 7))
	assert.Len(t, l.Candidates(0, 0), 1)

	assert.Equal(t, []any{}, l.Load(2024, 7).Leads)

	writeFile(t, filepath.Join(dir, "leads_W07.json"), `{"Monday": [{"title": "A", "span": 3}], "TueWed": [{"title": "B"}], "Junk": [{"title": "C"}]}`)
	res := l.Load(2024, 7)
	assert.Equal(t, filepath.Join(dir, "leads_W07.json"), res.Source)
	require.Len(t, res.Leads, 2)
	assert.Equal(t, map[string]any{"title": "A", "day": "Monday", "span": 3}, res.Leads[0])
	assert.Equal(t, map[string]any{"title": "B", "day": "Tuesday", "span": 2}, res.Leads[1])
}

func TestNormalizeLeadsShapes(t *testing.T) {
	list := []any{map[string]any{"day": "Friday"}}
	assert.Equal(t, list, NormalizeLeads(map[string]any{"leads": list}))
	assert.Equal(t, list, NormalizeLeads(list))
	assert.Equal(t, []any{}, NormalizeLeads("nope"))
	assert.Equal(t, []any{map[string]any{"day": "Sunday", "span": 1}}, NormalizeLeads(map[string]any{"Sunday": []any{map[string]any{}}}))
}

func TestCampaignIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	c := NewCampaigns(path, 0)

	idx, meta, err := c.Load()
	require.NoError(t, err)
	assert.False(t, meta.Exists)
	assert.Empty(t, idx.ByID)

	writeFile(t, path, "wine_id,Wine,Vintage,last_campaign\n"+
		"101.0,Barolo,2019,2024-01-10\n"+
		"101,Barolo,2019,15/02/2024\n"+
		"102,Champagne Brut,N.V.,2023-12-01\n"+
		"103,Skipped,2020,\n")
	idx, meta, err = c.Load()
	require.NoError(t, err)
	assert.True(t, meta.Exists)
	assert.Equal(t, 4, meta.RowCount)
	assert.Equal(t, map[string]string{"id": "wine_id", "name": "Wine", "vintage": "Vintage", "date": "last_campaign"}, meta.UsedColumns)
	assert.Equal(t, map[string]string{"101": "2024-02-15", "102": "2023-12-01"}, idx.ByID)
	assert.Equal(t, "2024-02-15", idx.ByName["barolo::2019"])
	assert.Equal(t, "2023-12-01", idx.ByName["champagne brut::nv"])

	// Growing the file changes its size and invalidates the cache.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("104,Chianti,2021,2024-03-01\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	idx, _, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", idx.ByID["104"])

	idx, _, err = c.Refresh()
	require.NoError(t, err)
	assert.Len(t, idx.ByID, 3)
}

func TestCampaignIndexRequiresNameAndDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	writeFile(t, path, "id,vintage\n1,2019\n")
	idx, meta, err := BuildCampaignIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.RowCount)
	assert.Empty(t, idx.ByName)
}
