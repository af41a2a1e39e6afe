package store

import (
	"fmt"
	"path/filepath"
)

// Snapshot is the operator UI state handed to a pipeline run.
type Snapshot struct {
	Filters        any
	LockedCalendar any
	UISelection    any
	SelectedWine   any
}

// Snapshots persists UI state where the notebooks expect it.
type Snapshots struct {
	NotebooksDir string
	OutputDir    string
}

func (s Snapshots) FiltersPath() string {
	return filepath.Join(s.NotebooksDir, "filters.json")
}

func (s Snapshots) LockedSnapshotPath() string {
	return filepath.Join(s.NotebooksDir, "locked_calendar.json")
}

func (s Snapshots) UISelectionPath() string {
	return filepath.Join(s.OutputDir, "ui_selection.json")
}

func (s Snapshots) SelectedWinePath() string {
	return filepath.Join(s.OutputDir, "selected_wine.json")
}

// Persist writes the run-start snapshot. Filters and the locked calendar
// are always written (empty objects when absent); the UI selection and
// the selected wine only when present.
func (s Snapshots) Persist(snap Snapshot) error {
	filters := snap.Filters
	if filters == nil {
		filters = map[string]any{}
	}
	locked := snap.LockedCalendar
	if locked == nil {
		locked = map[string]any{}
	}
	if err := WriteJSON(s.FiltersPath(), filters); err != nil {
		return fmt.Errorf("filters: %w", err)
	}
	if err := WriteJSON(s.LockedSnapshotPath(), locked); err != nil {
		return fmt.Errorf("locked calendar: %w", err)
	}
	if snap.UISelection != nil {
		if err := WriteJSON(s.UISelectionPath(), snap.UISelection); err != nil {
			return fmt.Errorf("ui selection: %w", err)
		}
	}
	if snap.SelectedWine != nil {
		if err := s.SaveSelectedWine(snap.SelectedWine); err != nil {
			return err
		}
	}
	return nil
}

// LoadFilters returns the saved filters or an empty object.
func (s Snapshots) LoadFilters() any {
	v, ok := readOptional(s.FiltersPath())
	if !ok || v == nil {
		return map[string]any{}
	}
	return v
}

func (s Snapshots) SaveFilters(filters any) error {
	if filters == nil {
		filters = map[string]any{}
	}
	if err := WriteJSON(s.FiltersPath(), filters); err != nil {
		return fmt.Errorf("filters: %w", err)
	}
	return nil
}

func (s Snapshots) SaveSelectedWine(v any) error {
	if v == nil {
		v = map[string]any{}
	}
	if err := WriteJSON(s.SelectedWinePath(), v); err != nil {
		return fmt.Errorf("selected wine: %w", err)
	}
	return nil
}
