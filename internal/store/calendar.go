package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

const (
	scheduleFile    = "weekly_campaign_schedule.json"
	engineReadyFile = ".engine_ready.json"
)

// Calendar reads schedules written by the pipeline and owns the locked
// calendars and the engine-ready marker.
type Calendar struct {
	// OutputDir holds schedule files and the engine-ready marker.
	OutputDir string
	// LockedDir holds one locked calendar per week.
	LockedDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

// EngineReady is the persisted engine-ready marker.
type EngineReady struct {
	Ready bool   `json:"ready"`
	TS    string `json:"ts"`
}

func NewCalendar(outputDir, lockedDir string, logger *slog.Logger) *Calendar {
	if lockedDir == "" {
		lockedDir = filepath.Join(outputDir, "locked_weeks")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calendar{OutputDir: outputDir, LockedDir: lockedDir, Now: time.Now, Logger: logger}
}

// ScheduleWeekPath returns the week-specific schedule file.
func (c *Calendar) ScheduleWeekPath(week int) string {
	return filepath.Join(c.OutputDir, fmt.Sprintf("weekly_campaign_schedule_week_%d.json", week))
}

// SchedulePath returns the canonical schedule file.
func (c *Calendar) SchedulePath() string {
	return filepath.Join(c.OutputDir, scheduleFile)
}

// LockedPath returns the locked calendar file for week.
func (c *Calendar) LockedPath(week int) string {
	return filepath.Join(c.LockedDir, LockedFileName(week))
}

// LockedFileName is the file name used for a week's locked calendar.
func LockedFileName(week int) string {
	return fmt.Sprintf("locked_calendar_week_%d.json", week)
}

// LoadSchedule returns the raw calendar for week, preferring the
// week-specific file and falling back to the canonical one when it does
// not exist. A weekly_calendar envelope is unwrapped. ok is false when no
// file exists or the chosen file is malformed.
func (c *Calendar) LoadSchedule(week int) (data any, ok bool) {
	if week > 0 {
		p := c.ScheduleWeekPath(week)
		if exists(p) {
			return c.readSchedule(p)
		}
	}
	p := c.SchedulePath()
	if !exists(p) {
		return nil, false
	}
	return c.readSchedule(p)
}

func (c *Calendar) readSchedule(path string) (any, bool) {
	raw, ok := readOptional(path)
	if !ok {
		c.logger().Warn("schedule file unreadable", "path", path)
		return nil, false
	}
	m, isMap := raw.(map[string]any)
	if !isMap {
		c.logger().Warn("schedule file is not an object", "path", path)
		return nil, false
	}
	if inner, found := m["weekly_calendar"]; found {
		return inner, true
	}
	return m, true
}

// SaveLockedCalendar overwrites the locked calendar for week with data and
// returns the file name written.
func (c *Calendar) SaveLockedCalendar(week int, data any) (string, error) {
	if err := WriteJSON(c.LockedPath(week), data); err != nil {
		return "", fmt.Errorf("save locked calendar week %d: %w", week, err)
	}
	return LockedFileName(week), nil
}

// LoadLockedCalendar returns the locked calendar for week, or an empty
// object when the file is missing or malformed.
func (c *Calendar) LoadLockedCalendar(week int) any {
	v, ok := readOptional(c.LockedPath(week))
	if !ok || v == nil {
		return map[string]any{}
	}
	return v
}

// IsEngineReady reports whether the last full run left a ready marker.
func (c *Calendar) IsEngineReady() bool {
	var marker EngineReady
	if err := ReadJSON(filepath.Join(c.OutputDir, engineReadyFile), &marker); err != nil {
		return false
	}
	return marker.Ready
}

// SetEngineReady overwrites the ready marker.
func (c *Calendar) SetEngineReady() error {
	marker := EngineReady{Ready: true, TS: c.now().UTC().Format(time.RFC3339Nano)}
	if err := WriteJSON(filepath.Join(c.OutputDir, engineReadyFile), marker); err != nil {
		return fmt.Errorf("set engine ready: %w", err)
	}
	return nil
}

func (c *Calendar) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Calendar) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
