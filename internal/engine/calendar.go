package engine

import (
	"context"
	"errors"

	"cockpit/internal/calendar"
	"cockpit/internal/domain"
	"cockpit/internal/events"
	"cockpit/internal/status"
	"cockpit/internal/store"
)

// ErrLockedCalendarRequired is returned by SaveLocked when no calendar was
// given.
var ErrLockedCalendarRequired = errors.New("locked_calendar required")

// ScheduleView is the card-shaped schedule served to the UI.
type ScheduleView struct {
	WeeklyCalendar   map[string][]map[string]any `json:"weekly_calendar"`
	Week             *int                        `json:"week"`
	Source           string                      `json:"source"`
	ValidationErrors []string                    `json:"validation_errors,omitempty"`
}

// Schedule loads the schedule for week (0 means the canonical file),
// normalizes it and attaches cards. Missing, malformed or invalid data
// yields the empty skeleton.
func (e *Engine) Schedule(week int) ScheduleView {
	view := ScheduleView{Source: "default"}
	if week > 0 {
		w := week
		view.Week = &w
	}
	raw, ok := e.Calendar.LoadSchedule(week)
	if !ok {
		view.WeeklyCalendar = calendar.AttachCards(calendar.DefaultSchedule())
		return view
	}
	fixed := calendar.FixSlots(calendar.Normalize(raw))
	if errs := e.Validator.Validate(fixed); len(errs) > 0 {
		details := (&calendar.ValidationError{Errors: errs}).Details()
		e.Logger.Warn("schedule validation failed", "week", week, "errors", details)
		view.ValidationErrors = details
		view.WeeklyCalendar = calendar.AttachCards(calendar.DefaultSchedule())
		return view
	}
	view.Source = "file"
	view.WeeklyCalendar = calendar.AttachCards(fixed)
	return view
}

// Locked returns the clamped week and its locked calendar.
func (e *Engine) Locked(week any) (int, any) {
	w := e.ClampWeek(week)
	return w, e.Calendar.LoadLockedCalendar(w)
}

// ClampWeek resolves a requested week against the engine clock.
func (e *Engine) ClampWeek(week any) int {
	return calendar.ClampWeek(week, e.now())
}

// SaveLocked validates data and overwrites the locked calendar of the
// clamped week. Invalid data, including a wine scheduled twice in the
// week, returns a *calendar.ValidationError and writes nothing.
func (e *Engine) SaveLocked(ctx context.Context, week any, data any, actorID string) (int, string, error) {
	w := e.ClampWeek(week)
	if data == nil {
		return w, "", ErrLockedCalendarRequired
	}
	if err := e.Validator.Check(data); err != nil {
		e.Logger.Warn("locked_calendar validation failed", "week", w, "err", err)
		return w, "", err
	}
	if dups := calendar.Duplicates(calendar.Normalize(data)); len(dups) > 0 {
		err := &calendar.ValidationError{Errors: dups}
		e.Logger.Warn("locked_calendar has duplicate wines", "week", w, "err", err)
		return w, "", err
	}
	name, err := e.Calendar.SaveLockedCalendar(w, data)
	if err != nil {
		e.Logger.Error("save locked calendar", "week", w, "err", err)
		return w, "", err
	}
	e.appendEvent(ctx, domain.EventLockedSaved, "locked_calendar", name, actorID, events.EventPayload{"week": w, "file": name})
	return w, name, nil
}

// EngineReady reports the ready marker of the last full run.
func (e *Engine) EngineReady() bool {
	return e.Calendar.IsEngineReady()
}

// LoadLeads returns the leads block for year/week; zero values mean the
// current ISO year and week.
func (e *Engine) LoadLeads(year int, week any) store.LeadsResult {
	now := e.now()
	if year <= 0 {
		year, _ = now.ISOWeek()
	}
	return e.Leads.Load(year, calendar.ClampWeek(week, now))
}

// CampaignIndex returns the cached campaign history index.
func (e *Engine) CampaignIndex(refresh bool) (store.CampaignIndex, store.CampaignMeta, error) {
	if refresh {
		return e.Campaigns.Refresh()
	}
	return e.Campaigns.Load()
}

// Health reports configured directories that are missing.
func (e *Engine) Health() []string {
	missing := e.Config.MissingPaths()
	if missing == nil {
		missing = []string{}
	}
	return missing
}

// StatusView returns the status record as served to pollers.
func (e *Engine) StatusView() status.View {
	return e.Status.Get().View(e.now())
}
