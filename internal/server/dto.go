package server

import (
	"cockpit/internal/calendar"
	"cockpit/internal/domain"
	"cockpit/internal/store"
)

// Request payloads

// RunNotebookRequest is the body of POST /run_notebook. Fields are loose
// because the UI sends whatever it has selected.
type RunNotebookRequest struct {
	Mode           string `json:"mode,omitempty" enum:"full,partial,offer"`
	Notebook       string `json:"notebook,omitempty"`
	WeekNumber     any    `json:"week_number,omitempty"`
	UISelection    any    `json:"ui_selection,omitempty"`
	SelectedWine   any    `json:"selected_wine,omitempty"`
	LockedCalendar any    `json:"locked_calendar,omitempty"`
	Filters        any    `json:"filters,omitempty"`
}

// Response payloads

type OKResponse struct {
	OK bool `json:"ok"`
}

type RunNotebookResponse struct {
	OK       bool   `json:"ok"`
	Notebook string `json:"notebook"`
	RID      string `json:"rid"`
	RunID    string `json:"run_id"`
}

type RunFullEngineResponse struct {
	Message string `json:"message"`
	RID     string `json:"rid"`
	RunID   string `json:"run_id"`
}

type ScheduleResponse struct {
	WeeklyCalendar   map[string][]map[string]any `json:"weekly_calendar"`
	Week             *int                        `json:"week"`
	ValidationErrors []string                    `json:"validation_errors,omitempty"`
}

type LockedResponse struct {
	LockedCalendar any `json:"locked_calendar"`
	Week           int `json:"week"`
}

type SaveLockedResponse struct {
	OK    bool   `json:"ok"`
	Saved string `json:"saved"`
	Week  int    `json:"week"`
}

type FiltersResponse struct {
	Filters any `json:"filters"`
}

type SaveFiltersResponse struct {
	OK    bool `json:"ok"`
	Saved bool `json:"saved"`
}

type CardPreviewResponse struct {
	Card calendar.Card `json:"card"`
}

type LeadsResponse struct {
	Leads []any `json:"leads"`
}

type CampaignIndexResponse struct {
	ByID   map[string]string   `json:"by_id"`
	ByName map[string]string   `json:"by_name"`
	Meta   *store.CampaignMeta `json:"meta,omitempty"`
}

type CampaignRefreshResponse struct {
	OK       bool `json:"ok"`
	IDs      int  `json:"ids"`
	Names    int  `json:"names"`
	RowCount int  `json:"row_count"`
}

type HealthResponse struct {
	OK           bool     `json:"ok"`
	MissingPaths []string `json:"missing_paths"`
	RunInFlight  bool     `json:"run_in_flight"`
}

type RouteInfo struct {
	Rule    string   `json:"rule"`
	Methods []string `json:"methods"`
}

type RunResponse struct {
	ID         string `json:"id"`
	Notebook   string `json:"notebook"`
	Mode       string `json:"mode" enum:"full,partial,offer"`
	Week       int    `json:"week"`
	State      string `json:"state" enum:"running,completed,error"`
	Message    string `json:"message,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at,omitempty" format:"date-time"`
}

type RunListResponse struct {
	Items []RunResponse `json:"items"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Notebook:   r.Notebook,
		Mode:       string(r.Mode),
		Week:       r.Week,
		State:      string(r.State),
		Message:    r.Message,
		RequestID:  r.RequestID,
		ActorID:    r.ActorID,
		StartedAt:  r.StartedAt,
		FinishedAt: stringOrEmpty(r.FinishedAt),
	}
}

func mapRuns(items []domain.Run) []RunResponse {
	out := make([]RunResponse, 0, len(items))
	for _, r := range items {
		out = append(out, runResponse(r))
	}
	return out
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
