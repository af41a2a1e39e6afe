package cockpitsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal cockpit HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// PollInterval is used by Wait.
	PollInterval time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:      baseURL,
		Timeout:      10 * time.Second,
		PollInterval: time.Second,
	}
}

// Status is the run status served by /status.
type Status struct {
	Notebook    string   `json:"notebook"`
	State       string   `json:"state"`
	Progress    int      `json:"progress"`
	Message     string   `json:"message"`
	UpdatedAt   string   `json:"updated_at"`
	Done        bool     `json:"done"`
	DurationSec *float64 `json:"duration_sec"`
	RunID       string   `json:"run_id,omitempty"`
	StartedAt   string   `json:"started_at,omitempty"`
}

// RunOptions are the optional fields of a notebook run.
type RunOptions struct {
	Mode           string `json:"mode,omitempty"`
	Notebook       string `json:"notebook,omitempty"`
	WeekNumber     int    `json:"week_number,omitempty"`
	UISelection    any    `json:"ui_selection,omitempty"`
	SelectedWine   any    `json:"selected_wine,omitempty"`
	LockedCalendar any    `json:"locked_calendar,omitempty"`
	Filters        any    `json:"filters,omitempty"`
}

// RunStarted is returned when a run was accepted.
type RunStarted struct {
	OK       bool   `json:"ok"`
	Notebook string `json:"notebook"`
	Message  string `json:"message"`
	RID      string `json:"rid"`
	RunID    string `json:"run_id"`
}

// Schedule is the card-shaped weekly schedule.
type Schedule struct {
	WeeklyCalendar   map[string][]map[string]any `json:"weekly_calendar"`
	Week             *int                        `json:"week"`
	ValidationErrors []string                    `json:"validation_errors,omitempty"`
}

// Locked is a week's locked calendar.
type Locked struct {
	LockedCalendar map[string]any `json:"locked_calendar"`
	Week           int            `json:"week"`
}

// Run is a recorded run.
type Run struct {
	ID         string `json:"id"`
	Notebook   string `json:"notebook"`
	Mode       string `json:"mode"`
	Week       int    `json:"week"`
	State      string `json:"state"`
	Message    string `json:"message,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	Details    []string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a 409, i.e. a run is already in
// progress.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Status returns the current run status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// RunNotebook starts a notebook run.
func (c *Client) RunNotebook(ctx context.Context, opts RunOptions) (RunStarted, error) {
	var resp RunStarted
	err := c.do(ctx, http.MethodPost, "run_notebook", opts, &resp)
	return resp, err
}

// RunFullEngine starts the full engine notebook.
func (c *Client) RunFullEngine(ctx context.Context) (RunStarted, error) {
	var resp RunStarted
	err := c.do(ctx, http.MethodPost, "run_full_engine", nil, &resp)
	return resp, err
}

// EngineReady reports whether the last full run completed.
func (c *Client) EngineReady(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "engine_ready", nil, nil)
	if err == nil {
		return true, nil
	}
	if IsConflict(err) {
		return false, nil
	}
	return false, err
}

// Wait polls the status until it reports done, or ctx ends.
func (c *Client) Wait(ctx context.Context) (Status, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx)
		if err != nil {
			return st, err
		}
		if st.Done {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Schedule returns the schedule of week, or the canonical one when week
// is zero.
func (c *Client) Schedule(ctx context.Context, week int) (Schedule, error) {
	endpoint := "api/schedule"
	if week > 0 {
		endpoint = fmt.Sprintf("%s?week=%d", endpoint, week)
	}
	var resp Schedule
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Locked returns the locked calendar of week (current week when zero).
func (c *Client) Locked(ctx context.Context, week int) (Locked, error) {
	endpoint := "api/locked"
	if week > 0 {
		endpoint = fmt.Sprintf("%s?week=%d", endpoint, week)
	}
	var resp Locked
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SaveLocked overwrites the locked calendar of week and returns the saved
// file name.
func (c *Client) SaveLocked(ctx context.Context, week int, lockedCalendar any) (string, error) {
	body := map[string]any{"locked_calendar": lockedCalendar}
	if week > 0 {
		body["week"] = week
	}
	var resp struct {
		Saved string `json:"saved"`
	}
	err := c.do(ctx, http.MethodPost, "api/locked", body, &resp)
	return resp.Saved, err
}

// ListRuns returns recorded runs, most recent first. state may be empty.
func (c *Client) ListRuns(ctx context.Context, state string, limit int) ([]Run, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "api/runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetRun fetches one recorded run.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "api/runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error   string   `json:"error"`
			Details []string `json:"details"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Message = env.Error
			apiErr.Details = env.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
