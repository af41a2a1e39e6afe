package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cockpit/internal/calendar"
	"cockpit/internal/config"
	"cockpit/internal/db"
	"cockpit/internal/engine"
	"cockpit/internal/engine/auth"
	"cockpit/internal/migrate"
	"cockpit/internal/pipeline"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
}

// gate is an executor that blocks until released.
type gate struct {
	once    sync.Once
	release chan struct{}
	mu      sync.Mutex
	jobs    []pipeline.Job
}

func newGate() *gate { return &gate{release: make(chan struct{})} }

func (g *gate) Execute(ctx context.Context, job pipeline.Job) error {
	g.mu.Lock()
	g.jobs = append(g.jobs, job)
	g.mu.Unlock()
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) lastJob() pipeline.Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jobs[len(g.jobs)-1]
}

func newTestServer(t *testing.T, exec pipeline.Executor, authCfg AuthConfig) *testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Dir: filepath.Join(dir, ".cockpit")})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))

	cfg := config.Default()
	cfg.Paths.SourceDir = filepath.Join(dir, "SOURCE_FILES")
	cfg.Paths.OutputDir = filepath.Join(dir, "IRON_DATA")
	cfg.Paths.NotebooksDir = filepath.Join(dir, "notebooks")
	cfg.Paths.LockedDir = filepath.Join(dir, "IRON_DATA", "locked_weeks")
	cfg.Paths.CampaignHistoryCSV = filepath.Join(dir, "campaign_history.csv")
	cfg.Runs.HeartbeatInterval = 10 * time.Millisecond

	e := engine.New(conn, cfg, exec, nil)
	handler, err := New(Config{Engine: e, Auth: authCfg, MaxBodyBytes: cfg.Server.MaxBodyBytes})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		if g, ok := exec.(*gate); ok {
			g.open()
		}
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
		conn.Close()
	})
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func waitIdle(t *testing.T, e *engine.Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.InFlight() }, 5*time.Second, 5*time.Millisecond)
}

func lockedPayload() map[string]any {
	week := calendar.EmptyWeek()
	for _, d := range calendar.Days {
		week[d] = []any{nil, nil, nil, nil, nil}
	}
	week["Tuesday"][1] = map[string]any{"id": "42", "name": "Chablis", "vintage": "2021", "locked": true}
	return week.Map()
}

func TestStatusIsIdleAndUncached(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/status", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, res.Header.Get("Cache-Control"), "no-store")
	assert.Equal(t, "no-cache", res.Header.Get("Pragma"))
	body := decode(t, data)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "Waiting…", body["message"])
	assert.EqualValues(t, 0, body["progress"])
}

func TestRunNotebookLifecycle(t *testing.T) {
	g := newGate()
	srv := newTestServer(t, g, AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/run_notebook", map[string]any{
		"mode":        "partial",
		"week_number": 7,
		"filters":     map[string]any{"country": "FR"},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	body := decode(t, data)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "AVU_schedule_only.ipynb", body["notebook"])
	assert.NotEmpty(t, body["run_id"])
	assert.NotEmpty(t, body["rid"])

	res, data = srv.do(t, http.MethodPost, "/run_notebook", map[string]any{"mode": "offer"}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "A run is already in progress.", decode(t, data)["error"])

	res, data = srv.do(t, http.MethodPost, "/run_full_engine", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	_, data = srv.do(t, http.MethodGet, "/status", nil, nil)
	assert.Equal(t, "running", decode(t, data)["state"])

	g.open()
	waitIdle(t, srv.Engine)
	assert.EqualValues(t, 7, g.lastJob().Parameters["week_number"])

	_, data = srv.do(t, http.MethodGet, "/status", nil, nil)
	st := decode(t, data)
	assert.Equal(t, "completed", st["state"])
	assert.Equal(t, true, st["done"])
	assert.EqualValues(t, 100, st["progress"])

	res, data = srv.do(t, http.MethodGet, "/api/filters", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{"country": "FR"}, decode(t, data)["filters"])

	res, data = srv.do(t, http.MethodGet, "/api/runs?state=completed", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list RunListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "partial", list.Items[0].Mode)
	assert.Equal(t, 7, list.Items[0].Week)

	res, data = srv.do(t, http.MethodGet, "/api/runs/"+list.Items[0].ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, _ = srv.do(t, http.MethodGet, "/api/runs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRunNotebookInvalidJSON(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/run_notebook", "{not json", nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	body := decode(t, data)
	assert.Equal(t, false, body["ok"])
	assert.True(t, strings.HasPrefix(body["error"].(string), "Invalid JSON"), body["error"])
	assert.False(t, srv.Engine.InFlight())
}

func TestRunNotebookConflictWinsOverInvalidJSON(t *testing.T) {
	g := newGate()
	srv := newTestServer(t, g, AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/run_full_engine", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.True(t, srv.Engine.InFlight())

	res, data = srv.do(t, http.MethodPost, "/run_notebook", "{not json", nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, map[string]any{"ok": false, "error": "A run is already in progress."}, decode(t, data))

	res, _ = srv.do(t, http.MethodPost, "/run_notebook", map[string]any{"mode": "partial"}, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	g.open()
	waitIdle(t, srv.Engine)
	res, data = srv.do(t, http.MethodPost, "/run_notebook", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestRunFullEngineIgnoresBody(t *testing.T) {
	g := newGate()
	srv := newTestServer(t, g, AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/run_full_engine", "not even json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	body := decode(t, data)
	assert.NotEmpty(t, body["run_id"])
	assert.NotEmpty(t, body["rid"])
	g.open()
	waitIdle(t, srv.Engine)
}

func TestSnapshotEndpointsAcceptJSON(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/api/selected_wine", map[string]any{"id": "42"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, map[string]any{"ok": true}, decode(t, data))

	res, data = srv.do(t, http.MethodPost, "/api/filters", map[string]any{"filters": map[string]any{"region": "Tuscany"}}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, true, decode(t, data)["saved"])

	res, data = srv.do(t, http.MethodGet, "/api/filters", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{"region": "Tuscany"}, decode(t, data)["filters"])

	res, data = srv.do(t, http.MethodPost, "/api/filters", "{", nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.True(t, strings.HasPrefix(decode(t, data)["error"].(string), "Invalid JSON"))

	res, data = srv.do(t, http.MethodPost, "/api/cards/preview", map[string]any{"name": "Barolo", "vintage": "2019", "locked": true}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var preview CardPreviewResponse
	require.NoError(t, json.Unmarshal(data, &preview))
	assert.Equal(t, "Barolo 2019", preview.Card.Title)
	assert.True(t, preview.Card.Locked)

	res, data = srv.do(t, http.MethodPost, "/api/cards/preview", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &preview))
	assert.True(t, preview.Card.Empty)
}

func TestErrorEnvelopeHasNoSchemaLink(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	for _, path := range []string{"/api/runs?limit=0", "/api/runs/missing"} {
		res, data := srv.do(t, http.MethodGet, path, nil, nil)
		require.GreaterOrEqual(t, res.StatusCode, 400, path)
		body := decode(t, data)
		assert.NotContains(t, body, "$schema", path)
		assert.Equal(t, false, body["ok"], path)
		assert.NotEmpty(t, body["error"], path)
	}

	res, data := srv.do(t, http.MethodGet, "/status", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotContains(t, decode(t, data), "$schema")
}

func TestScheduleWeekIsClamped(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/api/schedule?week=99", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var body ScheduleResponse
	require.NoError(t, json.Unmarshal(data, &body))
	require.NotNil(t, body.Week)
	assert.Equal(t, 53, *body.Week)
}

func TestEngineReadyAfterFullRun(t *testing.T) {
	g := newGate()
	srv := newTestServer(t, g, AuthConfig{})

	res, _ := srv.do(t, http.MethodGet, "/engine_ready", nil, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, data := srv.do(t, http.MethodPost, "/run_full_engine", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "✅ Full AVU Engine started.", decode(t, data)["message"])

	res, _ = srv.do(t, http.MethodGet, "/engine_ready", nil, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	g.open()
	waitIdle(t, srv.Engine)
	res, data = srv.do(t, http.MethodGet, "/engine_ready", nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Empty(t, data)
}

func TestLockedCalendarRoundTrip(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/api/locked", map[string]any{
		"week":            "9",
		"locked_calendar": lockedPayload(),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	body := decode(t, data)
	assert.Equal(t, "locked_calendar_week_9.json", body["saved"])
	assert.EqualValues(t, 9, body["week"])

	res, data = srv.do(t, http.MethodGet, "/api/locked?week=9", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	got := decode(t, data)
	assert.EqualValues(t, 9, got["week"])
	cal := got["locked_calendar"].(map[string]any)
	tuesday := cal["Tuesday"].([]any)
	assert.Equal(t, "Chablis", tuesday[1].(map[string]any)["name"])

	res, data = srv.do(t, http.MethodGet, "/api/locked?week=10", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{}, decode(t, data)["locked_calendar"])
}

func TestLockedCalendarValidation(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodPost, "/api/locked", map[string]any{
		"week":            3,
		"locked_calendar": map[string]any{"Monday": []any{}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	body := decode(t, data)
	assert.Equal(t, "Validation failed", body["error"])
	assert.NotEmpty(t, body["details"])

	res, data = srv.do(t, http.MethodPost, "/api/locked", map[string]any{"week": 3}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "locked_calendar required", decode(t, data)["error"])

	twice := lockedPayload()
	twice["Friday"].([]any)[4] = map[string]any{"id": "42", "name": "Chablis"}
	res, data = srv.do(t, http.MethodPost, "/api/locked", map[string]any{"week": 3, "locked_calendar": twice}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	body = decode(t, data)
	assert.Equal(t, "Validation failed", body["error"])
	require.Len(t, body["details"], 1)
	assert.Contains(t, body["details"].([]any)[0], "Friday/4")
}

func TestScheduleDefaultsToSkeleton(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/api/schedule", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var body ScheduleResponse
	require.NoError(t, json.Unmarshal(data, &body))
	require.Len(t, body.WeeklyCalendar, 7)
	assert.Len(t, body.WeeklyCalendar["Monday"], calendar.SlotsPerDay)
	assert.Nil(t, body.Week)
}

func TestUnknownRouteIs404JSON(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, map[string]any{"ok": false, "error": "not found"}, decode(t, data))
}

func TestRoutesListing(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/routes.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var routes []RouteInfo
	require.NoError(t, json.Unmarshal(data, &routes))
	rules := map[string][]string{}
	for _, r := range routes {
		rules[r.Rule] = r.Methods
	}
	assert.Equal(t, []string{"POST"}, rules["/run_notebook"])
	assert.Equal(t, []string{"GET", "POST"}, rules["/api/locked"])
}

func TestOpenAPIDocumentsJSONPosts(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	paths, ok := decode(t, data)["paths"].(map[string]any)
	require.True(t, ok)
	operationID := func(path, method string) any {
		item, _ := paths[path].(map[string]any)
		op, _ := item[method].(map[string]any)
		return op["operationId"]
	}
	assert.Equal(t, "run-notebook", operationID("/run_notebook", "post"))
	assert.Equal(t, "run-full-engine", operationID("/run_full_engine", "post"))
	assert.Equal(t, "save-locked", operationID("/api/locked", "post"))
	assert.Equal(t, "get-locked", operationID("/api/locked", "get"))
}

func TestMutationsRequireToken(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{JWTSecret: "s3cret", RequiredRole: "operator"})

	res, data := srv.do(t, http.MethodPost, "/api/filters", map[string]any{"filters": map[string]any{"a": 1}}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "authentication required", decode(t, data)["error"])

	res, _ = srv.do(t, http.MethodPost, "/api/filters", map[string]any{}, map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	viewer, err := auth.Mint("s3cret", "", "bob", []string{"viewer"}, time.Hour, time.Now())
	require.NoError(t, err)
	res, _ = srv.do(t, http.MethodPost, "/api/filters", map[string]any{}, map[string]string{"Authorization": "Bearer " + viewer})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	op, err := auth.Mint("s3cret", "", "alice", []string{"operator"}, time.Hour, time.Now())
	require.NoError(t, err)
	res, data = srv.do(t, http.MethodPost, "/api/filters", map[string]any{"filters": map[string]any{"a": 1}}, map[string]string{"Authorization": "Bearer " + op})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, _ = srv.do(t, http.MethodGet, "/api/filters", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestWebhookDeliversLockedSave(t *testing.T) {
	type delivery struct {
		event string
		body  map[string]any
	}
	got := make(chan delivery, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- delivery{event: r.Header.Get("X-Cockpit-Event"), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	srv := newTestServer(t, newGate(), AuthConfig{})
	srv.Engine.Config.Webhooks = []config.Webhook{{URL: receiver.URL, Events: []string{"locked.saved"}}}

	_, _, err := srv.Engine.SaveLocked(context.Background(), 4, lockedPayload(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := StartWebhooks(ctx, srv.Engine, WebhookOptions{Interval: 10 * time.Millisecond, FromStart: true})
	defer func() {
		cancel()
		<-done
	}()

	select {
	case d := <-got:
		assert.Equal(t, "locked.saved", d.event)
		assert.Equal(t, "alice", d.body["actor_id"])
		assert.Equal(t, "locked_calendar", d.body["entity_kind"])
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestWebhooksDisabledClosesImmediately(t *testing.T) {
	srv := newTestServer(t, newGate(), AuthConfig{})
	done := StartWebhooks(context.Background(), srv.Engine, WebhookOptions{})
	select {
	case <-done:
	default:
		t.Fatal("dispatcher should not start without webhooks")
	}
}
