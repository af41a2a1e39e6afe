package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"cockpit/internal/calendar"
	"cockpit/internal/engine"
	"cockpit/internal/repo"
	"cockpit/internal/status"
	"cockpit/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine       *engine.Engine
	Auth         AuthConfig
	CORSOrigins  []string
	MaxBodyBytes int64
	Logger       *slog.Logger
	// LogFormat selects json or text access logs.
	LogFormat string
}

const (
	cacheControlNoStore = "no-store, no-cache, must-revalidate, max-age=0"
	pragmaNoCache       = "no-cache"
	runInProgressMsg    = "A run is already in progress."
)

// apiError is the JSON error envelope: {ok:false, error, details?}.
type apiError struct {
	status  int
	OK      bool     `json:"ok"`
	Message string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string, details []string) huma.StatusError {
	return &apiError{status: status, Message: message, Details: details}
}

// New returns an HTTP handler exposing the cockpit API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the cockpit envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg, errorDetails(errs))
	}

	requestLogger := httplog.NewLogger("cockpit", httplog.Options{
		LogLevel:         slog.LevelInfo,
		JSON:             cfg.LogFormat == "json",
		Concise:          true,
		MessageFieldName: "msg",
		QuietDownRoutes:  []string{"/status"},
		QuietDownPeriod:  30 * time.Second,
	})

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(httplog.RequestLogger(requestLogger))
	router.Use(recoverJSON(logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "Accept"},
			MaxAge:         300,
		}))
	}
	router.Use(newAuthMiddleware(cfg.Auth))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not found", nil))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusMethodNotAllowed, "method not allowed", nil))
	})

	hcfg := huma.DefaultConfig("Cockpit API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // served below
	hcfg.SchemasPath = ""
	// No $schema links in response bodies.
	hcfg.CreateHooks = nil
	hcfg.Transformers = nil
	api := humachi.New(router, hcfg)

	maxBody := cfg.MaxBodyBytes
	e := cfg.Engine
	registerDocs(router)
	registerHealth(api, e)
	registerRoutes(router)
	registerStatus(api, e)
	registerRuns(router, api, e, maxBody)
	registerCalendar(router, api, e, maxBody)
	registerSnapshots(router, api, e, maxBody)
	registerLeads(api, e)
	registerCampaigns(api, e)
	registerHistory(api, e)
	registerOpenAPI(router, api, cfg.Auth.enabled())

	return router, nil
}

func errorDetails(errs []error) []string {
	var out []string
	for _, err := range errs {
		if err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

// handleError maps engine errors to HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrRunInProgress) {
		return newAPIError(http.StatusConflict, runInProgressMsg, nil)
	}
	var perr *engine.PersistError
	if errors.As(err, &perr) {
		return newAPIError(http.StatusInternalServerError, "Failed to write transient UI state: "+perr.Err.Error(), nil)
	}
	var verr *calendar.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "Validation failed", verr.Details())
	}
	if errors.Is(err, engine.ErrLockedCalendarRequired) {
		return newAPIError(http.StatusBadRequest, err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, err.Error(), nil)
}

func recoverJSON(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal server error", nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// decodeBody parses a JSON request body. An empty body decodes to nil.
func decodeBody(raw []byte) (any, huma.StatusError) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, newAPIError(http.StatusBadRequest, "Invalid JSON: "+err.Error(), nil)
	}
	return v, nil
}

// orNil turns JSON falsy values into nil so defaults apply.
func orNil(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if !t {
			return nil
		}
	case float64:
		if t == 0 {
			return nil
		}
	case string:
		if t == "" {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
	}
	return v
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API, authEnabled bool) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if authEnabled {
				applyAuthSecurity(oas)
			}
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	errSchema := &huma.Schema{
		Type: "object",
		Properties: map[string]*huma.Schema{
			"ok":      {Type: "boolean"},
			"error":   {Type: "string"},
			"details": {Type: "array", Items: &huma.Schema{Type: "string"}},
		},
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Put, item.Post, item.Delete, item.Patch} {
			if op != nil {
				op.Security = security
			}
		}
	}
}

func swaggerHTML() string {
	return `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Cockpit API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '/openapi.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse
	}, error) {
		return &struct {
			Body HealthResponse
		}{Body: HealthResponse{OK: true, MissingPaths: e.Health(), RunInFlight: e.InFlight()}}, nil
	})
}

func registerRoutes(r chi.Router) {
	r.Get("/routes.json", func(w http.ResponseWriter, req *http.Request) {
		byRule := map[string]map[string]struct{}{}
		_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if method == http.MethodHead || method == http.MethodOptions {
				return nil
			}
			if byRule[route] == nil {
				byRule[route] = map[string]struct{}{}
			}
			byRule[route][method] = struct{}{}
			return nil
		})
		items := make([]RouteInfo, 0, len(byRule))
		for rule, methods := range byRule {
			info := RouteInfo{Rule: rule}
			for m := range methods {
				info.Methods = append(info.Methods, m)
			}
			sort.Strings(info.Methods)
			items = append(items, info)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Rule < items[j].Rule })
		writeJSON(w, http.StatusOK, items)
	})
}

type statusOutput struct {
	CacheControl string `header:"Cache-Control"`
	Pragma       string `header:"Pragma"`
	Body         status.View
}

func registerStatus(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Current run status",
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		return &statusOutput{
			CacheControl: cacheControlNoStore,
			Pragma:       pragmaNoCache,
			Body:         e.StatusView(),
		}, nil
	})
}

// jsonHandler serves a POST whose body it parses itself. raw is empty
// when the request has no body.
type jsonHandler func(r *http.Request, raw []byte) (any, huma.StatusError)

// postJSON registers a POST route on the router and documents it on api.
// The body is not validated by huma so malformed JSON can be reported as
// "Invalid JSON: ..." and an absent body reaches the handler.
func postJSON(r chi.Router, api huma.API, op huma.Operation, maxBody int64, out any, h jsonHandler) {
	oas := api.OpenAPI()
	op.Method = http.MethodPost
	op.RequestBody = &huma.RequestBody{
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Type: "object"}},
		},
	}
	op.Responses = map[string]*huma.Response{
		"200": {
			Description: "OK",
			Content: map[string]*huma.MediaType{
				"application/json": {Schema: oas.Components.Schemas.Schema(reflect.TypeOf(out), true, "")},
			},
		},
	}
	oas.AddOperation(&op)

	r.Post(op.Path, func(w http.ResponseWriter, req *http.Request) {
		body := req.Body
		if maxBody > 0 {
			body = http.MaxBytesReader(w, req.Body, maxBody)
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "request body too large", nil))
				return
			}
			respondStatusError(w, newAPIError(http.StatusBadRequest, "read body: "+err.Error(), nil))
			return
		}
		resp, herr := h(req, raw)
		if herr != nil {
			respondStatusError(w, herr)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func registerRuns(r chi.Router, api huma.API, e *engine.Engine, maxBody int64) {
	postJSON(r, api, huma.Operation{
		OperationID: "run-full-engine",
		Path:        "/run_full_engine",
		Summary:     "Start the full engine notebook",
		Description: "The request body is ignored.",
	}, maxBody, RunFullEngineResponse{}, func(req *http.Request, _ []byte) (any, huma.StatusError) {
		ctx := req.Context()
		rid := middleware.GetReqID(ctx)
		run, err := e.Start(ctx, engine.RunRequest{
			Mode:          "full",
			Notebook:      e.Notebooks.Full,
			SkipSnapshots: true,
			RequestID:     rid,
			ActorID:       actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return RunFullEngineResponse{Message: "✅ Full AVU Engine started.", RID: rid, RunID: run.ID}, nil
	})

	postJSON(r, api, huma.Operation{
		OperationID: "run-notebook",
		Path:        "/run_notebook",
		Summary:     "Start a notebook run",
		Description: "Body: " + "`{mode, notebook?, week_number?, ui_selection?, selected_wine?, locked_calendar?, filters?}`.",
	}, maxBody, RunNotebookResponse{}, func(req *http.Request, raw []byte) (any, huma.StatusError) {
		if e.InFlight() {
			return nil, handleError(engine.ErrRunInProgress)
		}
		var body RunNotebookRequest
		if len(strings.TrimSpace(string(raw))) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "Invalid JSON: "+err.Error(), nil)
			}
		}
		ctx := req.Context()
		rid := middleware.GetReqID(ctx)
		run, err := e.Start(ctx, engine.RunRequest{
			Mode:     body.Mode,
			Notebook: body.Notebook,
			Week:     orNil(body.WeekNumber),
			Snapshot: store.Snapshot{
				Filters:        orNil(body.Filters),
				LockedCalendar: orNil(body.LockedCalendar),
				UISelection:    body.UISelection,
				SelectedWine:   body.SelectedWine,
			},
			RequestID: rid,
			ActorID:   actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return RunNotebookResponse{OK: true, Notebook: run.Notebook, RID: rid, RunID: run.ID}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "engine-ready",
		Method:      http.MethodGet,
		Path:        "/engine_ready",
		Summary:     "204 when the last full run completed, 409 otherwise",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Status int
	}, error) {
		code := http.StatusConflict
		if e.EngineReady() {
			code = http.StatusNoContent
		}
		return &struct {
			Status int
		}{Status: code}, nil
	})
}

type scheduleOutput struct {
	CacheControl string `header:"Cache-Control"`
	Pragma       string `header:"Pragma"`
	Body         ScheduleResponse
}

type lockedOutput struct {
	CacheControl string `header:"Cache-Control"`
	Pragma       string `header:"Pragma"`
	Body         LockedResponse
}

// weekParam returns nil for an absent week so the current week applies.
func weekParam(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}

func registerCalendar(r chi.Router, api huma.API, e *engine.Engine, maxBody int64) {
	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/api/schedule",
		Summary:     "Card-shaped weekly schedule",
	}, func(ctx context.Context, input *struct {
		Week string `query:"week" doc:"ISO week; absent or invalid reads the canonical schedule"`
	}) (*scheduleOutput, error) {
		week := 0
		if n, err := strconv.Atoi(strings.TrimSpace(input.Week)); err == nil {
			week = e.ClampWeek(n)
		}
		view := e.Schedule(week)
		return &scheduleOutput{
			CacheControl: cacheControlNoStore,
			Pragma:       pragmaNoCache,
			Body: ScheduleResponse{
				WeeklyCalendar:   view.WeeklyCalendar,
				Week:             view.Week,
				ValidationErrors: view.ValidationErrors,
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-locked",
		Method:      http.MethodGet,
		Path:        "/api/locked",
		Summary:     "Locked calendar of a week",
	}, func(ctx context.Context, input *struct {
		Week string `query:"week"`
	}) (*lockedOutput, error) {
		week, data := e.Locked(weekParam(input.Week))
		return &lockedOutput{
			CacheControl: cacheControlNoStore,
			Pragma:       pragmaNoCache,
			Body:         LockedResponse{LockedCalendar: data, Week: week},
		}, nil
	})

	postJSON(r, api, huma.Operation{
		OperationID: "save-locked",
		Path:        "/api/locked",
		Summary:     "Overwrite the locked calendar of a week",
		Description: "Body: `{week, locked_calendar}`.",
	}, maxBody, SaveLockedResponse{}, func(req *http.Request, raw []byte) (any, huma.StatusError) {
		body, herr := decodeBody(raw)
		if herr != nil {
			return nil, herr
		}
		m, _ := body.(map[string]any)
		week, name, err := e.SaveLocked(req.Context(), m["week"], m["locked_calendar"], actorID(req.Context()))
		if err != nil {
			return nil, handleError(err)
		}
		return SaveLockedResponse{OK: true, Saved: name, Week: week}, nil
	})

	postJSON(r, api, huma.Operation{
		OperationID: "preview-card",
		Path:        "/api/cards/preview",
		Summary:     "Shape a single slot into a display card",
	}, maxBody, CardPreviewResponse{}, func(_ *http.Request, raw []byte) (any, huma.StatusError) {
		var cell any
		_ = json.Unmarshal(raw, &cell)
		return CardPreviewResponse{Card: calendar.ShapeCard(cell)}, nil
	})
}

type filtersOutput struct {
	CacheControl string `header:"Cache-Control"`
	Pragma       string `header:"Pragma"`
	Body         FiltersResponse
}

func registerSnapshots(r chi.Router, api huma.API, e *engine.Engine, maxBody int64) {
	huma.Register(api, huma.Operation{
		OperationID: "get-filters",
		Method:      http.MethodGet,
		Path:        "/api/filters",
		Summary:     "Saved operator filters",
	}, func(ctx context.Context, _ *struct{}) (*filtersOutput, error) {
		return &filtersOutput{
			CacheControl: cacheControlNoStore,
			Pragma:       pragmaNoCache,
			Body:         FiltersResponse{Filters: e.Snapshots.LoadFilters()},
		}, nil
	})

	postJSON(r, api, huma.Operation{
		OperationID: "save-filters",
		Path:        "/api/filters",
		Summary:     "Save operator filters",
		Description: "Body: `{filters:{...}}` or a bare object.",
	}, maxBody, SaveFiltersResponse{}, func(_ *http.Request, raw []byte) (any, huma.StatusError) {
		body, herr := decodeBody(raw)
		if herr != nil {
			return nil, herr
		}
		filters := body
		if m, ok := body.(map[string]any); ok {
			if inner, found := m["filters"]; found {
				filters = inner
			}
		}
		if err := e.Snapshots.SaveFilters(filters); err != nil {
			e.Logger.Error("save filters", "err", err)
			return nil, handleError(err)
		}
		return SaveFiltersResponse{OK: true, Saved: true}, nil
	})

	postJSON(r, api, huma.Operation{
		OperationID: "save-selected-wine",
		Path:        "/api/selected_wine",
		Summary:     "Save the wine selected in the UI",
	}, maxBody, OKResponse{}, func(_ *http.Request, raw []byte) (any, huma.StatusError) {
		body, herr := decodeBody(raw)
		if herr != nil {
			return nil, herr
		}
		if err := e.Snapshots.SaveSelectedWine(body); err != nil {
			e.Logger.Error("save selected wine", "err", err)
			return nil, handleError(err)
		}
		return OKResponse{OK: true}, nil
	})
}

func registerLeads(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-leads",
		Method:      http.MethodGet,
		Path:        "/api/leads",
		Summary:     "Leads block of a week",
	}, func(ctx context.Context, input *struct {
		Year string `query:"year"`
		Week string `query:"week"`
	}) (*struct {
		Body LeadsResponse
	}, error) {
		year, _ := strconv.Atoi(strings.TrimSpace(input.Year))
		res := e.LoadLeads(year, weekParam(input.Week))
		return &struct {
			Body LeadsResponse
		}{Body: LeadsResponse{Leads: res.Leads}}, nil
	})
}

func registerCampaigns(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-campaign-index",
		Method:      http.MethodGet,
		Path:        "/api/campaign_index",
		Summary:     "Last campaign date per wine id and name",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Debug string `query:"debug"`
	}) (*struct {
		Body CampaignIndexResponse
	}, error) {
		idx, meta, err := e.CampaignIndex(false)
		if err != nil {
			return nil, handleError(err)
		}
		resp := CampaignIndexResponse{ByID: idx.ByID, ByName: idx.ByName}
		if input.Debug == "1" || strings.EqualFold(input.Debug, "true") {
			resp.Meta = &meta
		}
		return &struct {
			Body CampaignIndexResponse
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-campaign-index",
		Method:      http.MethodPost,
		Path:        "/api/campaign_index/refresh",
		Summary:     "Rebuild the campaign index",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CampaignRefreshResponse
	}, error) {
		idx, meta, err := e.CampaignIndex(true)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CampaignRefreshResponse
		}{Body: CampaignRefreshResponse{OK: true, IDs: len(idx.ByID), Names: len(idx.ByName), RowCount: meta.RowCount}}, nil
	})
}

func registerHistory(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "Run history, most recent first",
	}, func(ctx context.Context, input *struct {
		State    string `query:"state" doc:"running, completed or error"`
		Notebook string `query:"notebook"`
		Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body RunListResponse
	}, error) {
		runs, err := e.ListRuns(ctx, repo.RunFilters{State: input.State, Notebook: input.Notebook, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunListResponse
		}{Body: RunListResponse{Items: mapRuns(runs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}",
		Summary:     "One recorded run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RunResponse
	}, error) {
		run, err := e.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse
		}{Body: runResponse(run)}, nil
	})
}
