package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cockpit/internal/calendar"
	"cockpit/internal/config"
	"cockpit/internal/domain"
	"cockpit/internal/events"
	"cockpit/internal/pipeline"
	"cockpit/internal/repo"
	"cockpit/internal/status"
	"cockpit/internal/store"
)

// ErrRunInProgress is returned when a run is requested while another one
// holds the run lock.
var ErrRunInProgress = errors.New("a run is already in progress")

// PersistError reports that the UI snapshots could not be written before
// a run. No run was started.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "failed to write transient UI state: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error { return e.Err }

// RunLock admits at most one run per process.
type RunLock struct {
	mu       sync.Mutex
	inflight bool
}

// TryStart takes the lock if it is free.
func (l *RunLock) TryStart() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight {
		return false
	}
	l.inflight = true
	return true
}

func (l *RunLock) End() {
	l.mu.Lock()
	l.inflight = false
	l.mu.Unlock()
}

func (l *RunLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight
}

// Notebooks maps run modes to notebook file names.
type Notebooks struct {
	Full    string
	Partial string
	Offer   string
}

// Resolve picks the notebook for a request. An explicit notebook wins; an
// unknown mode means full.
func (n Notebooks) Resolve(mode, explicit string) (string, domain.Mode) {
	m := domain.Mode(strings.ToLower(strings.TrimSpace(mode)))
	switch m {
	case domain.ModePartial, domain.ModeOffer:
	default:
		m = domain.ModeFull
	}
	if nb := strings.TrimSpace(explicit); nb != "" {
		nb = filepath.Base(nb)
		if nb == n.Full {
			m = domain.ModeFull
		}
		return nb, m
	}
	switch m {
	case domain.ModePartial:
		return n.Partial, m
	case domain.ModeOffer:
		return n.Offer, m
	}
	return n.Full, m
}

// RunRequest describes a run to start.
type RunRequest struct {
	Mode     string
	Notebook string
	// Week is coerced and clamped to 1..53; nil means the current week.
	Week     any
	Snapshot store.Snapshot
	// SkipSnapshots leaves the snapshot files untouched.
	SkipSnapshots bool
	RequestID     string
	ActorID       string
}

// Run is the handle of a started run.
type Run struct {
	ID        string
	Notebook  string
	Mode      domain.Mode
	Week      int
	StartedAt time.Time

	done chan struct{}
	err  error
}

// Done is closed once the run reached a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the run failure. Only valid after Done is closed.
func (r *Run) Err() error { return r.err }

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Status    *status.Store
	Calendar  *store.Calendar
	Snapshots store.Snapshots
	Leads     store.Leads
	Campaigns *store.Campaigns
	Validator *calendar.Validator
	Executor  pipeline.Executor
	Notebooks Notebooks
	Heartbeat time.Duration
	Logger    *slog.Logger
	Now       func() time.Time

	lock   RunLock
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
}

// New wires an engine from cfg. db may be nil, in which case run history
// is not recorded.
func New(db *sql.DB, cfg *config.Config, exec pipeline.Executor, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = pipeline.Papermill{
			Bin:    cfg.Notebooks.PapermillBin,
			Kernel: cfg.Notebooks.Kernel,
			Dir:    cfg.Paths.NotebooksDir,
			Logger: logger,
		}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Status:    status.NewStore(filepath.Join(cfg.Paths.NotebooksDir, "status.json")),
		Calendar:  store.NewCalendar(cfg.Paths.OutputDir, cfg.Paths.LockedDir, logger),
		Snapshots: store.Snapshots{NotebooksDir: cfg.Paths.NotebooksDir, OutputDir: cfg.Paths.OutputDir},
		Leads:     store.Leads{Dir: cfg.Paths.OutputDir},
		Campaigns: store.NewCampaigns(cfg.Paths.CampaignHistoryCSV, 0),
		Validator: calendar.MustValidator(),
		Executor:  exec,
		Notebooks: Notebooks{Full: cfg.Notebooks.Full, Partial: cfg.Notebooks.Partial, Offer: cfg.Notebooks.Offer},
		Heartbeat: cfg.Runs.HeartbeatInterval,
		Logger:    logger,
		Now:       time.Now,
		base:      base,
		cancel:    cancel,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InFlight reports whether a run holds the lock.
func (e *Engine) InFlight() bool {
	return e.lock.Held()
}

// Start takes the run lock, persists the UI snapshots, marks the status
// running and launches the notebook in the background. It returns without
// waiting for the run.
func (e *Engine) Start(ctx context.Context, req RunRequest) (*Run, error) {
	if !e.lock.TryStart() {
		return nil, ErrRunInProgress
	}
	if !req.SkipSnapshots {
		if err := e.Snapshots.Persist(req.Snapshot); err != nil {
			e.lock.End()
			e.Logger.Error("persist ui snapshots", "err", err)
			return nil, &PersistError{Err: err}
		}
	}

	notebook, mode := e.Notebooks.Resolve(req.Mode, req.Notebook)
	started := e.now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Notebook:  notebook,
		Mode:      mode,
		Week:      calendar.ClampWeek(req.Week, started),
		StartedAt: started,
		done:      make(chan struct{}),
	}
	full := notebook == e.Notebooks.Full

	startMsg := fmt.Sprintf("Notebook started for Week %d…", run.Week)
	beatMsg := "⏳ Processing…"
	if full {
		startMsg = "🚀 Starting full AVU engine…"
		beatMsg = "🔥 Ignition running…"
	}
	running := status.StateRunning
	modeText := string(mode)
	zero, notDone := 0, false
	if _, err := e.Status.Update(status.Patch{
		Notebook:  &notebook,
		Mode:      &modeText,
		State:     &running,
		Progress:  &zero,
		Message:   &startMsg,
		Done:      &notDone,
		Week:      &run.Week,
		RunID:     &run.ID,
		StartedAt: &started,
	}); err != nil {
		e.lock.End()
		e.Logger.Error("write run status", "err", err)
		return nil, &PersistError{Err: err}
	}

	e.recordStart(ctx, run, req)
	e.Logger.Info("run started", "run_id", run.ID, "notebook", notebook, "mode", mode, "week", run.Week)

	job := pipeline.NewJob(e.Config.Paths.NotebooksDir, notebook, map[string]any{
		"input_path":  e.Config.Paths.SourceDir,
		"output_path": e.Config.Paths.OutputDir,
		"week_number": run.Week,
	})
	job.RunID = run.ID

	hb := status.StartHeartbeat(e.Status, e.Heartbeat, run.ID, notebook, beatMsg, e.Logger)
	e.wg.Add(1)
	go e.execute(run, job, hb, full)
	return run, nil
}

func (e *Engine) execute(run *Run, job pipeline.Job, hb *status.Heartbeat, full bool) {
	defer e.wg.Done()
	defer close(run.done)
	defer e.lock.End()
	defer hb.Stop()

	err := e.safeExecute(job)
	if err == nil {
		progress, msg := 95, "Writing schedule…"
		if _, uerr := e.Status.Update(status.Patch{Progress: &progress, Message: &msg}); uerr != nil {
			e.Logger.Warn("write run status", "run_id", run.ID, "err", uerr)
		}
		if full {
			if rerr := e.Calendar.SetEngineReady(); rerr != nil {
				err = rerr
			}
		}
	}
	run.err = err

	var (
		state   status.State
		msg     string
		percent int
	)
	if err == nil {
		state, percent = status.StateCompleted, 100
		msg = fmt.Sprintf("✅ Notebook executed for Week %d.", run.Week)
		if full {
			msg = "✅ AVU engine finished."
		}
		e.Logger.Info("run completed", "run_id", run.ID, "notebook", run.Notebook)
	} else {
		state, percent = status.StateError, 0
		msg = "❌ Error: " + err.Error()
		e.Logger.Error("run failed", "run_id", run.ID, "notebook", run.Notebook, "err", err)
	}
	done := true
	if _, uerr := e.Status.Update(status.Patch{State: &state, Progress: &percent, Message: &msg, Done: &done}); uerr != nil {
		e.Logger.Error("write terminal run status", "run_id", run.ID, "err", uerr)
	}
	e.recordFinish(run, state, msg)
}

func (e *Engine) safeExecute(job pipeline.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Executor.Execute(e.base, job)
}

// Shutdown cancels running notebooks and waits for their goroutines, or
// for ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover closes runs a previous process left in the running state, both
// in history and in the status file.
func (e *Engine) Recover(ctx context.Context) error {
	if e.DB != nil {
		n, err := e.Repo.MarkInterrupted(ctx, e.now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("mark interrupted runs: %w", err)
		}
		if n > 0 {
			e.Logger.Warn("closed interrupted runs", "count", n)
		}
	}
	if e.InFlight() {
		return nil
	}
	state := status.StateError
	msg := "❌ Error: interrupted by restart"
	done := true
	stale := func(r status.Record) bool { return r.State() == status.StateRunning }
	if ok, _, err := e.Status.UpdateIf(stale, status.Patch{State: &state, Message: &msg, Done: &done}); err != nil {
		return err
	} else if ok {
		e.Logger.Warn("reset stale running status")
	}
	return nil
}
