package engine

import (
	"context"
	"time"

	"cockpit/internal/domain"
	"cockpit/internal/events"
	"cockpit/internal/repo"
	"cockpit/internal/status"
)

// recordStart stores the run and its start event. History is best effort:
// failures are logged and never fail the run.
func (e *Engine) recordStart(ctx context.Context, run *Run, req RunRequest) {
	if e.DB == nil {
		return
	}
	// The request may end before the insert completes.
	ctx = context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Logger.Error("record run start", "run_id", run.ID, "err", err)
		return
	}
	defer tx.Rollback()
	row := domain.Run{
		ID:        run.ID,
		Notebook:  run.Notebook,
		Mode:      run.Mode,
		Week:      run.Week,
		State:     domain.RunRunning,
		RequestID: req.RequestID,
		ActorID:   req.ActorID,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if err := e.Repo.InsertRun(ctx, tx, row); err != nil {
		e.Logger.Error("record run start", "run_id", run.ID, "err", err)
		return
	}
	payload := events.EventPayload{"notebook": run.Notebook, "mode": string(run.Mode), "week": run.Week}
	if err := e.Events.Append(ctx, tx, domain.EventRunStarted, "run", run.ID, req.ActorID, payload); err != nil {
		e.Logger.Error("record run start", "run_id", run.ID, "err", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.Logger.Error("record run start", "run_id", run.ID, "err", err)
	}
}

func (e *Engine) recordFinish(run *Run, state status.State, message string) {
	if e.DB == nil {
		return
	}
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Logger.Error("record run finish", "run_id", run.ID, "err", err)
		return
	}
	defer tx.Rollback()
	runState, evt := domain.RunCompleted, domain.EventRunCompleted
	if state == status.StateError {
		runState, evt = domain.RunError, domain.EventRunFailed
	}
	finished := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.FinishRun(ctx, tx, run.ID, runState, message, finished); err != nil {
		e.Logger.Error("record run finish", "run_id", run.ID, "err", err)
		return
	}
	payload := events.EventPayload{"notebook": run.Notebook, "mode": string(run.Mode), "week": run.Week, "message": message}
	if err := e.Events.Append(ctx, tx, evt, "run", run.ID, "", payload); err != nil {
		e.Logger.Error("record run finish", "run_id", run.ID, "err", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.Logger.Error("record run finish", "run_id", run.ID, "err", err)
	}
}

func (e *Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.DB == nil {
		return
	}
	if err := e.Events.Append(context.WithoutCancel(ctx), nil, evtType, entityKind, entityID, actorID, payload); err != nil {
		e.Logger.Error("append event", "type", evtType, "err", err)
	}
}

// ListRuns returns recorded runs, most recent first.
func (e *Engine) ListRuns(ctx context.Context, f repo.RunFilters) ([]domain.Run, error) {
	if e.DB == nil {
		return []domain.Run{}, nil
	}
	return e.Repo.ListRuns(ctx, f)
}

// GetRun returns one recorded run or repo.ErrNotFound.
func (e *Engine) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if e.DB == nil {
		return domain.Run{}, repo.ErrNotFound
	}
	return e.Repo.GetRun(ctx, id)
}
