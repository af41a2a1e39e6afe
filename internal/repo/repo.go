package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cockpit/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,notebook,mode,week,state,COALESCE(message,''),COALESCE(request_id,''),COALESCE(actor_id,''),started_at,finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	var finished sql.NullString
	err := row.Scan(&r.ID, &r.Notebook, &r.Mode, &r.Week, &r.State, &r.Message, &r.RequestID, &r.ActorID, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if finished.Valid {
		r.FinishedAt = &finished.String
	}
	return r, err
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,notebook,mode,week,state,message,request_id,actor_id,started_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Notebook, string(run.Mode), run.Week, string(run.State), nullable(run.Message), nullable(run.RequestID), nullable(run.ActorID), run.StartedAt)
	return err
}

// FinishRun stores the terminal state of a run.
func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, id string, state domain.RunState, message, finishedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET state=?, message=?, finished_at=? WHERE id=?`, string(state), nullable(message), finishedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// RunFilters narrows ListRuns.
type RunFilters struct {
	State    string
	Notebook string
	Limit    int
}

// ListRuns returns runs, most recent first.
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.Notebook != "" {
		clauses = append(clauses, "notebook=?")
		args = append(args, f.Notebook)
	}
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, id DESC LIMIT ?`, runColumns, strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// MarkInterrupted closes runs left running by a previous process.
func (r Repo) MarkInterrupted(ctx context.Context, finishedAt string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET state=?, message=?, finished_at=? WHERE state=?`,
		string(domain.RunError), "interrupted by restart", finishedAt, string(domain.RunRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event id, 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
