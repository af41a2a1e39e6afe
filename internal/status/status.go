package status

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cast"

	"cockpit/internal/store"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == "ok"
}

// Record is the persisted status document. Unknown fields written by
// other tools are preserved across updates.
type Record map[string]any

func (r Record) Text(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

func (r Record) State() State {
	return State(r.Text("state"))
}

func (r Record) RunID() string {
	return r.Text("run_id")
}

// Patch lists the fields an update sets. Nil fields keep their value.
type Patch struct {
	Notebook  *string
	Mode      *string
	State     *State
	Progress  *int
	Message   *string
	Done      *bool
	Week      *int
	RunID     *string
	StartedAt *time.Time
}

func (p Patch) apply(r Record) {
	if p.Notebook != nil {
		r["notebook"] = *p.Notebook
	}
	if p.Mode != nil {
		r["mode"] = *p.Mode
	}
	if p.State != nil {
		r["state"] = string(*p.State)
	}
	if p.Progress != nil {
		r["progress"] = *p.Progress
	}
	if p.Message != nil {
		r["message"] = *p.Message
	}
	if p.Done != nil {
		r["done"] = *p.Done
	}
	if p.Week != nil {
		r["week_number"] = *p.Week
	}
	if p.RunID != nil {
		r["run_id"] = *p.RunID
	}
	if p.StartedAt != nil {
		r["started_at"] = p.StartedAt.UTC().Format(time.RFC3339Nano)
	}
}

// Store is the single status record, persisted as a JSON file. Updates
// are serialized by a mutex and written atomically.
type Store struct {
	Path string
	Now  func() time.Time

	mu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{Path: path, Now: time.Now}
}

// Get returns the current record, or an empty one when the file is
// missing or unreadable.
func (s *Store) Get() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update merges p into the record, stamps updated_at and persists it.
func (s *Store) Update(p Patch) (Record, error) {
	_, rec, err := s.UpdateIf(nil, p)
	return rec, err
}

// UpdateIf applies p only when pred accepts the current record. A nil
// pred always applies.
func (s *Store) UpdateIf(pred func(Record) bool, p Patch) (bool, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.read()
	if pred != nil && !pred(rec) {
		return false, rec, nil
	}
	p.apply(rec)
	rec["updated_at"] = s.now().UTC().Format(time.RFC3339Nano)
	if err := store.WriteJSON(s.Path, rec); err != nil {
		return false, rec, fmt.Errorf("write status: %w", err)
	}
	return true, rec, nil
}

func (s *Store) read() Record {
	data, err := os.ReadFile(s.Path)
	if err != nil || len(data) == 0 {
		return Record{}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
		return Record{}
	}
	return rec
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// View is the status payload served to pollers.
type View struct {
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

const waitingMessage = "Waiting…"

// View projects the record for display. Missing fields get defaults and
// progress is coerced to an integer.
func (r Record) View(now time.Time) View {
	v := View{
		Notebook:  r.Text("notebook"),
		State:     r.Text("state"),
		Progress:  coerceProgress(r["progress"]),
		Message:   r.Text("message"),
		UpdatedAt: r.Text("updated_at"),
		RunID:     r.RunID(),
		StartedAt: r.Text("started_at"),
	}
	if v.State == "" {
		v.State = r.Text("status")
	}
	if v.State == "" {
		v.State = string(StateIdle)
	}
	if v.Message == "" {
		v.Message = waitingMessage
	}
	if v.UpdatedAt == "" {
		v.UpdatedAt = now.UTC().Format(time.RFC3339Nano)
	}
	done, _ := r["done"].(bool)
	v.Done = done || State(r.Text("state")).Terminal()
	if v.StartedAt != "" && r.Text("updated_at") != "" {
		start, err1 := time.Parse(time.RFC3339Nano, v.StartedAt)
		end, err2 := time.Parse(time.RFC3339Nano, v.UpdatedAt)
		if err1 == nil && err2 == nil {
			d := end.Sub(start).Seconds()
			v.DurationSec = &d
		}
	}
	return v
}

func coerceProgress(v any) int {
	switch v.(type) {
	case nil, map[string]any, []any:
		return 0
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0
	}
	return int(f)
}
