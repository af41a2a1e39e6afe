package domain

type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunError     RunState = "error"
)

type Mode string

const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
	ModeOffer   Mode = "offer"
)

type Run struct {
	ID         string   `json:"id"`
	Notebook   string   `json:"notebook"`
	Mode       Mode     `json:"mode" enum:"full,partial,offer"`
	Week       int      `json:"week"`
	State      RunState `json:"state" enum:"running,completed,error"`
	Message    string   `json:"message,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
	ActorID    string   `json:"actor_id,omitempty"`
	StartedAt  string   `json:"started_at" format:"date-time"`
	FinishedAt *string  `json:"finished_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Event types.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventLockedSaved  = "locked.saved"
)
