package status

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is used when a zero interval is given.
const DefaultHeartbeatInterval = 5 * time.Second

// Heartbeat periodically re-asserts that a run is alive. It only touches
// the record while it still belongs to the run and is running, so a late
// tick never overwrites a terminal state.
type Heartbeat struct {
	store    *Store
	interval time.Duration
	runID    string
	notebook string
	message  string
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartHeartbeat beats once immediately and then every interval until
// Stop is called.
func StartHeartbeat(s *Store, interval time.Duration, runID, notebook, message string, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	hb := &Heartbeat{
		store:    s,
		interval: interval,
		runID:    runID,
		notebook: notebook,
		message:  message,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go hb.loop()
	return hb
}

func (hb *Heartbeat) loop() {
	defer close(hb.done)
	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()
	hb.beat()
	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			hb.beat()
		}
	}
}

func (hb *Heartbeat) beat() {
	running := StateRunning
	owned := func(r Record) bool {
		return r.RunID() == hb.runID && r.State() == StateRunning
	}
	if _, _, err := hb.store.UpdateIf(owned, Patch{Notebook: &hb.notebook, State: &running, Message: &hb.message}); err != nil {
		hb.logger.Warn("heartbeat update failed", "run_id", hb.runID, "err", err)
	}
}

// Stop ends the heartbeat and waits for its goroutine. It is safe to call
// more than once.
func (hb *Heartbeat) Stop() {
	hb.once.Do(func() { close(hb.stop) })
	<-hb.done
}
