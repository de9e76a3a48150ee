package progress

import (
	"sync"

	"github.com/sells-group/audience-cli/internal/model"
)

// Tracker holds the merged progress of one job for one display surface.
// Trackers for the same job share a single poll loop owned by the Manager.
type Tracker struct {
	jobID string
	mgr   *Manager

	mu      sync.Mutex
	merged  model.ProgressSample
	state   State
	updates chan model.JobProgress
	stopped chan struct{}

	cancelPush func()
	detachOnce sync.Once
}

func newTracker(jobID string, mgr *Manager) *Tracker {
	return &Tracker{
		jobID:   jobID,
		mgr:     mgr,
		state:   StateIdle,
		updates: make(chan model.JobProgress, 1),
		stopped: make(chan struct{}),
	}
}

// JobID returns the tracked job id.
func (t *Tracker) JobID() string {
	return t.jobID
}

// Progress returns the current merged sample.
func (t *Tracker) Progress() model.ProgressSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.merged
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Updates delivers the merged progress every time it grows. Pending values
// are coalesced, so a slow reader only sees the latest. The channel is closed
// once the tracker stops.
func (t *Tracker) Updates() <-chan model.JobProgress {
	return t.updates
}

// Done is closed when the tracker reaches StateStopped.
func (t *Tracker) Done() <-chan struct{} {
	return t.stopped
}

// Close stops the tracker, unsubscribes it from the push channel and
// releases its share of the poll loop. Safe to call more than once.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
	t.detach()
}

// start records the initial snapshot and moves the tracker out of Idle.
// It reports whether the tracker needs live updates.
func (t *Tracker) start(initial model.ProgressSample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.merged = initial
	t.emitLocked(model.ChannelInitial)
	if initial.Terminal() {
		t.stopLocked()
		return false
	}
	t.state = StatePolling
	return true
}

func (t *Tracker) observe(sample model.ProgressSample, ch model.ProgressChannel) {
	t.mu.Lock()
	if t.state == StateStopped {
		t.mu.Unlock()
		return
	}
	next := Merge(t.merged, sample)
	changed := next != t.merged
	t.merged = next
	if changed {
		t.emitLocked(ch)
	}
	terminal := next.Terminal()
	if terminal {
		t.stopLocked()
	}
	t.mu.Unlock()

	if changed {
		t.mgr.notify(model.JobProgress{JobID: t.jobID, Source: ch, ProgressSample: next})
	}
	if terminal {
		t.detach()
	}
}

// emitLocked publishes the merged value, replacing any unread one.
func (t *Tracker) emitLocked(ch model.ProgressChannel) {
	p := model.JobProgress{JobID: t.jobID, Source: ch, ProgressSample: t.merged}
	select {
	case <-t.updates:
	default:
	}
	t.updates <- p
}

func (t *Tracker) stopLocked() {
	if t.state == StateStopped {
		return
	}
	t.state = StateStopped
	close(t.updates)
	close(t.stopped)
}

func (t *Tracker) detach() {
	t.detachOnce.Do(func() {
		if t.cancelPush != nil {
			t.cancelPush()
		}
		t.mgr.release(t)
	})
}
