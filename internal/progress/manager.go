package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 10 * time.Second

// Fetcher returns the server-side status of a job.
type Fetcher interface {
	Status(ctx context.Context, jobID string) (model.ProgressSample, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, jobID string) (model.ProgressSample, error)

// Status calls f.
func (f FetchFunc) Status(ctx context.Context, jobID string) (model.ProgressSample, error) {
	return f(ctx, jobID)
}

// Subscriber is a push channel keyed by job id.
type Subscriber interface {
	Subscribe(jobID string) (<-chan model.ProgressSample, func())
}

// Observer is called once each time a job's merged progress grows, however
// many trackers follow the job. Calls are serialized and never go backwards.
type Observer func(model.JobProgress)

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithPush attaches a push channel. Without one, trackers rely on polling only.
func WithPush(s Subscriber) Option {
	return func(m *Manager) {
		m.push = s
	}
}

// WithObserver registers a hook for merged progress changes, e.g. to persist them.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

// Manager attaches trackers to jobs and runs at most one poll loop per job id,
// shared by every tracker of that job.
type Manager struct {
	fetcher   Fetcher
	push      Subscriber
	interval  time.Duration
	observers []Observer
	log       *zap.Logger

	mu    sync.Mutex
	loops map[string]*pollLoop

	notifyMu sync.Mutex
	reported map[string]model.ProgressSample
}

type pollLoop struct {
	jobID    string
	cancel   context.CancelFunc
	done     chan struct{}
	trackers map[*Tracker]struct{}
}

// NewManager creates a Manager polling through fetcher.
func NewManager(fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		fetcher:  fetcher,
		interval: DefaultInterval,
		loops:    make(map[string]*pollLoop),
		reported: make(map[string]model.ProgressSample),
		log:      zap.L().With(zap.String("component", "progress.manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach starts tracking jobID from a best-known initial snapshot. A job
// that is already complete is returned stopped without polling. Otherwise
// the tracker listens on the push channel and joins the job's poll loop,
// starting it if none is running. Cancelling ctx closes the tracker.
func (m *Manager) Attach(ctx context.Context, jobID string, initial model.ProgressSample) *Tracker {
	t := newTracker(jobID, m)
	if !t.start(initial) {
		m.log.Debug("job already complete", zap.String("job_id", jobID))
		return t
	}

	var pushCh <-chan model.ProgressSample
	if m.push != nil {
		pushCh, t.cancelPush = m.push.Subscribe(jobID)
	}
	m.join(t)

	if pushCh != nil {
		go func() {
			for s := range pushCh {
				t.observe(s, model.ChannelPush)
			}
		}()
	}
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-t.stopped:
		}
	}()
	return t
}

// Observe feeds an out-of-band snapshot, such as a freshly listed store row,
// to every tracker of jobID. Jobs with no attached trackers are ignored.
func (m *Manager) Observe(jobID string, sample model.ProgressSample) {
	m.mu.Lock()
	l, ok := m.loops[jobID]
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, t := range m.trackersOf(l) {
		t.observe(sample, model.ChannelInitial)
	}
}

// ActiveLoops returns the number of running poll loops.
func (m *Manager) ActiveLoops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// Polling reports whether a poll loop is running for jobID.
func (m *Manager) Polling(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[jobID]
	return ok
}

// Close stops every poll loop and waits for them to exit. Trackers still
// attached stop receiving poll samples.
func (m *Manager) Close() {
	m.mu.Lock()
	loops := make([]*pollLoop, 0, len(m.loops))
	for id, l := range m.loops {
		l.cancel()
		loops = append(loops, l)
		delete(m.loops, id)
	}
	m.mu.Unlock()

	for _, l := range loops {
		<-l.done
	}
}

func (m *Manager) join(t *Tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loops[t.jobID]; ok {
		l.trackers[t] = struct{}{}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &pollLoop{
		jobID:    t.jobID,
		cancel:   cancel,
		done:     make(chan struct{}),
		trackers: map[*Tracker]struct{}{t: {}},
	}
	m.loops[t.jobID] = l
	go m.run(ctx, l)
}

// release removes t from its poll loop and cancels the loop when no
// trackers remain.
func (m *Manager) release(t *Tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loops[t.jobID]
	if !ok {
		return
	}
	delete(l.trackers, t)
	if len(l.trackers) == 0 {
		l.cancel()
		delete(m.loops, t.jobID)
		m.forget(t.jobID)
	}
}

func (m *Manager) trackersOf(l *pollLoop) []*Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tracker, 0, len(l.trackers))
	for t := range l.trackers {
		out = append(out, t)
	}
	return out
}

func (m *Manager) run(ctx context.Context, l *pollLoop) {
	defer close(l.done)

	log := m.log.With(zap.String("job_id", l.jobID))
	log.Debug("poll loop started", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("poll loop stopped")
			return
		case <-ticker.C:
		}
		// A tick and a cancellation can be ready together.
		if ctx.Err() != nil {
			log.Debug("poll loop stopped")
			return
		}

		sample, err := m.fetcher.Status(ctx, l.jobID)
		if ctx.Err() != nil {
			log.Debug("poll loop stopped, discarding in-flight fetch")
			return
		}
		if err != nil {
			log.Debug("status fetch failed, retrying next tick", zap.Error(err))
			continue
		}
		for _, t := range m.trackersOf(l) {
			t.observe(sample, model.ChannelPoll)
		}
	}
}

// notify reports p to the observers when it grows the job's last reported
// value. Trackers of one job race to get here, so the merge happens again
// under notifyMu.
func (m *Manager) notify(p model.JobProgress) {
	if len(m.observers) == 0 {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	last, seen := m.reported[p.JobID]
	next := Merge(last, p.ProgressSample)
	if seen && next == last {
		return
	}
	m.reported[p.JobID] = next
	p.ProgressSample = next
	for _, o := range m.observers {
		o(p)
	}
}

func (m *Manager) forget(jobID string) {
	m.notifyMu.Lock()
	delete(m.reported, jobID)
	m.notifyMu.Unlock()
}
