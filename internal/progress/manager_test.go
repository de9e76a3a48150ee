package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/push"
)

const (
	fastInterval = 5 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 2 * time.Millisecond
)

// countingFetcher returns samples from fn and counts calls.
type countingFetcher struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxIn    atomic.Int32
	fn       func(n int32) (model.ProgressSample, error)
}

func (f *countingFetcher) Status(ctx context.Context, jobID string) (model.ProgressSample, error) {
	n := f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxIn.Load()
		if cur <= old || f.maxIn.CompareAndSwap(old, cur) {
			break
		}
	}
	return f.fn(n)
}

func constant(s model.ProgressSample) *countingFetcher {
	return &countingFetcher{fn: func(int32) (model.ProgressSample, error) { return s, nil }}
}

func TestManager_ScenarioC_StalePollDoesNotRegress(t *testing.T) {
	t.Parallel()

	hub := push.NewHub(4)
	f := constant(sample(300, 1000))
	m := NewManager(f, WithInterval(fastInterval), WithPush(hub))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-c", sample(0, 0))
	defer tr.Close()

	require.Eventually(t, func() bool { return hub.Listeners("job-c") == 1 }, waitFor, tick)
	hub.Publish("job-c", sample(500, 1000))

	require.Eventually(t, func() bool { return tr.Progress() == sample(500, 1000) }, waitFor, tick)
	calls := f.calls.Load()
	require.Eventually(t, func() bool { return f.calls.Load() > calls+1 }, waitFor, tick)

	assert.Equal(t, sample(500, 1000), tr.Progress())
	assert.Equal(t, StatePolling, tr.State())
}

func TestManager_StopsPollingAtCompletion(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{fn: func(n int32) (model.ProgressSample, error) {
		return sample(int64(n)*250, 1000), nil
	}}
	m := NewManager(f, WithInterval(fastInterval))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-1", sample(0, 1000))
	waitStopped(t, tr)

	assert.Equal(t, StateStopped, tr.State())
	assert.Equal(t, sample(1000, 1000), tr.Progress())
	require.Eventually(t, func() bool { return m.ActiveLoops() == 0 }, waitFor, tick)

	calls := f.calls.Load()
	time.Sleep(10 * fastInterval)
	assert.Equal(t, calls, f.calls.Load(), "no fetch after completion")
	assert.Equal(t, int32(4), calls)
}

func TestManager_PushTerminalShortCircuits(t *testing.T) {
	t.Parallel()

	hub := push.NewHub(4)
	f := constant(sample(0, 0))
	m := NewManager(f, WithInterval(time.Hour), WithPush(hub))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-p", sample(0, 0))
	hub.Publish("job-p", sample(42, 42))

	waitStopped(t, tr)
	assert.Equal(t, sample(42, 42), tr.Progress())
	require.Eventually(t, func() bool {
		return hub.Listeners("job-p") == 0 && !m.Polling("job-p")
	}, waitFor, tick)
	assert.Zero(t, f.calls.Load())
}

func TestManager_FailedFetchKeepsPolling(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{fn: func(n int32) (model.ProgressSample, error) {
		if n <= 3 {
			return model.ProgressSample{}, errors.New("gateway unavailable")
		}
		return sample(5, 10), nil
	}}
	m := NewManager(f, WithInterval(fastInterval))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-f", sample(1, 10))
	defer tr.Close()

	require.Eventually(t, func() bool { return tr.Progress() == sample(5, 10) }, waitFor, tick)
	assert.Equal(t, StatePolling, tr.State())
	assert.GreaterOrEqual(t, f.calls.Load(), int32(4))
}

func TestManager_IndeterminateIsNotComplete(t *testing.T) {
	t.Parallel()

	f := constant(sample(0, 0))
	m := NewManager(f, WithInterval(fastInterval))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-z", sample(0, 0))
	defer tr.Close()

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, waitFor, tick)
	assert.Equal(t, StatePolling, tr.State())
	assert.True(t, tr.Progress().Indeterminate())
	assert.Zero(t, tr.Progress().Percent())
}

func TestManager_AlreadyCompleteNeverPolls(t *testing.T) {
	t.Parallel()

	hub := push.NewHub(1)
	f := constant(sample(0, 0))
	m := NewManager(f, WithInterval(fastInterval), WithPush(hub))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-done", sample(10, 10))
	assert.Equal(t, StateStopped, tr.State())
	assert.Zero(t, m.ActiveLoops())
	assert.Zero(t, hub.Listeners("job-done"))

	first, ok := <-tr.Updates()
	require.True(t, ok)
	assert.Equal(t, model.ChannelInitial, first.Source)
	_, ok = <-tr.Updates()
	assert.False(t, ok)

	time.Sleep(5 * fastInterval)
	assert.Zero(t, f.calls.Load())
}

func TestManager_OneLoopPerJob(t *testing.T) {
	t.Parallel()

	hub := push.NewHub(4)
	f := &countingFetcher{fn: func(int32) (model.ProgressSample, error) {
		time.Sleep(time.Millisecond)
		return sample(1, 100), nil
	}}
	m := NewManager(f, WithInterval(fastInterval), WithPush(hub))
	defer m.Close()

	list := m.Attach(context.Background(), "job-d", sample(0, 100))
	detail := m.Attach(context.Background(), "job-d", sample(0, 100))
	other := m.Attach(context.Background(), "job-e", sample(0, 100))

	assert.Equal(t, 2, m.ActiveLoops())
	assert.Equal(t, 2, hub.Listeners("job-d"))

	require.Eventually(t, func() bool {
		return list.Progress() == sample(1, 100) && detail.Progress() == sample(1, 100)
	}, waitFor, tick)

	list.Close()
	assert.True(t, m.Polling("job-d"), "detail still attached")
	detail.Close()
	assert.False(t, m.Polling("job-d"))
	assert.Zero(t, hub.Listeners("job-d"))

	other.Close()
	assert.Zero(t, m.ActiveLoops())
}

func TestManager_DedupSharesFetches(t *testing.T) {
	t.Parallel()

	f := constant(sample(0, 100))
	var wrongJob atomic.Bool
	fetch := FetchFunc(func(ctx context.Context, jobID string) (model.ProgressSample, error) {
		if jobID != "job-shared" {
			wrongJob.Store(true)
		}
		return f.Status(ctx, jobID)
	})
	m := NewManager(fetch, WithInterval(fastInterval))
	defer m.Close()

	for i := 0; i < 5; i++ {
		tr := m.Attach(context.Background(), "job-shared", sample(0, 100))
		defer tr.Close()
	}

	require.Eventually(t, func() bool { return f.calls.Load() >= 5 }, waitFor, tick)
	assert.Equal(t, 1, m.ActiveLoops())
	assert.Equal(t, int32(1), f.maxIn.Load(), "fetches never overlap")
	assert.False(t, wrongJob.Load())
}

func TestManager_ContextCancelClosesTracker(t *testing.T) {
	t.Parallel()

	hub := push.NewHub(1)
	m := NewManager(constant(sample(0, 10)), WithInterval(fastInterval), WithPush(hub))
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := m.Attach(ctx, "job-x", sample(1, 10))
	cancel()

	select {
	case <-tr.Done():
	case <-time.After(waitFor):
		t.Fatal("tracker not stopped after cancel")
	}
	require.Eventually(t, func() bool { return m.ActiveLoops() == 0 }, waitFor, tick)
	assert.Zero(t, hub.Listeners("job-x"))
	assert.Equal(t, sample(1, 10), tr.Progress())
}

func TestManager_UpdatesAreMonotonic(t *testing.T) {
	t.Parallel()

	hub := push.NewHub(2)
	seq := []model.ProgressSample{sample(100, 1000), sample(50, 900), sample(700, 1000), sample(300, 1000), sample(1000, 1000)}
	f := &countingFetcher{fn: func(n int32) (model.ProgressSample, error) {
		i := int(n) - 1
		if i >= len(seq) {
			i = len(seq) - 1
		}
		return seq[i], nil
	}}

	var mu sync.Mutex
	var observed []model.JobProgress
	m := NewManager(f,
		WithInterval(fastInterval),
		WithPush(hub),
		WithObserver(func(p model.JobProgress) {
			mu.Lock()
			observed = append(observed, p)
			mu.Unlock()
		}),
	)
	defer m.Close()

	tr := m.Attach(context.Background(), "job-m", sample(0, 0))
	go hub.Publish("job-m", sample(400, 1000))

	var got []model.JobProgress
	for p := range tr.Updates() {
		got = append(got, p)
	}

	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Processed, got[i-1].Processed)
		assert.GreaterOrEqual(t, got[i].Total, got[i-1].Total)
	}
	assert.Equal(t, sample(1000, 1000), got[len(got)-1].ProgressSample)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	for _, p := range observed {
		assert.Equal(t, "job-m", p.JobID)
	}
}

func TestManager_ObserveSnapshot(t *testing.T) {
	t.Parallel()

	m := NewManager(constant(sample(0, 0)), WithInterval(time.Hour))
	defer m.Close()

	tr := m.Attach(context.Background(), "job-o", sample(10, 100))
	m.Observe("job-o", sample(5, 100))
	assert.Equal(t, sample(10, 100), tr.Progress())

	m.Observe("job-o", sample(100, 100))
	assert.Equal(t, StateStopped, tr.State())
	assert.False(t, m.Polling("job-o"))

	m.Observe("job-o", sample(200, 300))
	assert.Equal(t, sample(100, 100), tr.Progress(), "stopped trackers ignore samples")
}

func TestManager_ObserverOncePerChange(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var observed []model.ProgressSample
	m := NewManager(constant(sample(0, 0)), WithInterval(time.Hour),
		WithObserver(func(p model.JobProgress) {
			mu.Lock()
			observed = append(observed, p.ProgressSample)
			mu.Unlock()
		}),
	)
	defer m.Close()

	a := m.Attach(context.Background(), "job-d", sample(0, 1000))
	b := m.Attach(context.Background(), "job-d", sample(0, 1000))

	m.Observe("job-d", sample(200, 1000))
	m.Observe("job-d", sample(100, 1000))
	m.Observe("job-d", sample(600, 1000))
	m.Observe("job-d", sample(1000, 1000))

	waitStopped(t, a)
	waitStopped(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.ProgressSample{sample(200, 1000), sample(600, 1000), sample(1000, 1000)}, observed)
}

func TestManager_ObserverSerializesRacingTrackers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var observed []model.ProgressSample
	m := NewManager(constant(sample(0, 0)), WithInterval(time.Hour),
		WithObserver(func(p model.JobProgress) {
			mu.Lock()
			observed = append(observed, p.ProgressSample)
			mu.Unlock()
		}),
	)
	defer m.Close()

	trackers := make([]*Tracker, 4)
	for i := range trackers {
		trackers[i] = m.Attach(context.Background(), "job-r", sample(0, 1000))
	}

	var wg sync.WaitGroup
	for _, tr := range trackers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := int64(50); p < 1000; p += 50 {
				tr.observe(sample(p, 1000), model.ChannelPoll)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	for i := 1; i < len(observed); i++ {
		assert.Greater(t, observed[i].Processed, observed[i-1].Processed)
	}
	assert.Equal(t, sample(950, 1000), observed[len(observed)-1])
}

func waitStopped(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(waitFor):
		t.Fatalf("tracker %s did not stop", tr.JobID())
	}
}
