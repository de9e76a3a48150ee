// Package push fans server-initiated job progress samples out to every
// listener attached to the same job id.
package push

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
)

const defaultBuffer = 8

// Hub is a many-listener progress channel keyed by job id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch   chan model.ProgressSample
	once sync.Once
}

// NewHub creates an empty hub. Each listener gets a channel with the given
// buffer; a non-positive buffer uses the default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe attaches a listener for jobID. The returned cancel func detaches
// the listener and closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan model.ProgressSample, func()) {
	sub := &subscription{ch: make(chan model.ProgressSample, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[jobID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers a sample to every listener of jobID and returns how many
// listeners received it. Publish never blocks: when a listener's buffer is
// full its oldest pending sample is folded into the new one.
func (h *Hub) Publish(jobID string, sample model.ProgressSample) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[jobID]
	for sub := range set {
		deliver(sub.ch, sample)
	}
	if len(set) == 0 {
		zap.L().Debug("push: no listeners for job", zap.String("job_id", jobID))
	}
	return len(set)
}

func deliver(ch chan model.ProgressSample, sample model.ProgressSample) {
	for {
		select {
		case ch <- sample:
			return
		default:
		}
		select {
		case old := <-ch:
			sample = sample.Max(old)
		default:
		}
	}
}

// Listeners returns the number of listeners attached to jobID.
func (h *Hub) Listeners(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
