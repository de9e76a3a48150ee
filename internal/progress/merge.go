// Package progress reconciles job progress delivered over a push channel and
// a polling fallback into one monotonic (processed, total) value per job.
package progress

import "github.com/sells-group/audience-cli/internal/model"

// State is the polling lifecycle of a tracker.
type State int

const (
	// StateIdle means no observation has been made yet.
	StateIdle State = iota
	// StatePolling means the job is not known to be complete.
	StatePolling
	// StateStopped is terminal: the job completed or the tracker was closed.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Merge folds next into cur, keeping the larger processed and the larger
// total independently. It is commutative, associative and idempotent, so
// samples may arrive in any order or more than once.
func Merge(cur, next model.ProgressSample) model.ProgressSample {
	return cur.Max(next)
}
