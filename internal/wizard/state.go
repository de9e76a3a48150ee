package wizard

import (
	"strings"

	"github.com/sells-group/audience-cli/internal/features"
	"github.com/sells-group/audience-cli/internal/model"
)

// State is a point-in-time copy of the wizard.
type State struct {
	ID            string               `json:"id"`
	Step          Step                 `json:"step"`
	Source        *model.Source        `json:"source,omitempty"`
	SizeMethodID  string               `json:"size_method_id,omitempty"`
	Calculated    bool                 `json:"calculated"`
	Features      *features.List       `json:"features,omitempty"`
	AudienceName  string               `json:"audience_name"`
	Job           *model.JobDescriptor `json:"job,omitempty"`
	Busy          bool                 `json:"busy"`
	Closed        bool                 `json:"closed"`
	CanAdvance    bool                 `json:"can_advance"`
	BlockedReason string               `json:"blocked_reason,omitempty"`
	UndoAvailable bool                 `json:"undo_available"`
}

// SourceID returns the selected source id or "".
func (s State) SourceID() string {
	if s.Source == nil {
		return ""
	}
	return s.Source.ID
}

// State returns a snapshot of the wizard.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := State{
		ID:            w.id,
		Step:          w.step,
		SizeMethodID:  w.sizeMethod,
		Calculated:    w.calculated,
		AudienceName:  w.name,
		Busy:          w.busy,
		Closed:        w.closed,
		UndoAvailable: len(w.history) > 0,
	}
	if w.source != nil {
		src := *w.source
		st.Source = &src
	}
	if w.curated != nil {
		l := *w.curated
		st.Features = &l
	}
	if w.job != nil {
		job := *w.job
		st.Job = &job
	}
	if w.step <= StepNameAndSubmit && !w.closed {
		if err := w.guardLocked(); err != nil {
			st.BlockedReason = err.Error()
		} else {
			st.CanAdvance = true
		}
	}
	return st
}

// Audience returns the submitted audience record. ok is false until the
// wizard has created a job.
func (s State) Audience() (a model.Audience, ok bool) {
	if s.Job == nil || s.Source == nil {
		return model.Audience{}, false
	}
	a = model.Audience{
		JobID:        s.Job.JobID,
		Name:         strings.TrimSpace(s.AudienceName),
		SourceID:     s.Source.ID,
		SizeMethodID: s.SizeMethodID,
		Progress:     s.Job.InitialProgress,
	}
	if s.Features != nil {
		a.Features = s.Features.Selected()
	}
	return a, true
}
