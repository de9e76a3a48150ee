// Package wizard sequences lookalike audience construction: source and size
// selection, feature-importance calculation, feature curation and ordering,
// naming and submission. Every transition is explicit and guarded.
package wizard

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/features"
	"github.com/sells-group/audience-cli/internal/model"
)

const maxHistory = 50

// Gateway is the job-processing backend.
type Gateway interface {
	Calculate(ctx context.Context, sourceID, sizeMethodID string) (*model.CalculateResult, error)
	Submit(ctx context.Context, req model.AudienceRequest) (*model.JobDescriptor, error)
}

// SourceCatalog looks up seed sources.
type SourceCatalog interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
}

// SizeMethodCatalog resolves size/method option ids.
type SizeMethodCatalog interface {
	Lookup(id string) (model.SizeMethod, error)
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithSizeMethods restricts size/method selection to ids the catalog
// resolves. Without it any non-empty id is accepted.
func WithSizeMethods(c SizeMethodCatalog) Option {
	return func(w *Wizard) {
		w.sizeMethods = c
	}
}

// WithSelectionSize sets how many top features start selected.
func WithSelectionSize(n int) Option {
	return func(w *Wizard) {
		w.selectionSize = n
	}
}

// Wizard is the audience construction state machine. It is safe for
// concurrent use; while a calculate or submit call is in flight every other
// mutation fails with ErrBusy.
type Wizard struct {
	id            string
	gateway       Gateway
	catalog       SourceCatalog
	sizeMethods   SizeMethodCatalog
	selectionSize int
	log           *zap.Logger

	mu         sync.Mutex
	step       Step
	source     *model.Source
	sizeMethod string
	calculated bool
	curated    *features.List
	history    []features.List
	name       string
	job        *model.JobDescriptor
	busy       bool
	closed     bool
}

// New creates a wizard positioned at StepChooseSource.
func New(gateway Gateway, catalog SourceCatalog, opts ...Option) *Wizard {
	w := &Wizard{
		id:            uuid.New().String(),
		gateway:       gateway,
		catalog:       catalog,
		selectionSize: features.DefaultSelectionSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = zap.L().With(zap.String("component", "wizard"), zap.String("wizard_id", w.id))
	return w
}

// ID returns the wizard's unique id.
func (w *Wizard) ID() string {
	return w.id
}

// SelectSource chooses the seed source. Changing it discards any calculation
// and curated features.
func (w *Wizard) SelectSource(ctx context.Context, sourceID string) error {
	if err := w.checkMutable(StepChooseSource); err != nil {
		return err
	}
	if strings.TrimSpace(sourceID) == "" {
		return eris.Wrap(ErrInvalidTransition, "source id is required")
	}

	// The catalog read happens outside the lock; re-check afterwards.
	src, err := w.catalog.GetSource(ctx, sourceID)
	if err != nil {
		return eris.Wrapf(err, "wizard: get source %s", sourceID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mutableLocked(StepChooseSource); err != nil {
		return err
	}
	if w.source == nil || w.source.ID != src.ID {
		w.invalidateLocked()
	}
	w.source = src
	return nil
}

// SelectSizeMethod chooses the target size and expansion method. Changing
// it discards any calculation and curated features.
func (w *Wizard) SelectSizeMethod(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mutableLocked(StepChooseSizeMethod); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return eris.Wrap(ErrInvalidTransition, "empty size method")
	}
	if w.sizeMethods != nil {
		if _, err := w.sizeMethods.Lookup(id); err != nil {
			return eris.Wrapf(err, "select size method %q", id)
		}
	}
	if w.sizeMethod != id {
		w.invalidateLocked()
	}
	w.sizeMethod = id
	return nil
}

// Next advances one step if the current step's guard holds.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usableLocked(); err != nil {
		return err
	}
	if w.step >= StepNameAndSubmit {
		return eris.Wrapf(ErrInvalidTransition, "no step after %s; submit instead", w.step)
	}
	if err := w.guardLocked(); err != nil {
		return err
	}
	w.step++
	w.log.Debug("wizard advanced", zap.Stringer("step", w.step))
	return nil
}

// Back moves to the previous step, keeping everything entered so far.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usableLocked(); err != nil {
		return err
	}
	if w.step == StepChooseSource {
		return eris.Wrap(ErrInvalidTransition, "already at first step")
	}
	w.step--
	w.log.Debug("wizard went back", zap.Stringer("step", w.step))
	return nil
}

// CanAdvance evaluates the current step's guard without changing state.
func (w *Wizard) CanAdvance() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usableLocked(); err != nil {
		return err
	}
	return w.guardLocked()
}

// Calculate requests feature importances for the chosen source and size
// method and curates the result. The step does not change.
func (w *Wizard) Calculate(ctx context.Context) error {
	w.mu.Lock()
	if err := w.mutableLocked(StepCalculate); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.source == nil || w.sizeMethod == "" {
		w.mu.Unlock()
		return eris.Wrap(ErrInvalidTransition, "source and size method are required")
	}
	if !w.source.HasMatches() {
		w.mu.Unlock()
		return eris.Wrapf(ErrEmptyMatchSet, "source %s", w.source.ID)
	}
	sourceID, sizeMethod := w.source.ID, w.sizeMethod
	w.busy = true
	w.mu.Unlock()

	res, err := w.gateway.Calculate(ctx, sourceID, sizeMethod)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	if err != nil {
		w.log.Warn("calculation failed", zap.String("source_id", sourceID), zap.Error(err))
		return eris.Wrapf(ErrCalculationFailed, "source %s: %v", sourceID, err)
	}

	var cats []model.FeatureCategory
	if res != nil {
		cats = res.Categories
	}
	list := features.Curate(features.Normalize(cats), w.selectionSize)
	w.curated = &list
	w.history = nil
	w.calculated = true
	w.log.Info("calculation complete",
		zap.String("source_id", sourceID),
		zap.Int("features", list.Len()),
		zap.Int("selected", len(list.Selected())),
	)
	return nil
}

// ToggleFeature moves a feature between the selected and available sets.
func (w *Wizard) ToggleFeature(key string) error {
	return w.editFeatures(StepCurateFeatures, func(l features.List) (features.List, error) {
		return features.Toggle(l, key)
	})
}

// ReorderFeature moves a selected feature from one position to another.
func (w *Wizard) ReorderFeature(from, to int) error {
	return w.editFeatures(StepReorderFeatures, func(l features.List) (features.List, error) {
		return features.Reorder(l, from, to)
	})
}

// UndoFeatures restores the feature list as it was before the last toggle or reorder.
func (w *Wizard) UndoFeatures() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usableLocked(); err != nil {
		return err
	}
	if w.step != StepCurateFeatures && w.step != StepReorderFeatures {
		return eris.Wrapf(ErrInvalidTransition, "cannot undo features at %s", w.step)
	}
	if len(w.history) == 0 {
		return ErrNothingToUndo
	}
	prev := w.history[len(w.history)-1]
	w.history = w.history[:len(w.history)-1]
	w.curated = &prev
	return nil
}

// SetName sets the audience name.
func (w *Wizard) SetName(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mutableLocked(StepNameAndSubmit); err != nil {
		return err
	}
	w.name = name
	return nil
}

// Submit sends the curated request to the gateway. On success the wizard
// moves to StepCreated and returns the job. On failure it stays put with all
// state intact so the user can retry.
func (w *Wizard) Submit(ctx context.Context) (*model.JobDescriptor, error) {
	w.mu.Lock()
	if err := w.mutableLocked(StepNameAndSubmit); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if err := w.guardLocked(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	req := model.AudienceRequest{
		SourceID:         w.source.ID,
		SizeMethodID:     w.sizeMethod,
		AudienceName:     strings.TrimSpace(w.name),
		SelectedFeatures: w.curated.Selected(),
	}
	w.busy = true
	w.mu.Unlock()

	job, err := w.gateway.Submit(ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	if err == nil && (job == nil || job.JobID == "") {
		err = eris.New("gateway returned no job id")
	}
	if err != nil {
		w.log.Warn("submission failed", zap.String("audience", req.AudienceName), zap.Error(err))
		return nil, eris.Wrapf(ErrSubmissionFailed, "audience %q: %v", req.AudienceName, err)
	}

	w.job = job
	w.step = StepCreated
	w.log.Info("audience submitted",
		zap.String("job_id", job.JobID),
		zap.String("audience", req.AudienceName),
		zap.Int("features", len(req.SelectedFeatures)),
	)
	return job, nil
}

// Cancel discards the wizard. Later calls fail with ErrClosed.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// guardLocked is the advance predicate of the current step.
func (w *Wizard) guardLocked() error {
	switch w.step {
	case StepChooseSource:
		if w.source == nil {
			return eris.Wrap(ErrInvalidTransition, "select a source first")
		}
	case StepChooseSizeMethod:
		if w.source == nil || !w.source.HasMatches() {
			return eris.Wrap(ErrEmptyMatchSet, "the selected source has no matched records")
		}
		if w.sizeMethod == "" {
			return eris.Wrap(ErrInvalidTransition, "select a size and method first")
		}
	case StepCalculate:
		if !w.calculated {
			return eris.Wrap(ErrInvalidTransition, "calculate feature importance first")
		}
	case StepCurateFeatures:
		if w.curated == nil || w.curated.Empty() {
			return eris.Wrap(ErrInvalidTransition, "select at least one feature")
		}
	case StepReorderFeatures:
	case StepNameAndSubmit:
		if w.curated == nil || w.curated.Empty() {
			return eris.Wrap(ErrInvalidTransition, "select at least one feature")
		}
		if strings.TrimSpace(w.name) == "" {
			return eris.Wrap(ErrInvalidTransition, "audience name is required")
		}
	default:
		return eris.Wrapf(ErrInvalidTransition, "no guard for step %s", w.step)
	}
	return nil
}

func (w *Wizard) editFeatures(at Step, edit func(features.List) (features.List, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mutableLocked(at); err != nil {
		return err
	}
	if w.curated == nil {
		return eris.Wrap(ErrInvalidTransition, "no features calculated")
	}
	next, err := edit(*w.curated)
	if err != nil {
		return err
	}
	w.history = append(w.history, *w.curated)
	if len(w.history) > maxHistory {
		w.history = w.history[len(w.history)-maxHistory:]
	}
	w.curated = &next
	return nil
}

// invalidateLocked clears everything derived from the source and size method.
func (w *Wizard) invalidateLocked() {
	if w.calculated || w.curated != nil {
		w.log.Debug("inputs changed, discarding calculation")
	}
	w.calculated = false
	w.curated = nil
	w.history = nil
}

func (w *Wizard) checkMutable(at Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mutableLocked(at)
}

// mutableLocked checks that the wizard is usable and positioned at step.
func (w *Wizard) mutableLocked(at Step) error {
	if err := w.usableLocked(); err != nil {
		return err
	}
	if w.step != at {
		return eris.Wrapf(ErrInvalidTransition, "action belongs to %s, wizard is at %s", at, w.step)
	}
	return nil
}

func (w *Wizard) usableLocked() error {
	if w.closed || w.step == StepCreated {
		return ErrClosed
	}
	if w.busy {
		return ErrBusy
	}
	return nil
}
