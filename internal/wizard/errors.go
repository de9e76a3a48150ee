package wizard

import "github.com/rotisserie/eris"

var (
	// ErrEmptyMatchSet means the chosen source has no matched records to seed a calculation.
	ErrEmptyMatchSet = eris.New("wizard: source has no matched records")
	// ErrCalculationFailed wraps a failed feature-importance calculation.
	ErrCalculationFailed = eris.New("wizard: calculation failed")
	// ErrSubmissionFailed wraps a failed job submission. Curated state is kept.
	ErrSubmissionFailed = eris.New("wizard: submission failed")
	// ErrInvalidTransition means a step guard rejected the action.
	ErrInvalidTransition = eris.New("wizard: invalid transition")
	// ErrBusy means a calculate or submit call is still in flight.
	ErrBusy = eris.New("wizard: request in flight")
	// ErrClosed means the wizard was cancelled or has already created its job.
	ErrClosed = eris.New("wizard: closed")
	// ErrNothingToUndo means the feature history is empty.
	ErrNothingToUndo = eris.New("wizard: nothing to undo")
)
