package wizard

import "github.com/rotisserie/eris"

// Step is a position in the audience construction flow.
type Step int

const (
	StepChooseSource Step = iota
	StepChooseSizeMethod
	StepCalculate
	StepCurateFeatures
	StepReorderFeatures
	StepNameAndSubmit
	// StepCreated is terminal: the job was submitted.
	StepCreated
)

var stepNames = map[Step]string{
	StepChooseSource:     "choose_source",
	StepChooseSizeMethod: "choose_size_method",
	StepCalculate:        "calculate",
	StepCurateFeatures:   "curate_features",
	StepReorderFeatures:  "reorder_features",
	StepNameAndSubmit:    "name_and_submit",
	StepCreated:          "created",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the step by name.
func (s Step) MarshalText() ([]byte, error) {
	if _, ok := stepNames[s]; !ok {
		return nil, eris.Errorf("wizard: unknown step %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a step name.
func (s *Step) UnmarshalText(b []byte) error {
	for step, name := range stepNames {
		if name == string(b) {
			*s = step
			return nil
		}
	}
	return eris.Errorf("wizard: unknown step %q", string(b))
}
