package workflow

// ApprovalStatus is the state of a single approval step.
type ApprovalStatus int

const (
	StatusUnapproved ApprovalStatus = iota
	StatusApproved
	StatusRejected
)

// String returns the lowercase status label.
func (s ApprovalStatus) String() string {
	switch s {
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "unapproved"
	}
}

// StepState is the persisted state of one step, as needed for gating.
type StepState struct {
	ID          string
	Type        string
	Status      ApprovalStatus
	Skip        bool
	Invalidated bool
}

// Pending reports whether the step still blocks approval of the activity.
func (s StepState) Pending() bool {
	return !s.Invalidated && !s.Skip && s.Status != StatusApproved
}

// PrerequisitesMet reports whether every prerequisite of def is approved
// among steps. Only active, unskipped rows are considered, so a prerequisite
// with no such row counts as met.
func PrerequisitesMet(def StepDefinition, steps []StepState) bool {
	for _, prereq := range def.Prerequisites {
		for _, s := range steps {
			if s.Type != prereq || s.Invalidated || s.Skip {
				continue
			}
			if s.Status != StatusApproved {
				return false
			}
		}
	}
	return true
}

// FilterActionable returns the pending steps whose prerequisites are met,
// preserving order. Steps unknown to cfg are dropped.
func FilterActionable(steps []StepState, cfg Config) []StepState {
	var out []StepState
	for _, s := range steps {
		if !s.Pending() {
			continue
		}
		def, ok := cfg.Step(s.Type)
		if !ok {
			continue
		}
		if PrerequisitesMet(def, steps) {
			out = append(out, s)
		}
	}
	return out
}
