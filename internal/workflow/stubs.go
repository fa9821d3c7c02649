package workflow

import "time"

// Attributes are the activity properties that shape its approval pipeline.
type Attributes struct {
	Type               string
	Campus             string
	LinkedToAssessment bool
	Overnight          bool
	StaffInCharge      string
}

// Resolution is the outcome of a directory lookup for one step. Known is
// false when the directory could not be consulted, which differs from a
// successful lookup that matched nobody.
type Resolution struct {
	Usernames []string
	Known     bool
}

// Pipeline is the ordered list of steps an activity must pass.
type Pipeline struct {
	Steps []StepDefinition
	// Deferred lists directory-backed step types that were omitted because
	// their approvers are unknown. Existing rows of these types are kept.
	Deferred []string
}

// Types returns the step types of the pipeline in order.
func (p Pipeline) Types() []string {
	out := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		out[i] = step.Type
	}
	return out
}

// Contains reports whether stepType is part of the pipeline or deferred.
func (p Pipeline) Contains(stepType string) bool {
	for _, step := range p.Steps {
		if step.Type == stepType {
			return true
		}
	}
	for _, deferred := range p.Deferred {
		if deferred == stepType {
			return true
		}
	}
	return false
}

// Stubs builds the pipeline for attrs. resolved carries directory results
// keyed by step type. Steps whose approver pool ends up empty are dropped.
func (c Config) Stubs(attrs Attributes, resolved map[string]Resolution) Pipeline {
	var pipeline Pipeline
	for _, step := range c.Chain(attrs) {
		if !step.When.Matches(attrs) {
			continue
		}

		if step.Directory {
			res, ok := resolved[step.Type]
			if !ok || !res.Known {
				pipeline.Deferred = append(pipeline.Deferred, step.Type)
				continue
			}
			step.Approvers = mergeApprovers(step.Approvers, res.Usernames)
		}

		if len(step.Approvers) == 0 {
			continue
		}
		pipeline.Steps = append(pipeline.Steps, step)
	}
	return pipeline
}

func mergeApprovers(fixed []Approver, usernames []string) []Approver {
	out := make([]Approver, 0, len(fixed)+len(usernames))
	seen := make(map[string]struct{}, len(fixed)+len(usernames))
	for _, a := range fixed {
		seen[a.Username] = struct{}{}
		out = append(out, a)
	}
	for _, u := range usernames {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, Approver{Username: u})
	}
	return out
}

// IsOvernight reports whether an activity ends on a later calendar date than
// it starts, in loc.
func IsOvernight(start, end time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	sy, sm, sd := start.In(loc).Date()
	ey, em, ed := end.In(loc).Date()
	return sy != ey || sm != em || sd != ed
}
