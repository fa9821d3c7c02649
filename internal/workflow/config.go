// Package workflow holds the declarative approval configuration and the pure
// functions that turn an activity's attributes into an ordered pipeline of
// approval steps.
package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_workflow.yaml
var defaultWorkflow []byte

// Kind names a notification template.
type Kind string

const (
	KindApprovalRequired        Kind = "approval_required"
	KindStatusChanged           Kind = "status_changed"
	KindActivityApproved        Kind = "activity_approved"
	KindApprovedActivityChanged Kind = "approved_activity_changed"
	KindApprovalRejected        Kind = "approval_rejected"
	KindApproverNominated       Kind = "approver_nominated"
)

// SelectableBy names who may nominate the approver of a selectable step.
type SelectableBy string

const (
	SelectableByApprover SelectableBy = "approver"
	SelectableByPlanner  SelectableBy = "planner"
)

// Approver is one member of a step's approver pool.
type Approver struct {
	Username string `yaml:"username" json:"username"`
	// Contacts replace the approver's own address when notifying.
	Contacts []string `yaml:"contacts,omitempty" json:"contacts,omitempty"`
	// Notifications restricts which kinds reach this approver. Empty means all.
	Notifications []Kind `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	// Silent approvers may act but are never notified.
	Silent bool `yaml:"silent,omitempty" json:"silent,omitempty"`
}

// Receives reports whether the approver should be sent a notification of kind.
func (a Approver) Receives(kind Kind) bool {
	if a.Silent {
		return false
	}
	if len(a.Notifications) == 0 {
		return true
	}
	for _, k := range a.Notifications {
		if k == kind {
			return true
		}
	}
	return false
}

// Condition restricts a step to activities with matching attributes. Nil
// fields match anything.
type Condition struct {
	Overnight  *bool `yaml:"overnight,omitempty" json:"overnight,omitempty"`
	Assessment *bool `yaml:"assessment,omitempty" json:"assessment,omitempty"`
}

// Matches reports whether attrs satisfy the condition.
func (c Condition) Matches(attrs Attributes) bool {
	if c.Overnight != nil && *c.Overnight != attrs.Overnight {
		return false
	}
	if c.Assessment != nil && *c.Assessment != attrs.LinkedToAssessment {
		return false
	}
	return true
}

// StepDefinition is the static description of one approval step.
type StepDefinition struct {
	Type      string     `yaml:"type" json:"type"`
	Name      string     `yaml:"name" json:"name"`
	Approvers []Approver `yaml:"approvers,omitempty" json:"approvers,omitempty"`
	// Directory steps take their approvers from the external directory,
	// keyed by the activity's staff in charge.
	Directory         bool         `yaml:"directory,omitempty" json:"directory,omitempty"`
	Prerequisites     []string     `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	Selectable        bool         `yaml:"selectable,omitempty" json:"selectable,omitempty"`
	SelectableBy      SelectableBy `yaml:"selectable_by,omitempty" json:"selectable_by,omitempty"`
	CanSkip           bool         `yaml:"can_skip,omitempty" json:"can_skip,omitempty"`
	InvalidatedOnEdit []string     `yaml:"invalidated_on_edit,omitempty" json:"invalidated_on_edit,omitempty"`
	When              Condition    `yaml:"when,omitempty" json:"when,omitempty"`
}

// IsApprover reports whether username belongs to the step's approver pool.
func (d StepDefinition) IsApprover(username string) bool {
	for _, a := range d.Approvers {
		if strings.EqualFold(a.Username, username) {
			return true
		}
	}
	return false
}

// Cutover excludes one legacy step from the pending count of activities
// created before a fixed instant.
type Cutover struct {
	Before time.Time `yaml:"before" json:"before"`
	Step   string    `yaml:"step" json:"step"`
}

// Config is the complete approval configuration.
type Config struct {
	// ApprovalTypes lists the activity types that go through approval.
	ApprovalTypes []string `yaml:"approval_types" json:"approval_types"`
	// TypeChains sends an activity type to a fixed chain regardless of campus.
	TypeChains map[string]string `yaml:"type_chains,omitempty" json:"type_chains,omitempty"`
	// Chains maps a campus (or a TypeChains target) to its ordered steps.
	Chains  map[string][]StepDefinition `yaml:"chains" json:"chains"`
	Cutover *Cutover                    `yaml:"cutover,omitempty" json:"cutover,omitempty"`
}

// Default returns the embedded configuration.
func Default() (Config, error) {
	return ParseConfigYAML(defaultWorkflow)
}

// ParseConfigYAML decodes and normalizes a configuration.
func ParseConfigYAML(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, fmt.Errorf("workflow: configuration payload is empty")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("workflow: decode configuration: %w", err)
	}
	return cfg.Normalized()
}

// LoadConfigReader reads configuration data from an io.Reader.
func LoadConfigReader(r io.Reader) (Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("workflow: read configuration: %w", err)
	}
	return ParseConfigYAML(content)
}

// LoadConfigFile loads configuration from path.
func LoadConfigFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(content)
	if err != nil {
		return Config{}, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return cfg, nil
}

// Normalized fills defaults and validates the configuration.
func (c Config) Normalized() (Config, error) {
	out := Config{
		ApprovalTypes: make([]string, 0, len(c.ApprovalTypes)),
		TypeChains:    make(map[string]string, len(c.TypeChains)),
		Chains:        make(map[string][]StepDefinition, len(c.Chains)),
		Cutover:       c.Cutover,
	}
	for _, t := range c.ApprovalTypes {
		if t = strings.TrimSpace(t); t != "" {
			out.ApprovalTypes = append(out.ApprovalTypes, t)
		}
	}
	for k, v := range c.TypeChains {
		out.TypeChains[k] = v
	}

	for chain, steps := range c.Chains {
		if strings.TrimSpace(chain) == "" {
			return Config{}, fmt.Errorf("workflow: chain name is required")
		}
		normalized := make([]StepDefinition, len(steps))
		for i, step := range steps {
			if step.Selectable && step.SelectableBy == "" {
				step.SelectableBy = SelectableByApprover
			}
			if step.Name == "" {
				step.Name = step.Type
			}
			normalized[i] = step
		}
		out.Chains[chain] = normalized
	}

	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Validate ensures the configuration is self-consistent.
func (c Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("workflow: at least one chain is required")
	}

	seen := map[string]string{}
	for chain, steps := range c.Chains {
		for idx, step := range steps {
			if step.Type == "" {
				return fmt.Errorf("workflow: chain %s step[%d]: type is required", chain, idx)
			}
			if other, ok := seen[step.Type]; ok {
				return fmt.Errorf("workflow: step type %s declared in both %s and %s", step.Type, other, chain)
			}
			seen[step.Type] = chain

			switch step.SelectableBy {
			case "", SelectableByApprover, SelectableByPlanner:
			default:
				return fmt.Errorf("workflow: step %s: invalid selectable_by %q", step.Type, step.SelectableBy)
			}
			if !step.Directory && len(step.Approvers) == 0 {
				return fmt.Errorf("workflow: step %s: approvers or directory lookup required", step.Type)
			}
			for _, field := range step.InvalidatedOnEdit {
				if !IsWatchedField(field) {
					return fmt.Errorf("workflow: step %s: unknown field %q in invalidated_on_edit", step.Type, field)
				}
			}
		}
	}

	for chain, steps := range c.Chains {
		for _, step := range steps {
			for _, prereq := range step.Prerequisites {
				owner, ok := seen[prereq]
				if !ok {
					return fmt.Errorf("workflow: step %s: unknown prerequisite %s", step.Type, prereq)
				}
				if owner != chain {
					return fmt.Errorf("workflow: step %s: prerequisite %s belongs to chain %s", step.Type, prereq, owner)
				}
				if prereq == step.Type {
					return fmt.Errorf("workflow: step %s lists itself as a prerequisite", step.Type)
				}
			}
		}
	}

	for activityType, chain := range c.TypeChains {
		if _, ok := c.Chains[chain]; !ok {
			return fmt.Errorf("workflow: type %s routes to unknown chain %s", activityType, chain)
		}
	}
	if c.Cutover != nil {
		if _, ok := seen[c.Cutover.Step]; !ok {
			return fmt.Errorf("workflow: cutover references unknown step %s", c.Cutover.Step)
		}
	}
	return nil
}

// RequiresApproval reports whether activities of activityType go through approval.
func (c Config) RequiresApproval(activityType string) bool {
	for _, t := range c.ApprovalTypes {
		if t == activityType {
			return true
		}
	}
	return false
}

// SkipsDraft reports whether activities of activityType go straight into
// review on save. Types routed to a dedicated chain have no draft stage.
func (c Config) SkipsDraft(activityType string) bool {
	_, ok := c.TypeChains[activityType]
	return ok && c.RequiresApproval(activityType)
}

// Step looks up a step definition by type across all chains.
func (c Config) Step(stepType string) (StepDefinition, bool) {
	for _, steps := range c.Chains {
		for _, step := range steps {
			if step.Type == stepType {
				return step, true
			}
		}
	}
	return StepDefinition{}, false
}

// Chain returns the steps for attrs before conditions and approver resolution.
func (c Config) Chain(attrs Attributes) []StepDefinition {
	if chain, ok := c.TypeChains[attrs.Type]; ok {
		return c.Chains[chain]
	}
	return c.Chains[attrs.Campus]
}

// DirectorySteps lists the directory-backed step types that apply to attrs.
func (c Config) DirectorySteps(attrs Attributes) []string {
	var out []string
	for _, step := range c.Chain(attrs) {
		if step.Directory && step.When.Matches(attrs) {
			out = append(out, step.Type)
		}
	}
	return out
}

// Grandfathered reports whether stepType is ignored for an activity created at createdAt.
func (c Config) Grandfathered(stepType string, createdAt time.Time) bool {
	return c.Cutover != nil &&
		c.Cutover.Step == stepType &&
		createdAt.Before(c.Cutover.Before)
}
