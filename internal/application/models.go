package application

import (
	"strings"
	"time"

	"github.com/example/activity-planner/internal/workflow"
)

// ActivityStatus is the lifecycle state of an activity.
type ActivityStatus int

const (
	StatusAutosave ActivityStatus = iota
	StatusDraft
	StatusInReview
	StatusApproved
	StatusCancelled
)

var statusLabels = map[ActivityStatus]string{
	StatusAutosave:  "autosave",
	StatusDraft:     "draft",
	StatusInReview:  "inreview",
	StatusApproved:  "approved",
	StatusCancelled: "cancelled",
}

// String returns the wire label for the status.
func (s ActivityStatus) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return "unknown"
}

// ParseActivityStatus converts a wire label into a status.
func ParseActivityStatus(label string) (ActivityStatus, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	for status, l := range statusLabels {
		if l == label {
			return status, true
		}
	}
	return 0, false
}

// Actor identifies the staff member performing an operation.
type Actor struct {
	Username string
	IsAdmin  bool
}

// User is a staff member known to the planner.
type User struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	IsAdmin   bool
}

// FullName joins the first and last name, falling back to the username.
func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Activity is an excursion, incursion or other school event.
type Activity struct {
	ID            string
	IDNumber      string
	Name          string
	Description   string
	Location      string
	Transport     string
	Cost          string
	ActivityType  string
	Campus        string
	TimeStart     time.Time
	TimeEnd       time.Time
	Creator       string
	StaffInCharge string
	Planners      []string
	AssessmentID  string
	Status        ActivityStatus
	StepName      string
	Recurring     bool
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanEdit reports whether actor may modify the activity.
func (a Activity) CanEdit(actor Actor) bool {
	if actor.Username == "" {
		return false
	}
	if actor.IsAdmin {
		return true
	}
	if strings.EqualFold(a.Creator, actor.Username) || strings.EqualFold(a.StaffInCharge, actor.Username) {
		return true
	}
	for _, planner := range a.Planners {
		if strings.EqualFold(planner, actor.Username) {
			return true
		}
	}
	return false
}

// Snapshot captures the watched fields for change detection.
func (a Activity) Snapshot() workflow.Snapshot {
	return workflow.Snapshot{
		Name:          a.Name,
		Description:   a.Description,
		Location:      a.Location,
		Transport:     a.Transport,
		Cost:          a.Cost,
		TimeStart:     a.TimeStart,
		TimeEnd:       a.TimeEnd,
		Campus:        a.Campus,
		ActivityType:  a.ActivityType,
		StaffInCharge: a.StaffInCharge,
		Planners:      a.Planners,
		AssessmentID:  a.AssessmentID,
	}
}

// Approval is one persisted sign-off step of an activity.
type Approval struct {
	ID          string
	ActivityID  string
	Type        string
	Description string
	Sequence    int
	Status      workflow.ApprovalStatus
	// Username records who last actioned the step.
	Username    string
	Nominated   string
	Skip        bool
	Invalidated bool
	ActionedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Approval) state() workflow.StepState {
	return workflow.StepState{
		ID:          a.ID,
		Type:        a.Type,
		Status:      a.Status,
		Skip:        a.Skip,
		Invalidated: a.Invalidated,
	}
}

// ApproverView describes a member of a step's approver pool.
type ApproverView struct {
	Username string
	FullName string
}

// ApprovalView decorates an approval with what the viewing actor may do.
type ApprovalView struct {
	Approval
	Name          string
	Approvers     []ApproverView
	SelectableBy  workflow.SelectableBy
	Selectable    bool
	CanApprove    bool
	CanSkip       bool
	IsApprover    bool
	Grandfathered bool
}

// WorkflowResult reports the reconciled activity status and its active steps.
type WorkflowResult struct {
	Status   ActivityStatus
	StepName string
	Workflow []Approval
}

// CheckOptions tune a status reconciliation.
type CheckOptions struct {
	// ChangedFields lists watched fields edited since the last reconciliation.
	ChangedFields []string
	// Progressed marks that new steps were added to the pipeline.
	Progressed bool
	Bcc        []string
	SendEmails bool
}

// FieldChange is one edited watched field.
type FieldChange struct {
	Field  string
	Before string
	After  string
}

// Recipient is a notification target.
type Recipient struct {
	Username string
	Name     string
	Emails   []string
}

// Notification is a message produced by the workflow engine and delivered
// after the surrounding transaction commits.
type Notification struct {
	Kind      workflow.Kind
	Recipient Recipient
	Bcc       []string
	Activity  Activity
	StepName  string
	Actor     string
	Changes   []FieldChange
}

// Occurrence is one expanded instance of a recurring activity.
type Occurrence struct {
	ID    string
	Start time.Time
	End   time.Time
}

// ActivityFilter narrows activity listings.
type ActivityFilter struct {
	Statuses []ActivityStatus
	Campus   string
	From     *time.Time
	To       *time.Time
}

// ActivityInput carries the editable activity fields.
type ActivityInput struct {
	Name          string    `json:"activityname" validate:"notblank,max=255"`
	Description   string    `json:"description" validate:"max=4000"`
	Location      string    `json:"location" validate:"max=255"`
	Transport     string    `json:"transport" validate:"max=255"`
	Cost          string    `json:"cost" validate:"max=64"`
	ActivityType  string    `json:"activitytype" validate:"required,oneof=excursion incursion commercial assessment other"`
	Campus        string    `json:"campus" validate:"required,oneof=senior primary whole"`
	TimeStart     time.Time `json:"timestart" validate:"required"`
	TimeEnd       time.Time `json:"timeend" validate:"required,gtefield=TimeStart"`
	StaffInCharge string    `json:"staffincharge" validate:"notblank"`
	Planners      []string  `json:"planners" validate:"dive,notblank"`
	AssessmentID  string    `json:"assessmentid" validate:"max=64"`
	// Submit moves a draft into review on save.
	Submit bool `json:"submit"`
	// Autosave marks a background save of a draft.
	Autosave bool `json:"autosave"`
}
