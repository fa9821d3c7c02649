package persistence

import "time"

// User represents a staff account known to the planner.
type User struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Activity represents an excursion, incursion or other school activity row.
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
	AssessmentID  *string
	Status        int
	StepName      string
	Recurring     bool
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Approval represents one sign-off row in an activity's approval workflow.
// Rows are never deleted; superseded rows are flagged invalidated.
type Approval struct {
	ID          string
	ActivityID  string
	Type        string
	Description string
	Sequence    int
	Status      int
	Username    *string
	Nominated   *string
	Skip        bool
	Invalidated bool
	ActionedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecurrenceRecord stores the serialized recurrence rule owned by an activity.
type RecurrenceRecord struct {
	ActivityID string
	Pattern    string
	Rule       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Occurrence is a concrete expansion of an activity's recurrence rule.
type Occurrence struct {
	ID         string
	ActivityID string
	Start      time.Time
	End        time.Time
}
