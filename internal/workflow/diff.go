package workflow

import (
	"slices"
	"strings"
	"time"
)

// Watched activity fields. Edits to these can invalidate approvals.
const (
	FieldActivityName  = "activityname"
	FieldDescription   = "description"
	FieldLocation      = "location"
	FieldTransport     = "transport"
	FieldCost          = "cost"
	FieldTimeStart     = "timestart"
	FieldTimeEnd       = "timeend"
	FieldCampus        = "campus"
	FieldActivityType  = "activitytype"
	FieldStaffInCharge = "staffincharge"
	FieldPlanners      = "planners"
	FieldAssessment    = "assessment"
)

var watchedFields = []string{
	FieldActivityName,
	FieldDescription,
	FieldLocation,
	FieldTransport,
	FieldCost,
	FieldTimeStart,
	FieldTimeEnd,
	FieldCampus,
	FieldActivityType,
	FieldStaffInCharge,
	FieldPlanners,
	FieldAssessment,
}

// WatchedFields returns the watched field names in canonical order.
func WatchedFields() []string {
	return slices.Clone(watchedFields)
}

// IsWatchedField reports whether name is a watched field.
func IsWatchedField(name string) bool {
	return slices.Contains(watchedFields, name)
}

// Snapshot captures the watched fields of an activity.
type Snapshot struct {
	Name          string
	Description   string
	Location      string
	Transport     string
	Cost          string
	TimeStart     time.Time
	TimeEnd       time.Time
	Campus        string
	ActivityType  string
	StaffInCharge string
	Planners      []string
	AssessmentID  string
}

// Values renders each watched field as text, keyed by field name.
func (s Snapshot) Values() map[string]string {
	planners := slices.Clone(s.Planners)
	slices.Sort(planners)

	return map[string]string{
		FieldActivityName:  s.Name,
		FieldDescription:   s.Description,
		FieldLocation:      s.Location,
		FieldTransport:     s.Transport,
		FieldCost:          s.Cost,
		FieldTimeStart:     formatFieldTime(s.TimeStart),
		FieldTimeEnd:       formatFieldTime(s.TimeEnd),
		FieldCampus:        s.Campus,
		FieldActivityType:  s.ActivityType,
		FieldStaffInCharge: s.StaffInCharge,
		FieldPlanners:      strings.Join(planners, ", "),
		FieldAssessment:    s.AssessmentID,
	}
}

// ChangedFields lists the watched fields that differ between before and
// after, in canonical order. Planner order is ignored.
func ChangedFields(before, after Snapshot) []string {
	b, a := before.Values(), after.Values()
	var changed []string
	for _, field := range watchedFields {
		var differs bool
		switch field {
		case FieldTimeStart:
			differs = !before.TimeStart.Equal(after.TimeStart)
		case FieldTimeEnd:
			differs = !before.TimeEnd.Equal(after.TimeEnd)
		default:
			differs = b[field] != a[field]
		}
		if differs {
			changed = append(changed, field)
		}
	}
	return changed
}

// Intersects reports whether any of fields appears in watched.
func Intersects(watched, fields []string) bool {
	for _, f := range fields {
		if slices.Contains(watched, f) {
			return true
		}
	}
	return false
}

func formatFieldTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Mon 2 Jan 2006, 3:04pm")
}
