package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/persistence"
)

var (
	userCounter     uint64
	activityCounter uint64
)

// SchoolZone is the fixed offset used by activity fixtures (Melbourne daylight time).
var SchoolZone = time.FixedZone("AEDT", 11*3600)

var referenceTime = time.Date(2026, time.March, 1, 9, 0, 0, 0, SchoolZone)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic staff record that can be
// materialised for application or persistence tests.
type UserFixture struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	IsAdmin   bool
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	username := fmt.Sprintf("staff.%03d", idx)
	fixture := UserFixture{
		Username:  username,
		FirstName: "Staff",
		LastName:  fmt.Sprintf("%03d", idx),
		Email:     username + "@school.example",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUsername overrides the generated username and derived email.
func WithUsername(username string) UserOption {
	return func(f *UserFixture) {
		f.Username = username
		f.Email = username + "@school.example"
	}
}

// WithUserName overrides the first and last name.
func WithUserName(first, last string) UserOption {
	return func(f *UserFixture) {
		f.FirstName = first
		f.LastName = last
	}
}

// WithUserEmail overrides the email address. An empty address models a staff
// member who cannot be emailed.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserAdmin sets the admin flag on the generated fixture.
func WithUserAdmin(isAdmin bool) UserOption {
	return func(f *UserFixture) {
		f.IsAdmin = isAdmin
	}
}

// Application returns the fixture as an application.User value.
func (f UserFixture) Application() application.User {
	return application.User{
		Username:  f.Username,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		IsAdmin:   f.IsAdmin,
	}
}

// Persistence returns the fixture as a persistence.User row.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		Username:  f.Username,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		IsAdmin:   f.IsAdmin,
	}
}

// Staff returns the accounts named by the default workflow configuration,
// plus a teacher, a planner and an administrator.
func Staff() []UserFixture {
	return []UserFixture{
		NewUserFixture(WithUsername("teacher"), WithUserName("Tess", "Teacher")),
		NewUserFixture(WithUsername("planner"), WithUserName("Pat", "Planner")),
		NewUserFixture(WithUsername("admin"), WithUserName("Ada", "Admin"), WithUserAdmin(true)),
		NewUserFixture(WithUsername("hod.science"), WithUserName("Hana", "Head")),
		NewUserFixture(WithUsername("senior.admin"), WithUserName("Sam", "Admin")),
		NewUserFixture(WithUsername("senior.reception"), WithUserName("Rae", "Reception")),
		NewUserFixture(WithUsername("head.senior"), WithUserName("Harriet", "Senior")),
		NewUserFixture(WithUsername("risk.officer"), WithUserName("Rita", "Risk")),
		NewUserFixture(WithUsername("outdoor.ed"), WithUserName("Oscar", "Outdoors")),
		NewUserFixture(WithUsername("assessment.coordinator"), WithUserName("Alex", "Assess")),
		NewUserFixture(WithUsername("primary.admin"), WithUserName("Priya", "Admin")),
		NewUserFixture(WithUsername("head.primary"), WithUserName("Hugo", "Primary")),
		NewUserFixture(WithUsername("commercial.admin"), WithUserName("Cam", "Commercial")),
		NewUserFixture(WithUsername("business.manager"), WithUserName("Bo", "Manager")),
		NewUserFixture(WithUsername("wellbeing.lead"), WithUserName("Wren", "Wellbeing")),
	}
}

// --------------------------- Activity fixtures ---------------------------

// ActivityOption configures the generated activity input.
type ActivityOption func(*application.ActivityInput)

// NewActivityInput returns a six hour senior excursion led by "teacher",
// starting nineteen days after ReferenceTime.
func NewActivityInput(opts ...ActivityOption) application.ActivityInput {
	idx := atomic.AddUint64(&activityCounter, 1)
	start := referenceTime.AddDate(0, 0, 19)
	input := application.ActivityInput{
		Name:          fmt.Sprintf("Excursion %03d", idx),
		Description:   "Year 10 visit",
		Location:      "Melbourne Museum",
		Transport:     "Bus",
		Cost:          "25",
		ActivityType:  "excursion",
		Campus:        "senior",
		TimeStart:     start,
		TimeEnd:       start.Add(6 * time.Hour),
		StaffInCharge: "teacher",
		Planners:      []string{"planner"},
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input
}

// WithActivityName overrides the activity name.
func WithActivityName(name string) ActivityOption {
	return func(in *application.ActivityInput) {
		in.Name = name
	}
}

// WithActivityType overrides the activity type.
func WithActivityType(activityType string) ActivityOption {
	return func(in *application.ActivityInput) {
		in.ActivityType = activityType
	}
}

// WithCampus overrides the campus.
func WithCampus(campus string) ActivityOption {
	return func(in *application.ActivityInput) {
		in.Campus = campus
	}
}

// WithTimes overrides the start and end.
func WithTimes(start, end time.Time) ActivityOption {
	return func(in *application.ActivityInput) {
		in.TimeStart = start
		in.TimeEnd = end
	}
}

// WithStaffInCharge overrides the staff member in charge.
func WithStaffInCharge(username string) ActivityOption {
	return func(in *application.ActivityInput) {
		in.StaffInCharge = username
	}
}

// Submitted marks the input for immediate review.
func Submitted() ActivityOption {
	return func(in *application.ActivityInput) {
		in.Submit = true
	}
}
