package testfixtures

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/directory"
	"github.com/example/activity-planner/internal/notify"
	"github.com/example/activity-planner/internal/recurrence"
	"github.com/example/activity-planner/internal/workflow"
)

func newSQLiteServices(t *testing.T) (Services, *SQLiteHarness, *notify.Recorder) {
	t.Helper()

	harness := NewSQLiteHarness(t, Staff()...)
	recorder := &notify.Recorder{}
	dispatcher, err := notify.NewDispatcher(notify.DispatcherOptions{
		Sender:   recorder,
		AppName:  "Activity Planner",
		BaseURL:  "https://planner.school.example",
		Location: SchoolZone,
	})
	require.NoError(t, err)

	services, err := NewServiceFactory().NewServices(ServiceDeps{
		Store:      harness.Store,
		UnitOfWork: harness.UnitOfWork,
		Directory:  directory.NewStatic(map[string][]string{"senior_hod": {"hod.science"}}),
		Notifier:   dispatcher,
	})
	require.NoError(t, err)
	return services, harness, recorder
}

func stepID(t *testing.T, views []application.ApprovalView, stepType string) string {
	t.Helper()
	for _, v := range views {
		if v.Type == stepType {
			return v.ID
		}
	}
	t.Fatalf("no %s step in workflow", stepType)
	return ""
}

func sentTo(messages []notify.Message, address string) bool {
	for _, m := range messages {
		for _, to := range m.To {
			if to.Address == address {
				return true
			}
		}
	}
	return false
}

func TestServices_SeniorExcursionOverSQLite(t *testing.T) {
	ctx := context.Background()
	services, harness, recorder := newSQLiteServices(t)
	teacher := application.Actor{Username: "teacher"}

	created, err := services.Activities.CreateActivity(ctx, teacher, NewActivityInput(Submitted()))
	require.NoError(t, err)
	require.Equal(t, application.StatusInReview, created.Workflow.Status)
	assert.Equal(t, "Head of department", created.Workflow.StepName)

	stored, err := harness.Store.ListApprovals(ctx, created.Activity.ID, false)
	require.NoError(t, err)
	var types []string
	for _, a := range stored {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"senior_hod", "senior_admin", "senior_hoss"}, types)

	messages := recorder.Messages()
	assert.True(t, sentTo(messages, "hod.science@school.example"))
	assert.True(t, sentTo(messages, "senior.admin@school.example"))

	views, err := services.Workflow.GetWorkflow(ctx, teacher, created.Activity.ID)
	require.NoError(t, err)

	for _, step := range []struct{ approver, stepType string }{
		{"hod.science", "senior_hod"},
		{"senior.admin", "senior_admin"},
		{"head.senior", "senior_hoss"},
	} {
		_, err := services.Workflow.SaveApproval(ctx, application.Actor{Username: step.approver},
			created.Activity.ID, stepID(t, views, step.stepType), workflow.StatusApproved)
		require.NoError(t, err, step.stepType)
	}

	activity, err := harness.Store.GetActivity(ctx, created.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusApproved, activity.Status)
	assert.True(t, sentTo(recorder.Messages(), "teacher@school.example"))
}

func TestServices_RecurrencePersists(t *testing.T) {
	ctx := context.Background()
	services, harness, _ := newSQLiteServices(t)
	teacher := application.Actor{Username: "teacher"}

	created, err := services.Activities.CreateActivity(ctx, teacher, NewActivityInput())
	require.NoError(t, err)

	rule := recurrence.Rule{
		Pattern:  recurrence.PatternWeekly,
		Weekly:   &recurrence.WeeklyRule{Interval: 1, Days: []time.Weekday{created.Activity.TimeStart.In(SchoolZone).Weekday()}},
		EndAfter: 4,
	}
	occurrences, err := services.Activities.SetRecurrence(ctx, teacher, created.Activity.ID, &rule)
	require.NoError(t, err)
	require.Len(t, occurrences, 4)

	listed, err := services.Activities.ListOccurrences(ctx, teacher, created.Activity.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.True(t, listed[0].Start.Equal(occurrences[0].Start))

	saved, err := harness.Store.GetRecurrence(ctx, created.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Weekly.Days, saved.Weekly.Days)
	assert.Equal(t, 4, saved.EndAfter)

	_, err = services.Activities.SetRecurrence(ctx, teacher, created.Activity.ID, nil)
	require.NoError(t, err)
	_, err = harness.Store.GetRecurrence(ctx, created.Activity.ID)
	require.Error(t, err)
}

func TestUserFixtureConversions(t *testing.T) {
	fixture := NewUserFixture(WithUsername("casual.relief"), WithUserEmail(""))
	if fixture.Application().Username != "casual.relief" || fixture.Persistence().Email != "" {
		t.Fatalf("unexpected conversion: %+v", fixture)
	}
	if _, err := mail.ParseAddress(NewUserFixture().Email); err != nil {
		t.Fatalf("generated email must parse: %v", err)
	}
}
