package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/activity-planner/internal/persistence"
	"github.com/example/activity-planner/internal/recurrence"
	"github.com/example/activity-planner/internal/workflow"
)

// memoryStore is an in-memory Store and UnitOfWork. WithinTx restores the
// previous contents when fn fails.
type memoryStore struct {
	mu          sync.Mutex
	activities  map[string]Activity
	approvals   []Approval
	rules       map[string]recurrence.Rule
	occurrences map[string][]Occurrence
	users       map[string]User

	createApprovalErr error
	listUsersErr      error
	statusUpdates     int
}

func newMemoryStore(users ...User) *memoryStore {
	m := &memoryStore{
		activities:  map[string]Activity{},
		rules:       map[string]recurrence.Rule{},
		occurrences: map[string][]Occurrence{},
		users:       map[string]User{},
	}
	for _, u := range users {
		m.users[strings.ToLower(u.Username)] = u
	}
	return m
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	m.mu.Lock()
	activities := maps.Clone(m.activities)
	approvals := slices.Clone(m.approvals)
	rules := maps.Clone(m.rules)
	occurrences := maps.Clone(m.occurrences)
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.activities = activities
		m.approvals = approvals
		m.rules = rules
		m.occurrences = occurrences
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryStore) CreateActivity(ctx context.Context, activity Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[activity.ID]; ok {
		return persistence.ErrDuplicate
	}
	activity.Planners = slices.Clone(activity.Planners)
	m.activities[activity.ID] = activity
	return nil
}

func (m *memoryStore) UpdateActivity(ctx context.Context, activity Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[activity.ID]; !ok {
		return persistence.ErrNotFound
	}
	activity.Planners = slices.Clone(activity.Planners)
	m.activities[activity.ID] = activity
	return nil
}

func (m *memoryStore) UpdateActivityStatus(ctx context.Context, id string, status ActivityStatus, stepName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	activity, ok := m.activities[id]
	if !ok {
		return persistence.ErrNotFound
	}
	activity.Status = status
	activity.StepName = stepName
	m.activities[id] = activity
	m.statusUpdates++
	return nil
}

func (m *memoryStore) GetActivity(ctx context.Context, id string) (Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	activity, ok := m.activities[id]
	if !ok {
		return Activity{}, persistence.ErrNotFound
	}
	activity.Planners = slices.Clone(activity.Planners)
	return activity, nil
}

func (m *memoryStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activity
	for _, a := range m.activities {
		if a.Deleted {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, a.Status) {
			continue
		}
		if filter.Campus != "" && a.Campus != filter.Campus {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeStart.Before(out[j].TimeStart) })
	return out, nil
}

func (m *memoryStore) CreateApproval(ctx context.Context, approval Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createApprovalErr != nil {
		return m.createApprovalErr
	}
	for _, a := range m.approvals {
		if a.ActivityID == approval.ActivityID && a.Type == approval.Type && !a.Invalidated {
			return fmt.Errorf("second active %s step: %w", approval.Type, persistence.ErrDuplicate)
		}
	}
	m.approvals = append(m.approvals, approval)
	return nil
}

func (m *memoryStore) UpdateApproval(ctx context.Context, approval Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.approvals {
		if m.approvals[i].ID == approval.ID {
			m.approvals[i] = approval
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (m *memoryStore) ListApprovals(ctx context.Context, activityID string, includeInvalidated bool) ([]Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Approval
	for _, a := range m.approvals {
		if a.ActivityID != activityID || (a.Invalidated && !includeInvalidated) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memoryStore) InvalidateApprovals(ctx context.Context, activityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.approvals {
		if m.approvals[i].ActivityID == activityID {
			m.approvals[i].Invalidated = true
		}
	}
	return nil
}

func (m *memoryStore) SaveRecurrence(ctx context.Context, activityID string, rule recurrence.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[activityID] = rule
	return nil
}

func (m *memoryStore) GetRecurrence(ctx context.Context, activityID string) (recurrence.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[activityID]
	if !ok {
		return recurrence.Rule{}, persistence.ErrNotFound
	}
	return rule, nil
}

func (m *memoryStore) DeleteRecurrence(ctx context.Context, activityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[activityID]; !ok {
		return persistence.ErrNotFound
	}
	delete(m.rules, activityID)
	delete(m.occurrences, activityID)
	return nil
}

func (m *memoryStore) ReplaceOccurrences(ctx context.Context, activityID string, occurrences []Occurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.occurrences[activityID] = slices.Clone(occurrences)
	return nil
}

func (m *memoryStore) ListOccurrences(ctx context.Context, activityID string) ([]Occurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.occurrences[activityID]), nil
}

func (m *memoryStore) GetUser(ctx context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(username)]
	if !ok {
		return User{}, persistence.ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) ListUsers(ctx context.Context, usernames []string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listUsersErr != nil {
		return nil, m.listUsersErr
	}
	var out []User
	for _, name := range usernames {
		if u, ok := m.users[strings.ToLower(name)]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memoryStore) activeTypes(activityID string) []string {
	approvals, _ := m.ListApprovals(context.Background(), activityID, false)
	out := make([]string, len(approvals))
	for i, a := range approvals {
		out[i] = a.Type
	}
	return out
}

func (m *memoryStore) approvalByType(t *testing.T, activityID, stepType string) Approval {
	t.Helper()
	approvals, _ := m.ListApprovals(context.Background(), activityID, false)
	for _, a := range approvals {
		if a.Type == stepType {
			return a
		}
	}
	t.Fatalf("no active %s step on %s", stepType, activityID)
	return Approval{}
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	fails bool
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails {
		return errors.New("smtp down")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// recipients lists who received notifications of kind, in order.
func (r *recordingNotifier) recipients(kind workflow.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n.Recipient.Username)
		}
	}
	return out
}

type directoryStub struct {
	approvers map[string][]string
	err       error
	calls     int
}

func (d *directoryStub) ResolveApprovers(ctx context.Context, stepType, staffInCharge string) ([]string, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.approvers[stepType], nil
}

var (
	aedt       = time.FixedZone("AEDT", 11*3600)
	seededTime = time.Date(2026, time.March, 1, 9, 0, 0, 0, aedt)
)

type harness struct {
	store      *memoryStore
	notifier   *recordingNotifier
	directory  *directoryStub
	workflow   *WorkflowService
	activities *ActivityService
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg, err := workflow.Default()
	if err != nil {
		t.Fatalf("load workflow config: %v", err)
	}

	h := &harness{
		store: newMemoryStore(
			User{Username: "teacher", FirstName: "Tess", LastName: "Teacher", Email: "teacher@school.example"},
			User{Username: "planner", FirstName: "Pat", LastName: "Planner", Email: "planner@school.example"},
			User{Username: "hod.science", FirstName: "Hana", LastName: "Head", Email: "hod@school.example"},
			User{Username: "senior.admin", FirstName: "Sam", LastName: "Admin", Email: "admin@school.example"},
			User{Username: "head.senior", FirstName: "Harriet", LastName: "Senior", Email: "hoss@school.example"},
			User{Username: "risk.officer", FirstName: "Rita", LastName: "Risk", Email: "risk@school.example"},
			User{Username: "outdoor.ed", FirstName: "Oscar", LastName: "Outdoors", Email: "outdoor@school.example"},
		),
		notifier:  &recordingNotifier{},
		directory: &directoryStub{approvers: map[string][]string{"senior_hod": {"hod.science"}}},
		now:       seededTime,
	}

	counter := 0
	ids := func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	}
	now := func() time.Time { return h.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h.workflow = NewWorkflowService(WorkflowDependencies{
		Store:       h.store,
		UnitOfWork:  h.store,
		Config:      cfg,
		Directory:   h.directory,
		Notifier:    h.notifier,
		Location:    aedt,
		IDGenerator: ids,
		Now:         now,
		Logger:      logger,
	})
	h.activities = NewActivityService(ActivityDependencies{
		Store:       h.store,
		UnitOfWork:  h.store,
		Workflow:    h.workflow,
		IDGenerator: ids,
		Now:         now,
		Logger:      logger,
	})
	return h
}

func seniorExcursionInput() ActivityInput {
	start := time.Date(2026, time.March, 20, 9, 0, 0, 0, aedt)
	return ActivityInput{
		Name:          "Science museum",
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
}

// submitted creates a senior excursion straight into review.
func (h *harness) submitted(t *testing.T, input ActivityInput) Activity {
	t.Helper()
	input.Submit = true
	result, err := h.activities.CreateActivity(context.Background(), Actor{Username: "teacher"}, input)
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	return result.Activity
}
