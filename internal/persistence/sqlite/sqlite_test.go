package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/activity-planner/internal/persistence"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(newTestDB(t))
	store.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return store
}

func sampleActivity(id string) persistence.Activity {
	assessment := "assess-1"
	return persistence.Activity{
		ID:            id,
		IDNumber:      "idn-" + id,
		Name:          "Museum visit",
		Description:   "Year 9 history",
		Location:      "City museum",
		Transport:     "Bus",
		Cost:          "15",
		ActivityType:  "excursion",
		Campus:        "senior",
		TimeStart:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		TimeEnd:       time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		Creator:       "alice",
		StaffInCharge: "bob",
		Planners:      []string{"carol", "dave", "carol"},
		AssessmentID:  &assessment,
		Status:        1,
	}
}

func TestOpen_FileDatabaseAppliesSchema(t *testing.T) {
	t.Parallel()

	dsn := filepath.Join(t.TempDir(), "nested", "planner.db")
	db, err := Open(context.Background(), DefaultConfig(dsn), nil)
	require.NoError(t, err)
	defer db.Close()

	var version string
	require.NoError(t, db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	assert.Equal(t, "002", version)
}

func TestOpen_PragmasApplyToEveryConnection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Open(ctx, DefaultConfig(filepath.Join(t.TempDir(), "planner.db")), nil)
	require.NoError(t, err)
	defer db.Close()

	conns := make([]*sql.Conn, 0, 3)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	for i, conn := range conns {
		var busy, fk int
		var journal string
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&busy))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&journal))
		assert.Equal(t, 30000, busy, "conn %d", i)
		assert.Equal(t, 1, fk, "conn %d", i)
		assert.Equal(t, "wal", journal, "conn %d", i)
	}
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{DSN: ":memory:", JournalMode: "SIDEWAYS"}, nil)
	require.Error(t, err)

	_, err = Open(context.Background(), Config{DSN: "planner.db?mode=ro"}, nil)
	require.Error(t, err)
}

func TestStore_UserRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertUser(ctx, persistence.User{Username: "alice", FirstName: "Alice", Email: "Alice@School.test"}))
	require.NoError(t, store.UpsertUser(ctx, persistence.User{Username: "alice", FirstName: "Alicia", Email: "alice@school.test", IsAdmin: true}))
	require.NoError(t, store.UpsertUser(ctx, persistence.User{Username: "bob"}))

	user, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", user.FirstName)
	assert.Equal(t, "alice@school.test", user.Email)
	assert.True(t, user.IsAdmin)

	users, err := store.ListUsers(ctx, []string{"bob", "alice", "zed"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)

	_, err = store.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStore_ActivityLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	activity := sampleActivity("act-1")
	require.NoError(t, store.CreateActivity(ctx, activity))

	got, err := store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, got.Planners)
	assert.Equal(t, activity.TimeStart, got.TimeStart)
	require.NotNil(t, got.AssessmentID)
	assert.Equal(t, "assess-1", *got.AssessmentID)

	got.Location = "Art gallery"
	got.Planners = []string{"erin"}
	got.AssessmentID = nil
	require.NoError(t, store.UpdateActivity(ctx, got))
	require.NoError(t, store.UpdateActivityStatus(ctx, "act-1", 2, "senior_hod"))

	got, err = store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, "Art gallery", got.Location)
	assert.Equal(t, []string{"erin"}, got.Planners)
	assert.Nil(t, got.AssessmentID)
	assert.Equal(t, 2, got.Status)
	assert.Equal(t, "senior_hod", got.StepName)

	err = store.CreateActivity(ctx, activity)
	assert.ErrorIs(t, err, persistence.ErrDuplicate)

	err = store.UpdateActivityStatus(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStore_ListActivitiesFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	first := sampleActivity("a")
	second := sampleActivity("b")
	second.Campus = "primary"
	second.Status = 3
	second.TimeStart = first.TimeStart.AddDate(0, 0, 7)
	second.TimeEnd = first.TimeEnd.AddDate(0, 0, 7)
	deleted := sampleActivity("c")
	deleted.Deleted = true

	for _, a := range []persistence.Activity{second, first, deleted} {
		require.NoError(t, store.CreateActivity(ctx, a))
	}

	all, err := store.ListActivities(ctx, persistence.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, []string{"carol", "dave"}, all[1].Planners)

	approved, err := store.ListActivities(ctx, persistence.ActivityFilter{Statuses: []int{3}})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "b", approved[0].ID)

	after := first.TimeStart.AddDate(0, 0, 1)
	later, err := store.ListActivities(ctx, persistence.ActivityFilter{StartsAfter: &after, Campus: "primary"})
	require.NoError(t, err)
	require.Len(t, later, 1)

	withDeleted, err := store.ListActivities(ctx, persistence.ActivityFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, withDeleted, 3)
}

func TestStore_Approvals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateActivity(ctx, sampleActivity("act")))

	require.NoError(t, store.CreateApproval(ctx, persistence.Approval{ID: "ap-2", ActivityID: "act", Type: "senior_admin", Sequence: 2}))
	require.NoError(t, store.CreateApproval(ctx, persistence.Approval{ID: "ap-1", ActivityID: "act", Type: "senior_hod", Sequence: 1}))

	approvals, err := store.ListApprovals(ctx, "act", false)
	require.NoError(t, err)
	require.Len(t, approvals, 2)
	assert.Equal(t, "senior_hod", approvals[0].Type)

	err = store.CreateApproval(ctx, persistence.Approval{ID: "ap-dup", ActivityID: "act", Type: "senior_hod", Sequence: 1})
	assert.ErrorIs(t, err, persistence.ErrDuplicate, "one active row per step type")

	actioned := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	approver := "hod"
	approvals[0].Status = 1
	approvals[0].Username = &approver
	approvals[0].ActionedAt = &actioned
	require.NoError(t, store.UpdateApproval(ctx, approvals[0]))

	got, err := store.GetApproval(ctx, "ap-1")
	require.NoError(t, err)
	require.NotNil(t, got.Username)
	assert.Equal(t, "hod", *got.Username)
	require.NotNil(t, got.ActionedAt)
	assert.True(t, actioned.Equal(*got.ActionedAt))

	require.NoError(t, store.InvalidateApprovals(ctx, "act"))
	active, err := store.ListApprovals(ctx, "act", false)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := store.ListApprovals(ctx, "act", true)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	require.NoError(t, store.CreateApproval(ctx, persistence.Approval{ID: "ap-3", ActivityID: "act", Type: "senior_hod", Sequence: 1}),
		"invalidated rows do not block a replacement")

	err = store.CreateApproval(ctx, persistence.Approval{ID: "ap-x", ActivityID: "ghost", Type: "senior_hod"})
	assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)
}

func TestStore_RecurrenceAndOccurrences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateActivity(ctx, sampleActivity("act")))

	require.NoError(t, store.UpsertRecurrence(ctx, persistence.RecurrenceRecord{ActivityID: "act", Pattern: "daily", Rule: []byte(`{"pattern":"daily"}`)}))
	require.NoError(t, store.UpsertRecurrence(ctx, persistence.RecurrenceRecord{ActivityID: "act", Pattern: "weekly", Rule: []byte(`{"pattern":"weekly"}`)}))

	record, err := store.GetRecurrence(ctx, "act")
	require.NoError(t, err)
	assert.Equal(t, "weekly", record.Pattern)
	assert.JSONEq(t, `{"pattern":"weekly"}`, string(record.Rule))

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	occurrences := []persistence.Occurrence{
		{ID: "o2", Start: start.AddDate(0, 0, 7), End: start.AddDate(0, 0, 7).Add(time.Hour)},
		{ID: "o1", Start: start, End: start.Add(time.Hour)},
	}
	require.NoError(t, store.ReplaceOccurrences(ctx, "act", occurrences))
	require.NoError(t, store.ReplaceOccurrences(ctx, "act", occurrences))

	listed, err := store.ListOccurrences(ctx, "act")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "o1", listed[0].ID)

	require.NoError(t, store.DeleteRecurrence(ctx, "act"))
	listed, err = store.ListOccurrences(ctx, "act")
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = store.GetRecurrence(ctx, "act")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	uow := NewUnitOfWork(db)

	boom := errors.New("boom")
	err := uow.WithinTx(ctx, func(ctx context.Context, store *Store) error {
		if err := store.CreateActivity(ctx, sampleActivity("tx-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = NewStore(db).GetActivity(ctx, "tx-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, uow.WithinTx(ctx, func(ctx context.Context, store *Store) error {
		return store.CreateActivity(ctx, sampleActivity("tx-2"))
	}))
	_, err = NewStore(db).GetActivity(ctx, "tx-2")
	assert.NoError(t, err)
}

func TestUnitOfWork_RollsBackOnPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	uow := NewUnitOfWork(db)

	assert.Panics(t, func() {
		_ = uow.WithinTx(ctx, func(ctx context.Context, store *Store) error {
			_ = store.CreateActivity(ctx, sampleActivity("tx-panic"))
			panic("boom")
		})
	})

	_, err := NewStore(db).GetActivity(ctx, "tx-panic")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
