// Package storage adapts the persistence repositories to the application
// ports, converting between row models and domain types.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/persistence"
	"github.com/example/activity-planner/internal/persistence/sqlite"
	"github.com/example/activity-planner/internal/recurrence"
	"github.com/example/activity-planner/internal/workflow"
)

// Store implements application.Store on top of persistence.Repositories.
type Store struct {
	repo persistence.Repositories
}

var _ application.Store = (*Store)(nil)

// NewStore wraps repo.
func NewStore(repo persistence.Repositories) *Store {
	return &Store{repo: repo}
}

// UnitOfWork implements application.UnitOfWork over SQLite transactions.
type UnitOfWork struct {
	uow *sqlite.UnitOfWork
}

var _ application.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a UnitOfWork backed by db.
func NewUnitOfWork(db *sql.DB) *UnitOfWork {
	return &UnitOfWork{uow: sqlite.NewUnitOfWork(db)}
}

// WithinTx runs fn with a Store bound to a single transaction.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, store application.Store) error) error {
	return u.Within(ctx, func(ctx context.Context, store *Store) error {
		return fn(ctx, store)
	})
}

// Within is WithinTx for callers that need the concrete Store, such as
// user seeding.
func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, store *Store) error) error {
	return u.uow.WithinTx(ctx, func(ctx context.Context, store *sqlite.Store) error {
		return fn(ctx, NewStore(store))
	})
}

func (s *Store) CreateActivity(ctx context.Context, activity application.Activity) error {
	return s.repo.CreateActivity(ctx, toPersistenceActivity(activity))
}

func (s *Store) UpdateActivity(ctx context.Context, activity application.Activity) error {
	return s.repo.UpdateActivity(ctx, toPersistenceActivity(activity))
}

func (s *Store) UpdateActivityStatus(ctx context.Context, id string, status application.ActivityStatus, stepName string) error {
	return s.repo.UpdateActivityStatus(ctx, id, int(status), stepName)
}

func (s *Store) GetActivity(ctx context.Context, id string) (application.Activity, error) {
	stored, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		return application.Activity{}, err
	}
	return toApplicationActivity(stored), nil
}

func (s *Store) ListActivities(ctx context.Context, filter application.ActivityFilter) ([]application.Activity, error) {
	pf := persistence.ActivityFilter{
		Campus:      filter.Campus,
		StartsAfter: filter.From,
		EndsBefore:  filter.To,
	}
	for _, status := range filter.Statuses {
		pf.Statuses = append(pf.Statuses, int(status))
	}

	stored, err := s.repo.ListActivities(ctx, pf)
	if err != nil {
		return nil, err
	}
	activities := make([]application.Activity, 0, len(stored))
	for _, a := range stored {
		activities = append(activities, toApplicationActivity(a))
	}
	return activities, nil
}

func (s *Store) CreateApproval(ctx context.Context, approval application.Approval) error {
	return s.repo.CreateApproval(ctx, toPersistenceApproval(approval))
}

func (s *Store) UpdateApproval(ctx context.Context, approval application.Approval) error {
	return s.repo.UpdateApproval(ctx, toPersistenceApproval(approval))
}

func (s *Store) ListApprovals(ctx context.Context, activityID string, includeInvalidated bool) ([]application.Approval, error) {
	stored, err := s.repo.ListApprovals(ctx, activityID, includeInvalidated)
	if err != nil {
		return nil, err
	}
	approvals := make([]application.Approval, 0, len(stored))
	for _, a := range stored {
		approvals = append(approvals, toApplicationApproval(a))
	}
	return approvals, nil
}

func (s *Store) InvalidateApprovals(ctx context.Context, activityID string) error {
	return s.repo.InvalidateApprovals(ctx, activityID)
}

// SaveRecurrence stores rule as JSON alongside its pattern.
func (s *Store) SaveRecurrence(ctx context.Context, activityID string, rule recurrence.Rule) error {
	encoded, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode recurrence rule: %w", err)
	}
	return s.repo.UpsertRecurrence(ctx, persistence.RecurrenceRecord{
		ActivityID: activityID,
		Pattern:    string(rule.Pattern),
		Rule:       encoded,
	})
}

func (s *Store) GetRecurrence(ctx context.Context, activityID string) (recurrence.Rule, error) {
	record, err := s.repo.GetRecurrence(ctx, activityID)
	if err != nil {
		return recurrence.Rule{}, err
	}
	var rule recurrence.Rule
	if err := json.Unmarshal(record.Rule, &rule); err != nil {
		return recurrence.Rule{}, fmt.Errorf("decode recurrence rule for %s: %w", activityID, err)
	}
	return rule, nil
}

func (s *Store) DeleteRecurrence(ctx context.Context, activityID string) error {
	return s.repo.DeleteRecurrence(ctx, activityID)
}

func (s *Store) ReplaceOccurrences(ctx context.Context, activityID string, occurrences []application.Occurrence) error {
	rows := make([]persistence.Occurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		rows = append(rows, persistence.Occurrence{
			ID:         occ.ID,
			ActivityID: activityID,
			Start:      occ.Start,
			End:        occ.End,
		})
	}
	return s.repo.ReplaceOccurrences(ctx, activityID, rows)
}

func (s *Store) ListOccurrences(ctx context.Context, activityID string) ([]application.Occurrence, error) {
	stored, err := s.repo.ListOccurrences(ctx, activityID)
	if err != nil {
		return nil, err
	}
	occurrences := make([]application.Occurrence, 0, len(stored))
	for _, occ := range stored {
		occurrences = append(occurrences, application.Occurrence{ID: occ.ID, Start: occ.Start, End: occ.End})
	}
	return occurrences, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (application.User, error) {
	stored, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return application.User{}, err
	}
	return toApplicationUser(stored), nil
}

func (s *Store) ListUsers(ctx context.Context, usernames []string) ([]application.User, error) {
	stored, err := s.repo.ListUsers(ctx, usernames)
	if err != nil {
		return nil, err
	}
	users := make([]application.User, 0, len(stored))
	for _, u := range stored {
		users = append(users, toApplicationUser(u))
	}
	return users, nil
}

// UpsertUser records a staff account. It is used by seeding and tests; the
// application itself only reads users.
func (s *Store) UpsertUser(ctx context.Context, user application.User) error {
	return s.repo.UpsertUser(ctx, persistence.User{
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		IsAdmin:   user.IsAdmin,
	})
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		Username:  model.Username,
		FirstName: model.FirstName,
		LastName:  model.LastName,
		Email:     model.Email,
		IsAdmin:   model.IsAdmin,
	}
}

func toApplicationActivity(model persistence.Activity) application.Activity {
	return application.Activity{
		ID:            model.ID,
		IDNumber:      model.IDNumber,
		Name:          model.Name,
		Description:   model.Description,
		Location:      model.Location,
		Transport:     model.Transport,
		Cost:          model.Cost,
		ActivityType:  model.ActivityType,
		Campus:        model.Campus,
		TimeStart:     model.TimeStart,
		TimeEnd:       model.TimeEnd,
		Creator:       model.Creator,
		StaffInCharge: model.StaffInCharge,
		Planners:      append([]string(nil), model.Planners...),
		AssessmentID:  deref(model.AssessmentID),
		Status:        application.ActivityStatus(model.Status),
		StepName:      model.StepName,
		Recurring:     model.Recurring,
		Deleted:       model.Deleted,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

func toPersistenceActivity(activity application.Activity) persistence.Activity {
	return persistence.Activity{
		ID:            activity.ID,
		IDNumber:      activity.IDNumber,
		Name:          activity.Name,
		Description:   activity.Description,
		Location:      activity.Location,
		Transport:     activity.Transport,
		Cost:          activity.Cost,
		ActivityType:  activity.ActivityType,
		Campus:        activity.Campus,
		TimeStart:     activity.TimeStart,
		TimeEnd:       activity.TimeEnd,
		Creator:       activity.Creator,
		StaffInCharge: activity.StaffInCharge,
		Planners:      append([]string(nil), activity.Planners...),
		AssessmentID:  optional(activity.AssessmentID),
		Status:        int(activity.Status),
		StepName:      activity.StepName,
		Recurring:     activity.Recurring,
		Deleted:       activity.Deleted,
		CreatedAt:     activity.CreatedAt,
		UpdatedAt:     activity.UpdatedAt,
	}
}

func toApplicationApproval(model persistence.Approval) application.Approval {
	return application.Approval{
		ID:          model.ID,
		ActivityID:  model.ActivityID,
		Type:        model.Type,
		Description: model.Description,
		Sequence:    model.Sequence,
		Status:      workflow.ApprovalStatus(model.Status),
		Username:    deref(model.Username),
		Nominated:   deref(model.Nominated),
		Skip:        model.Skip,
		Invalidated: model.Invalidated,
		ActionedAt:  cloneTime(model.ActionedAt),
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

func toPersistenceApproval(approval application.Approval) persistence.Approval {
	return persistence.Approval{
		ID:          approval.ID,
		ActivityID:  approval.ActivityID,
		Type:        approval.Type,
		Description: approval.Description,
		Sequence:    approval.Sequence,
		Status:      int(approval.Status),
		Username:    optional(approval.Username),
		Nominated:   optional(approval.Nominated),
		Skip:        approval.Skip,
		Invalidated: approval.Invalidated,
		ActionedAt:  cloneTime(approval.ActionedAt),
		CreatedAt:   approval.CreatedAt,
		UpdatedAt:   approval.UpdatedAt,
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}
