package application

import (
	"context"

	"github.com/example/activity-planner/internal/recurrence"
)

// ActivityStore captures the activity persistence operations.
type ActivityStore interface {
	CreateActivity(ctx context.Context, activity Activity) error
	UpdateActivity(ctx context.Context, activity Activity) error
	UpdateActivityStatus(ctx context.Context, id string, status ActivityStatus, stepName string) error
	GetActivity(ctx context.Context, id string) (Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
}

// ApprovalStore captures the approval persistence operations. Rows are never
// deleted, only invalidated.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, approval Approval) error
	UpdateApproval(ctx context.Context, approval Approval) error
	ListApprovals(ctx context.Context, activityID string, includeInvalidated bool) ([]Approval, error)
	InvalidateApprovals(ctx context.Context, activityID string) error
}

// RecurrenceStore keeps recurrence rules and their expanded occurrences.
type RecurrenceStore interface {
	SaveRecurrence(ctx context.Context, activityID string, rule recurrence.Rule) error
	GetRecurrence(ctx context.Context, activityID string) (recurrence.Rule, error)
	DeleteRecurrence(ctx context.Context, activityID string) error
	ReplaceOccurrences(ctx context.Context, activityID string, occurrences []Occurrence) error
	ListOccurrences(ctx context.Context, activityID string) ([]Occurrence, error)
}

// UserDirectory resolves staff accounts.
type UserDirectory interface {
	GetUser(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, usernames []string) ([]User, error)
}

// Store groups the stores that share a connection or transaction.
type Store interface {
	ActivityStore
	ApprovalStore
	RecurrenceStore
	UserDirectory
}

// UnitOfWork runs fn inside a transaction, committing when fn returns nil.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// ApproverDirectory resolves the approvers of a directory-backed step for an
// activity's staff in charge. An error means the directory could not be
// consulted, which differs from an empty result.
type ApproverDirectory interface {
	ResolveApprovers(ctx context.Context, stepType, staffInCharge string) ([]string, error)
}

// Notifier delivers workflow notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}
