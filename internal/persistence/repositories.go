package persistence

import (
	"context"
	"time"
)

// UserRepository exposes lookups for staff accounts.
type UserRepository interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, usernames []string) ([]User, error)
}

// ActivityFilter narrows activity listings.
type ActivityFilter struct {
	Statuses       []int
	Campus         string
	StartsAfter    *time.Time
	EndsBefore     *time.Time
	IncludeDeleted bool
}

// ActivityRepository stores activities and their planners.
type ActivityRepository interface {
	CreateActivity(ctx context.Context, activity Activity) error
	UpdateActivity(ctx context.Context, activity Activity) error
	UpdateActivityStatus(ctx context.Context, id string, status int, stepName string) error
	GetActivity(ctx context.Context, id string) (Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
}

// ApprovalRepository stores approval rows. There is no delete operation.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, approval Approval) error
	UpdateApproval(ctx context.Context, approval Approval) error
	GetApproval(ctx context.Context, id string) (Approval, error)
	ListApprovals(ctx context.Context, activityID string, includeInvalidated bool) ([]Approval, error)
	InvalidateApprovals(ctx context.Context, activityID string) error
}

// RecurrenceRepository stores recurrence rules and their expanded occurrences.
type RecurrenceRepository interface {
	UpsertRecurrence(ctx context.Context, record RecurrenceRecord) error
	GetRecurrence(ctx context.Context, activityID string) (RecurrenceRecord, error)
	DeleteRecurrence(ctx context.Context, activityID string) error
	ReplaceOccurrences(ctx context.Context, activityID string, occurrences []Occurrence) error
	ListOccurrences(ctx context.Context, activityID string) ([]Occurrence, error)
}

// Repositories groups the repositories that share one connection or transaction.
type Repositories interface {
	UserRepository
	ActivityRepository
	ApprovalRepository
	RecurrenceRepository
}
