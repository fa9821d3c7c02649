package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/example/activity-planner/internal/recurrence"
	"github.com/example/activity-planner/internal/workflow"
)

// ActivityDependencies wires an ActivityService.
type ActivityDependencies struct {
	Store       Store
	UnitOfWork  UnitOfWork
	Workflow    *WorkflowService
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// ActivityService orchestrates validation, authorization and persistence for
// activities, and drives the approval workflow as they change.
type ActivityService struct {
	store       Store
	uow         UnitOfWork
	workflow    *WorkflowService
	validator   *inputValidator
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// ActivityResult is an activity together with its reconciled workflow.
type ActivityResult struct {
	Activity Activity
	Workflow WorkflowResult
}

// NewActivityService constructs an activity service with the provided dependencies.
func NewActivityService(deps ActivityDependencies) *ActivityService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ActivityService{
		store:       deps.Store,
		uow:         deps.UnitOfWork,
		workflow:    deps.Workflow,
		validator:   newInputValidator(),
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(deps.Logger),
	}
}

func (s *ActivityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ActivityService", operation, attrs...)
}

// CreateActivity validates input and stores a new activity owned by actor.
// Commercial activities and submitted ones start in review.
func (s *ActivityService) CreateActivity(ctx context.Context, actor Actor, input ActivityInput) (result ActivityResult, err error) {
	if s == nil {
		err = fmt.Errorf("ActivityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateActivity", "actor", actor.Username)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create activity", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("activity_id", result.Activity.ID).InfoContext(ctx, "activity created", "status", result.Activity.Status.String())
	}()

	if actor.Username == "" {
		err = ErrUnauthorized
		return
	}
	input = normalizeInput(input)
	if vErr := s.validator.structErrors(input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	activity := applyInput(Activity{
		ID:        s.idGenerator(),
		IDNumber:  s.idGenerator(),
		Creator:   actor.Username,
		CreatedAt: now,
		UpdatedAt: now,
	}, input)
	switch {
	case input.Submit || s.skipsDraft(input.ActivityType):
		activity.Status = s.reviewStatus(input.ActivityType)
	case input.Autosave:
		activity.Status = StatusAutosave
	default:
		activity.Status = StatusDraft
	}

	result, err = s.save(ctx, actor, nil, activity, func(ctx context.Context, store Store) error {
		return store.CreateActivity(ctx, activity)
	})
	return
}

// UpdateActivity applies input to an existing activity and regenerates its
// approvals when it is in review.
func (s *ActivityService) UpdateActivity(ctx context.Context, actor Actor, id string, input ActivityInput) (result ActivityResult, err error) {
	if s == nil {
		err = fmt.Errorf("ActivityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateActivity", "actor", actor.Username, "activity_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update activity", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "activity updated", "status", result.Activity.Status.String())
	}()

	unlock := s.lock(id)
	defer unlock()

	var original Activity
	original, err = s.editable(ctx, actor, id)
	if err != nil {
		return
	}
	if original.Status == StatusCancelled {
		err = ErrInvalidTransition
		return
	}

	input = normalizeInput(input)
	if vErr := s.validator.structErrors(input); vErr.HasErrors() {
		err = vErr
		return
	}

	updated := applyInput(original, input)
	updated.UpdatedAt = s.now()
	switch original.Status {
	case StatusAutosave, StatusDraft:
		switch {
		case input.Submit || s.skipsDraft(input.ActivityType):
			updated.Status = s.reviewStatus(input.ActivityType)
		case input.Autosave && original.Status == StatusAutosave:
			updated.Status = StatusAutosave
		default:
			updated.Status = StatusDraft
		}
	case StatusInReview, StatusApproved:
		// Moving to a type without sign-off retires the pipeline.
		exempt := s.reviewStatus(updated.ActivityType) == StatusApproved
		if exempt {
			updated.Status = StatusApproved
			updated.StepName = ""
		}
		result, err = s.save(ctx, actor, &original, updated, func(ctx context.Context, store Store) error {
			if exempt {
				if err := store.InvalidateApprovals(ctx, id); err != nil {
					return err
				}
			}
			return store.UpdateActivity(ctx, updated)
		})
		return
	}

	result, err = s.save(ctx, actor, &original, updated, func(ctx context.Context, store Store) error {
		return store.UpdateActivity(ctx, updated)
	})
	return
}

// GetActivity returns a live activity.
func (s *ActivityService) GetActivity(ctx context.Context, actor Actor, id string) (Activity, error) {
	if s == nil {
		return Activity{}, fmt.Errorf("ActivityService is nil")
	}
	if actor.Username == "" {
		return Activity{}, ErrUnauthorized
	}
	return s.load(ctx, s.store, id)
}

// ListActivities returns live activities matching filter, ordered by start time.
func (s *ActivityService) ListActivities(ctx context.Context, actor Actor, filter ActivityFilter) (activities []Activity, err error) {
	if s == nil {
		err = fmt.Errorf("ActivityService is nil")
		return
	}
	if actor.Username == "" {
		err = ErrUnauthorized
		return
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		err = &ValidationError{FieldErrors: map[string]string{"to": "to must not be before from"}}
		return
	}
	if s.store == nil {
		return nil, nil
	}

	activities, err = s.store.ListActivities(ctx, filter)
	if err != nil {
		err = mapRepoError(err)
		s.loggerWith(ctx, "ListActivities", "actor", actor.Username).ErrorContext(ctx, "failed to list activities", "error", err)
	}
	return
}

// DeleteActivity soft-deletes an activity and frees its identifier number.
func (s *ActivityService) DeleteActivity(ctx context.Context, actor Actor, id string) (err error) {
	if s == nil {
		return fmt.Errorf("ActivityService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteActivity", "actor", actor.Username, "activity_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete activity", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "activity deleted")
	}()

	unlock := s.lock(id)
	defer unlock()

	var activity Activity
	activity, err = s.editable(ctx, actor, id)
	if err != nil {
		return
	}

	activity.Deleted = true
	activity.IDNumber = s.idGenerator()
	activity.UpdatedAt = s.now()
	return mapRepoError(s.uow.WithinTx(ctx, func(ctx context.Context, store Store) error {
		return store.UpdateActivity(ctx, activity)
	}))
}

// SubmitForReview moves a draft into review. Submitting an approved activity
// reopens it with a fresh pipeline.
func (s *ActivityService) SubmitForReview(ctx context.Context, actor Actor, id string) (ActivityResult, error) {
	return s.transition(ctx, "SubmitForReview", actor, id, func(original Activity) (Activity, bool, error) {
		switch original.Status {
		case StatusAutosave, StatusDraft:
			updated := original
			updated.Status = s.reviewStatus(original.ActivityType)
			return updated, false, nil
		case StatusApproved:
			if s.reviewStatus(original.ActivityType) == StatusApproved {
				return original, false, nil
			}
			updated := original
			updated.Status = StatusInReview
			return updated, true, nil
		case StatusInReview:
			return original, false, nil
		}
		return Activity{}, false, ErrInvalidTransition
	})
}

// RevertToDraft returns an activity to draft and invalidates every step.
func (s *ActivityService) RevertToDraft(ctx context.Context, actor Actor, id string) (ActivityResult, error) {
	return s.transition(ctx, "RevertToDraft", actor, id, func(original Activity) (Activity, bool, error) {
		updated := original
		updated.Status = StatusDraft
		updated.StepName = ""
		return updated, true, nil
	})
}

// CancelActivity marks an activity cancelled. Its steps are kept for audit.
func (s *ActivityService) CancelActivity(ctx context.Context, actor Actor, id string) (ActivityResult, error) {
	return s.transition(ctx, "CancelActivity", actor, id, func(original Activity) (Activity, bool, error) {
		if original.Status == StatusCancelled {
			return Activity{}, false, ErrInvalidTransition
		}
		updated := original
		updated.Status = StatusCancelled
		updated.StepName = ""
		return updated, false, nil
	})
}

// SetRecurrence stores rule and replaces the activity's occurrences with its
// expansion. A nil rule clears recurrence.
func (s *ActivityService) SetRecurrence(ctx context.Context, actor Actor, id string, rule *recurrence.Rule) (occurrences []Occurrence, err error) {
	if s == nil {
		err = fmt.Errorf("ActivityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SetRecurrence", "actor", actor.Username, "activity_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to set recurrence", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "recurrence updated", "occurrences", len(occurrences))
	}()

	unlock := s.lock(id)
	defer unlock()

	var activity Activity
	activity, err = s.editable(ctx, actor, id)
	if err != nil {
		return
	}

	if rule != nil {
		loc := time.Local
		if s.workflow != nil {
			loc = s.workflow.loc
		}
		var expansion recurrence.Expansion
		expansion, err = recurrence.Expand(*rule, activity.TimeStart.In(loc), activity.TimeEnd.In(loc))
		if err != nil {
			if errors.Is(err, recurrence.ErrInvalidRule) {
				err = &ValidationError{FieldErrors: map[string]string{"recurrence": err.Error()}}
			}
			return
		}
		for _, occ := range expansion.Occurrences {
			occurrences = append(occurrences, Occurrence{ID: s.idGenerator(), Start: occ.Start, End: occ.End})
		}
	}

	activity.Recurring = rule != nil
	activity.UpdatedAt = s.now()
	err = s.uow.WithinTx(ctx, func(ctx context.Context, store Store) error {
		if rule == nil {
			if err := store.DeleteRecurrence(ctx, id); err != nil && !errors.Is(mapRepoError(err), ErrNotFound) {
				return err
			}
		} else {
			if err := store.SaveRecurrence(ctx, id, *rule); err != nil {
				return err
			}
			if err := store.ReplaceOccurrences(ctx, id, occurrences); err != nil {
				return err
			}
		}
		return store.UpdateActivity(ctx, activity)
	})
	if err != nil {
		err = mapRepoError(err)
		occurrences = nil
	}
	return
}

// ListOccurrences returns the stored occurrences of an activity.
func (s *ActivityService) ListOccurrences(ctx context.Context, actor Actor, id string) ([]Occurrence, error) {
	if s == nil {
		return nil, fmt.Errorf("ActivityService is nil")
	}
	if _, err := s.GetActivity(ctx, actor, id); err != nil {
		return nil, err
	}
	occurrences, err := s.store.ListOccurrences(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return occurrences, nil
}

// save persists an activity and regenerates its workflow in one transaction.
func (s *ActivityService) save(ctx context.Context, actor Actor, original *Activity, updated Activity, write func(context.Context, Store) error) (ActivityResult, error) {
	previous := StatusDraft
	if original != nil {
		previous = original.Status
	}
	return s.commit(ctx, actor, updated, func(ctx context.Context, store Store, wf *WorkflowService, resolved map[string]workflow.Resolution) (WorkflowResult, []Notification, error) {
		if err := write(ctx, store); err != nil {
			return WorkflowResult{}, nil, err
		}
		if wf == nil {
			return WorkflowResult{Status: updated.Status, StepName: updated.StepName}, nil, nil
		}
		return wf.generate(ctx, store, generation{
			actor:    actor,
			original: original,
			updated:  updated,
			previous: previous,
			resolved: resolved,
		})
	})
}

type transitionFunc func(original Activity) (updated Activity, invalidate bool, err error)

// transition applies a status change requested by actor.
func (s *ActivityService) transition(ctx context.Context, operation string, actor Actor, id string, fn transitionFunc) (result ActivityResult, err error) {
	if s == nil {
		err = fmt.Errorf("ActivityService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation, "actor", actor.Username, "activity_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to change activity status", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "activity status changed", "status", result.Activity.Status.String())
	}()

	unlock := s.lock(id)
	defer unlock()

	var original Activity
	original, err = s.editable(ctx, actor, id)
	if err != nil {
		return
	}

	updated, invalidate, err := fn(original)
	if err != nil {
		return
	}
	updated.UpdatedAt = s.now()

	// Generation diffs against base. A reopened pipeline starts from scratch,
	// so base is treated as a draft.
	base := original
	if invalidate {
		base.Status = StatusDraft
	}

	result, err = s.commit(ctx, actor, updated, func(ctx context.Context, store Store, wf *WorkflowService, resolved map[string]workflow.Resolution) (WorkflowResult, []Notification, error) {
		if invalidate {
			if err := store.InvalidateApprovals(ctx, id); err != nil {
				return WorkflowResult{}, nil, err
			}
		}
		if err := store.UpdateActivity(ctx, updated); err != nil {
			return WorkflowResult{}, nil, err
		}
		if wf == nil {
			return WorkflowResult{Status: updated.Status, StepName: updated.StepName}, nil, nil
		}

		res, notes, err := wf.generate(ctx, store, generation{
			actor:    actor,
			original: &base,
			updated:  updated,
			previous: original.Status,
			resolved: resolved,
		})
		if err != nil {
			return WorkflowResult{}, nil, err
		}
		if !wf.eligible(updated) && updated.Status != original.Status && updated.Status != StatusCancelled {
			more, err := wf.buildNotifications(ctx, store, updated, workflow.KindStatusChanged,
				[]recipientSpec{{usernames: []string{updated.Creator}}}, "", actor.Username, nil)
			if err != nil {
				return WorkflowResult{}, nil, err
			}
			notes = append(notes, more...)
		}
		return res, notes, nil
	})
	return
}

type commitFunc func(ctx context.Context, store Store, wf *WorkflowService, resolved map[string]workflow.Resolution) (WorkflowResult, []Notification, error)

// commit resolves directory approvers for activity when its workflow is live,
// runs fn in a transaction and delivers notifications once it commits.
func (s *ActivityService) commit(ctx context.Context, actor Actor, activity Activity, fn commitFunc) (ActivityResult, error) {
	wf := s.workflow
	var resolved map[string]workflow.Resolution
	logger := s.loggerWith(ctx, "commit", "actor", actor.Username, "activity_id", activity.ID)
	if wf != nil && wf.eligible(activity) {
		resolved = wf.resolve(ctx, logger, wf.attributes(activity))
	}

	var (
		result WorkflowResult
		notes  []Notification
	)
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store Store) error {
		var txErr error
		result, notes, txErr = fn(ctx, store, wf, resolved)
		return txErr
	})
	if err != nil {
		return ActivityResult{}, mapRepoError(err)
	}

	if wf != nil {
		wf.dispatch(ctx, logger, notes)
	}
	activity.Status = result.Status
	activity.StepName = result.StepName
	return ActivityResult{Activity: activity, Workflow: result}, nil
}

// lock serialises changes to one activity with the workflow engine.
func (s *ActivityService) lock(id string) func() {
	if s.workflow == nil {
		return func() {}
	}
	return s.workflow.locks.lock(id)
}

// reviewStatus is the status a submitted activity of activityType enters.
// Types outside the approval process need no sign-off.
func (s *ActivityService) skipsDraft(activityType string) bool {
	return s.workflow != nil && s.workflow.config.SkipsDraft(activityType)
}

func (s *ActivityService) reviewStatus(activityType string) ActivityStatus {
	if s.workflow != nil && !s.workflow.config.RequiresApproval(activityType) {
		return StatusApproved
	}
	return StatusInReview
}

func (s *ActivityService) load(ctx context.Context, store ActivityStore, id string) (Activity, error) {
	if store == nil {
		return Activity{}, fmt.Errorf("activity store not configured")
	}
	activity, err := store.GetActivity(ctx, id)
	if err != nil {
		return Activity{}, mapRepoError(err)
	}
	if activity.Deleted {
		return Activity{}, ErrNotFound
	}
	return activity, nil
}

// editable loads an activity and checks that actor may change it.
func (s *ActivityService) editable(ctx context.Context, actor Actor, id string) (Activity, error) {
	activity, err := s.load(ctx, s.store, id)
	if err != nil {
		return Activity{}, err
	}
	if !activity.CanEdit(actor) {
		return Activity{}, ErrUnauthorized
	}
	return activity, nil
}

func normalizeInput(input ActivityInput) ActivityInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Location = strings.TrimSpace(input.Location)
	input.Transport = strings.TrimSpace(input.Transport)
	input.Cost = strings.TrimSpace(input.Cost)
	input.ActivityType = strings.ToLower(strings.TrimSpace(input.ActivityType))
	input.Campus = strings.ToLower(strings.TrimSpace(input.Campus))
	input.StaffInCharge = strings.TrimSpace(input.StaffInCharge)
	input.AssessmentID = strings.TrimSpace(input.AssessmentID)

	planners := make([]string, 0, len(input.Planners))
	for _, p := range input.Planners {
		if p = strings.TrimSpace(p); p != "" && !slices.Contains(planners, p) {
			planners = append(planners, p)
		}
	}
	input.Planners = planners
	return input
}

func applyInput(activity Activity, input ActivityInput) Activity {
	activity.Name = input.Name
	activity.Description = input.Description
	activity.Location = input.Location
	activity.Transport = input.Transport
	activity.Cost = input.Cost
	activity.ActivityType = input.ActivityType
	activity.Campus = input.Campus
	activity.TimeStart = input.TimeStart
	activity.TimeEnd = input.TimeEnd
	activity.StaffInCharge = input.StaffInCharge
	activity.Planners = input.Planners
	activity.AssessmentID = input.AssessmentID
	return activity
}

// ResolveActor looks up the acting user by username. Unknown users are
// unauthorized.
func (s *ActivityService) ResolveActor(ctx context.Context, username string) (Actor, error) {
	if s == nil || s.store == nil {
		return Actor{}, fmt.Errorf("ActivityService is nil")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Actor{}, ErrUnauthorized
	}
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		if err = mapRepoError(err); errors.Is(err, ErrNotFound) {
			return Actor{}, ErrUnauthorized
		}
		return Actor{}, err
	}
	return Actor{Username: user.Username, IsAdmin: user.IsAdmin}, nil
}
