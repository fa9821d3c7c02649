package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/example/activity-planner/internal/workflow"
)

// WorkflowDependencies wires a WorkflowService.
type WorkflowDependencies struct {
	Store      Store
	UnitOfWork UnitOfWork
	Config     workflow.Config
	Directory  ApproverDirectory
	Notifier   Notifier
	// Location is the school's local time zone, used for overnight checks.
	Location    *time.Location
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// WorkflowService instantiates and reconciles approval pipelines.
type WorkflowService struct {
	store       Store
	uow         UnitOfWork
	config      workflow.Config
	directory   ApproverDirectory
	notifier    Notifier
	loc         *time.Location
	locks       *keyedMutex
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewWorkflowService constructs a workflow service with the provided dependencies.
func NewWorkflowService(deps WorkflowDependencies) *WorkflowService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &WorkflowService{
		store:       deps.Store,
		uow:         deps.UnitOfWork,
		config:      deps.Config,
		directory:   deps.Directory,
		notifier:    deps.Notifier,
		loc:         deps.Location,
		locks:       newKeyedMutex(),
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(deps.Logger),
	}
}

func (s *WorkflowService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "WorkflowService", operation, attrs...)
}

// GenerateApprovals brings the approval steps of updated in line with its
// current attributes. A nil original means the activity is new.
func (s *WorkflowService) GenerateApprovals(ctx context.Context, actor Actor, original *Activity, updated Activity) (result WorkflowResult, err error) {
	if s == nil {
		err = fmt.Errorf("WorkflowService is nil")
		return
	}

	logger := s.loggerWith(ctx, "GenerateApprovals", "activity_id", updated.ID, "actor", actor.Username)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to generate approvals", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "approvals generated", "status", result.Status.String(), "steps", len(result.Workflow))
	}()

	subject := updated
	previous := StatusDraft
	if original != nil {
		subject = *original
		previous = original.Status
	}
	if !subject.CanEdit(actor) {
		err = ErrUnauthorized
		return
	}

	unlock := s.locks.lock(updated.ID)
	defer unlock()

	resolved := s.resolve(ctx, logger, s.attributes(updated))

	var notes []Notification
	err = s.uow.WithinTx(ctx, func(ctx context.Context, store Store) error {
		var txErr error
		result, notes, txErr = s.generate(ctx, store, generation{
			actor:    actor,
			original: original,
			updated:  updated,
			previous: previous,
			resolved: resolved,
		})
		return txErr
	})
	if err != nil {
		err = mapRepoError(err)
		return
	}

	s.dispatch(ctx, logger, notes)
	return
}

// CheckStatus recomputes the activity status from its active steps.
func (s *WorkflowService) CheckStatus(ctx context.Context, activityID string, opts CheckOptions) (result WorkflowResult, err error) {
	if s == nil {
		err = fmt.Errorf("WorkflowService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckStatus", "activity_id", activityID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check status", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "status checked", "status", result.Status.String())
	}()

	unlock := s.locks.lock(activityID)
	defer unlock()

	var activity Activity
	activity, err = s.loadActivity(ctx, s.store, activityID)
	if err != nil {
		return
	}
	resolved := s.resolve(ctx, logger, s.attributes(activity))

	var notes []Notification
	err = s.uow.WithinTx(ctx, func(ctx context.Context, store Store) error {
		current, txErr := s.loadActivity(ctx, store, activityID)
		if txErr != nil {
			return txErr
		}
		_, defs := s.pipeline(s.attributes(current), resolved)
		result, notes, txErr = s.reconcile(ctx, store, current, reconcileInput{
			previous: current.Status,
			defs:     defs,
			options:  opts,
		})
		return txErr
	})
	if err != nil {
		err = mapRepoError(err)
		return
	}

	s.dispatch(ctx, logger, notes)
	return
}

// SaveApproval records an approver's decision on one step.
func (s *WorkflowService) SaveApproval(ctx context.Context, actor Actor, activityID, approvalID string, status workflow.ApprovalStatus) (WorkflowResult, error) {
	if status < workflow.StatusUnapproved || status > workflow.StatusRejected {
		return WorkflowResult{}, &ValidationError{FieldErrors: map[string]string{"status": "status must be approved, rejected or unapproved"}}
	}

	return s.action(ctx, "SaveApproval", actor, activityID, approvalID, func(act *stepAction) error {
		if !s.canApprove(act.actor, act.approval, act.def, act.states) {
			return ErrUnauthorized
		}

		now := s.now()
		act.approval.Status = status
		act.approval.Skip = false
		act.approval.UpdatedAt = now
		if status == workflow.StatusUnapproved {
			act.approval.Username = ""
			act.approval.ActionedAt = nil
		} else {
			act.approval.Username = act.actor.Username
			act.approval.ActionedAt = &now
		}
		if status == workflow.StatusRejected {
			act.follow = append(act.follow, followUp{kind: workflow.KindApprovalRejected, usernames: []string{act.activity.Creator}})
		}
		return nil
	})
}

// SaveSkip marks a skippable step as skipped, or clears the mark.
func (s *WorkflowService) SaveSkip(ctx context.Context, actor Actor, activityID, approvalID string, skip bool) (WorkflowResult, error) {
	return s.action(ctx, "SaveSkip", actor, activityID, approvalID, func(act *stepAction) error {
		if !act.def.CanSkip {
			return ErrInvalidTransition
		}
		if !s.isApprover(act.actor, act.approval, act.def) {
			return ErrUnauthorized
		}

		now := s.now()
		act.approval.Skip = skip
		act.approval.UpdatedAt = now
		if skip {
			act.approval.Username = act.actor.Username
			act.approval.ActionedAt = &now
		}
		return nil
	})
}

// NominateApprover names the single approver of a selectable step.
func (s *WorkflowService) NominateApprover(ctx context.Context, actor Actor, activityID, approvalID, username string) (WorkflowResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return WorkflowResult{}, &ValidationError{FieldErrors: map[string]string{"username": "username is required"}}
	}

	return s.action(ctx, "NominateApprover", actor, activityID, approvalID, func(act *stepAction) error {
		if !act.def.Selectable {
			return ErrInvalidTransition
		}
		if act.approval.Status != workflow.StatusUnapproved || act.approval.Skip {
			return ErrInvalidTransition
		}
		if !s.canNominate(act.actor, act.activity, act.def, act.states) {
			return ErrUnauthorized
		}

		nominee, ok := poolMember(act.def, username)
		if !ok {
			return &ValidationError{FieldErrors: map[string]string{"username": "username is not an approver for this step"}}
		}

		act.approval.Nominated = nominee.Username
		act.approval.UpdatedAt = s.now()
		if workflow.PrerequisitesMet(act.def, act.states) && nominee.Receives(workflow.KindApproverNominated) {
			act.follow = append(act.follow, followUp{
				kind:      workflow.KindApproverNominated,
				usernames: []string{nominee.Username},
				contacts:  nominee.Contacts,
				stepName:  act.approval.Description,
			})
		}
		return nil
	})
}

// GetWorkflow lists the active steps decorated for the viewing actor.
func (s *WorkflowService) GetWorkflow(ctx context.Context, actor Actor, activityID string) (views []ApprovalView, err error) {
	if s == nil {
		err = fmt.Errorf("WorkflowService is nil")
		return
	}

	logger := s.loggerWith(ctx, "GetWorkflow", "activity_id", activityID, "actor", actor.Username)

	var activity Activity
	activity, err = s.loadActivity(ctx, s.store, activityID)
	if err != nil {
		logger.WarnContext(ctx, "failed to load activity", "error", err, "error_kind", ErrorKind(err))
		return
	}

	var approvals []Approval
	approvals, err = s.store.ListApprovals(ctx, activityID, false)
	if err != nil {
		err = mapRepoError(err)
		logger.ErrorContext(ctx, "failed to list approvals", "error", err)
		return
	}

	attrs := s.attributes(activity)
	_, defs := s.pipeline(attrs, s.resolve(ctx, logger, attrs))
	states := statesOf(approvals)
	open := s.eligible(activity) && (activity.Status == StatusInReview || activity.Status == StatusApproved)

	var pool []string
	for _, a := range approvals {
		def, _ := s.stepDefinition(defs, a.Type)
		for _, ap := range def.Approvers {
			pool = append(pool, ap.Username)
		}
	}
	users, uerr := s.usersByName(ctx, s.store, pool)
	if uerr != nil {
		logger.WarnContext(ctx, "failed to load approver names", "error", uerr)
	}

	views = make([]ApprovalView, 0, len(approvals))
	for _, a := range approvals {
		def, _ := s.stepDefinition(defs, a.Type)
		pending := a.Status == workflow.StatusUnapproved && !a.Skip
		isApprover := s.isApprover(actor, a, def)

		view := ApprovalView{
			Approval:      a,
			Name:          def.Name,
			SelectableBy:  def.SelectableBy,
			IsApprover:    isApprover,
			CanApprove:    open && s.canApprove(actor, a, def, states),
			CanSkip:       open && def.CanSkip && isApprover,
			Selectable:    open && def.Selectable && pending && s.canNominate(actor, activity, def, states),
			Grandfathered: s.config.Grandfathered(a.Type, activity.CreatedAt),
		}
		if view.Name == "" {
			view.Name = a.Description
		}
		for _, ap := range def.Approvers {
			name := ap.Username
			if u, ok := users[strings.ToLower(ap.Username)]; ok {
				name = u.FullName()
			}
			view.Approvers = append(view.Approvers, ApproverView{Username: ap.Username, FullName: name})
		}
		views = append(views, view)
	}
	return views, nil
}

// stepAction carries the state loaded for a single-step mutation.
type stepAction struct {
	actor    Actor
	activity Activity
	approval Approval
	def      workflow.StepDefinition
	states   []workflow.StepState
	follow   []followUp
}

type followUp struct {
	kind      workflow.Kind
	usernames []string
	contacts  []string
	stepName  string
}

// action loads one active step, applies mutate and reconciles the activity
// inside a single transaction.
func (s *WorkflowService) action(ctx context.Context, operation string, actor Actor, activityID, approvalID string, mutate func(*stepAction) error) (result WorkflowResult, err error) {
	if s == nil {
		err = fmt.Errorf("WorkflowService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation,
		"activity_id", activityID,
		"approval_id", approvalID,
		"actor", actor.Username,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "workflow action failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "workflow action applied", "status", result.Status.String(), "step_name", result.StepName)
	}()

	unlock := s.locks.lock(activityID)
	defer unlock()

	var activity Activity
	activity, err = s.loadActivity(ctx, s.store, activityID)
	if err != nil {
		return
	}
	resolved := s.resolve(ctx, logger, s.attributes(activity))

	var notes []Notification
	err = s.uow.WithinTx(ctx, func(ctx context.Context, store Store) error {
		current, txErr := s.loadActivity(ctx, store, activityID)
		if txErr != nil {
			return txErr
		}
		if !s.eligible(current) || (current.Status != StatusInReview && current.Status != StatusApproved) {
			return ErrInvalidTransition
		}

		approvals, txErr := store.ListApprovals(ctx, activityID, false)
		if txErr != nil {
			return txErr
		}
		idx := indexOfApproval(approvals, approvalID)
		if idx < 0 {
			return ErrNotFound
		}

		_, defs := s.pipeline(s.attributes(current), resolved)
		def, ok := s.stepDefinition(defs, approvals[idx].Type)
		if !ok {
			return ErrInvalidTransition
		}

		act := &stepAction{
			actor:    actor,
			activity: current,
			approval: approvals[idx],
			def:      def,
			states:   statesOf(approvals),
		}
		before := s.actionableIDs(current, approvals)
		if txErr = mutate(act); txErr != nil {
			return txErr
		}
		if txErr = store.UpdateApproval(ctx, act.approval); txErr != nil {
			return txErr
		}

		result, notes, txErr = s.reconcile(ctx, store, current, reconcileInput{
			previous:         current.Status,
			defs:             defs,
			options:          CheckOptions{SendEmails: true},
			actor:            actor.Username,
			actionableBefore: before,
		})
		if txErr != nil {
			return txErr
		}

		current.Status = result.Status
		current.StepName = result.StepName
		for _, f := range act.follow {
			stepName := f.stepName
			if stepName == "" {
				stepName = act.approval.Description
			}
			more, txErr := s.buildNotifications(ctx, store, current, f.kind, []recipientSpec{{usernames: f.usernames, contacts: f.contacts}}, stepName, actor.Username, nil)
			if txErr != nil {
				return txErr
			}
			notes = append(notes, more...)
		}
		return nil
	})
	if err != nil {
		err = mapRepoError(err)
		return
	}

	s.dispatch(ctx, logger, notes)
	return
}

// generation is the input of one pipeline regeneration.
type generation struct {
	actor    Actor
	original *Activity
	updated  Activity
	previous ActivityStatus
	resolved map[string]workflow.Resolution
	bcc      []string
}

// generate invalidates edited and stale steps, inserts missing ones and
// reconciles the activity status. It must run inside a transaction.
func (s *WorkflowService) generate(ctx context.Context, store Store, in generation) (WorkflowResult, []Notification, error) {
	activity := in.updated
	pipeline, defs := s.pipeline(s.attributes(activity), in.resolved)

	if !s.eligible(activity) {
		return s.reconcile(ctx, store, activity, reconcileInput{previous: in.previous, defs: defs})
	}

	approvals, err := store.ListApprovals(ctx, activity.ID, false)
	if err != nil {
		return WorkflowResult{}, nil, err
	}

	var changes []FieldChange
	if in.original != nil {
		changes = diffActivities(*in.original, activity)
	}
	changed := changedFieldNames(changes)
	now := s.now()

	active := make(map[string]*Approval, len(approvals))
	for i := range approvals {
		a := &approvals[i]
		def, known := s.stepDefinition(defs, a.Type)
		edited := known && actioned(*a) && workflow.Intersects(def.InvalidatedOnEdit, changed)
		if pipeline.Contains(a.Type) && !edited {
			active[a.Type] = a
			continue
		}
		a.Invalidated = true
		a.UpdatedAt = now
		if err := store.UpdateApproval(ctx, *a); err != nil {
			return WorkflowResult{}, nil, err
		}
	}

	progressed := false
	// Sequences follow the chain so kept deferred rows hold their place.
	sequence := 0
	types := pipeline.Types()
	for _, step := range s.config.Chain(s.attributes(activity)) {
		existing, kept := active[step.Type]
		if !kept && !slices.Contains(types, step.Type) {
			continue
		}
		sequence++
		if kept {
			if existing.Sequence != sequence {
				existing.Sequence = sequence
				existing.UpdatedAt = now
				if err := store.UpdateApproval(ctx, *existing); err != nil {
					return WorkflowResult{}, nil, err
				}
			}
			continue
		}

		approval := Approval{
			ID:          s.idGenerator(),
			ActivityID:  activity.ID,
			Type:        step.Type,
			Description: step.Name,
			Sequence:    sequence,
			Status:      workflow.StatusUnapproved,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateApproval(ctx, approval); err != nil {
			return WorkflowResult{}, nil, err
		}
		progressed = true
	}

	return s.reconcile(ctx, store, activity, reconcileInput{
		previous: in.previous,
		defs:     defs,
		options: CheckOptions{
			ChangedFields: changed,
			Progressed:    progressed,
			Bcc:           in.bcc,
			SendEmails:    true,
		},
		changes: changes,
		actor:   in.actor.Username,
	})
}

type reconcileInput struct {
	previous ActivityStatus
	defs     map[string]workflow.StepDefinition
	options  CheckOptions
	changes  []FieldChange
	actor    string
	// actionableBefore holds the steps that were already actionable before a
	// single-step mutation. Only steps outside it are announced.
	actionableBefore map[string]bool
}

// reconcile derives the activity status from the active steps, persists it
// when it changed and plans the resulting notifications.
func (s *WorkflowService) reconcile(ctx context.Context, store Store, activity Activity, in reconcileInput) (WorkflowResult, []Notification, error) {
	approvals, err := store.ListApprovals(ctx, activity.ID, false)
	if err != nil {
		return WorkflowResult{}, nil, err
	}
	if !s.eligible(activity) {
		return WorkflowResult{Status: activity.Status, StepName: activity.StepName, Workflow: approvals}, nil, nil
	}

	status := StatusApproved
	stepName := ""
	for _, a := range approvals {
		if !a.state().Pending() || s.config.Grandfathered(a.Type, activity.CreatedAt) {
			continue
		}
		status = StatusInReview
		stepName = a.Description
		break
	}

	if status != activity.Status || stepName != activity.StepName {
		if err := store.UpdateActivityStatus(ctx, activity.ID, status, stepName); err != nil {
			return WorkflowResult{}, nil, err
		}
	}

	result := WorkflowResult{Status: status, StepName: stepName, Workflow: approvals}
	if !in.options.SendEmails {
		return result, nil, nil
	}

	activity.Status = status
	activity.StepName = stepName
	notes, err := s.plan(ctx, store, activity, approvals, in)
	if err != nil {
		return WorkflowResult{}, nil, err
	}
	return result, notes, nil
}

// plan lists the notifications a reconciliation triggers.
func (s *WorkflowService) plan(ctx context.Context, store Store, activity Activity, approvals []Approval, in reconcileInput) ([]Notification, error) {
	var notes []Notification
	add := func(kind workflow.Kind, specs []recipientSpec, stepName string, changes []FieldChange) error {
		more, err := s.buildNotifications(ctx, store, activity, kind, specs, stepName, in.actor, changes)
		if err != nil {
			return err
		}
		for i := range more {
			more[i].Bcc = in.options.Bcc
		}
		notes = append(notes, more...)
		return nil
	}

	status := activity.Status
	if status == StatusInReview {
		announceAll := in.previous != StatusInReview || in.options.Progressed
		for _, a := range s.actionable(activity, approvals) {
			if !announceAll && (in.actionableBefore == nil || in.actionableBefore[a.ID]) {
				continue
			}
			def, _ := s.stepDefinition(in.defs, a.Type)
			spec := stepRecipients(a, def, workflow.KindApprovalRequired)
			if len(spec) == 0 {
				continue
			}
			if err := add(workflow.KindApprovalRequired, spec, a.Description, nil); err != nil {
				return nil, err
			}
		}
	}

	if status != in.previous && status != StatusApproved {
		if err := add(workflow.KindStatusChanged, []recipientSpec{{usernames: []string{activity.Creator}}}, activity.StepName, nil); err != nil {
			return nil, err
		}
	}

	audience := []recipientSpec{{usernames: audienceOf(activity, approvals)}}
	if status == StatusApproved && in.previous != StatusApproved {
		if err := add(workflow.KindActivityApproved, audience, "", nil); err != nil {
			return nil, err
		}
	}

	if in.previous == StatusApproved && len(in.options.ChangedFields) > 0 {
		changes := in.changes
		if len(changes) == 0 {
			for _, field := range in.options.ChangedFields {
				changes = append(changes, FieldChange{Field: field})
			}
		}
		if err := add(workflow.KindApprovedActivityChanged, audience, "", changes); err != nil {
			return nil, err
		}
	}

	return notes, nil
}

type recipientSpec struct {
	usernames []string
	// contacts replace the user's own address when set.
	contacts []string
}

func (s *WorkflowService) buildNotifications(ctx context.Context, store Store, activity Activity, kind workflow.Kind, specs []recipientSpec, stepName, actor string, changes []FieldChange) ([]Notification, error) {
	var names []string
	for _, spec := range specs {
		names = append(names, spec.usernames...)
	}
	users, err := s.usersByName(ctx, store, names)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var notes []Notification
	for _, spec := range specs {
		for _, username := range spec.usernames {
			key := strings.ToLower(strings.TrimSpace(username))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			recipient := Recipient{Username: username, Name: username}
			if u, ok := users[key]; ok {
				recipient.Name = u.FullName()
				if u.Email != "" {
					recipient.Emails = []string{u.Email}
				}
			}
			if len(spec.contacts) > 0 {
				recipient.Emails = append([]string(nil), spec.contacts...)
			}
			notes = append(notes, Notification{
				Kind:      kind,
				Recipient: recipient,
				Activity:  activity,
				StepName:  stepName,
				Actor:     actor,
				Changes:   changes,
			})
		}
	}
	return notes, nil
}

func (s *WorkflowService) usersByName(ctx context.Context, store UserDirectory, usernames []string) (map[string]User, error) {
	out := map[string]User{}
	if store == nil || len(usernames) == 0 {
		return out, nil
	}
	users, err := store.ListUsers(ctx, dedupeFold(usernames))
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[strings.ToLower(u.Username)] = u
	}
	return out, nil
}

// dispatch delivers notifications once the transaction has committed.
// Delivery failures are logged and never surface to the caller.
func (s *WorkflowService) dispatch(ctx context.Context, logger *slog.Logger, notes []Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := s.notifier.Notify(ctx, n); err != nil {
			logger.WarnContext(ctx, "failed to deliver notification",
				"kind", string(n.Kind),
				"recipient", n.Recipient.Username,
				"error", err,
			)
		}
	}
}

// resolve consults the approver directory for the directory-backed steps of
// attrs. Failures leave the step unknown.
func (s *WorkflowService) resolve(ctx context.Context, logger *slog.Logger, attrs workflow.Attributes) map[string]workflow.Resolution {
	steps := s.config.DirectorySteps(attrs)
	if len(steps) == 0 {
		return nil
	}

	out := make(map[string]workflow.Resolution, len(steps))
	for _, step := range steps {
		if s.directory == nil {
			out[step] = workflow.Resolution{}
			continue
		}
		usernames, err := s.directory.ResolveApprovers(ctx, step, attrs.StaffInCharge)
		if err != nil {
			logger.WarnContext(ctx, "approver directory unavailable",
				"step", step,
				"staff_in_charge", attrs.StaffInCharge,
				"error", err,
			)
			out[step] = workflow.Resolution{}
			continue
		}
		out[step] = workflow.Resolution{Usernames: usernames, Known: true}
	}
	return out
}

func (s *WorkflowService) attributes(a Activity) workflow.Attributes {
	return workflow.Attributes{
		Type:               a.ActivityType,
		Campus:             a.Campus,
		LinkedToAssessment: a.AssessmentID != "",
		Overnight:          workflow.IsOvernight(a.TimeStart, a.TimeEnd, s.loc),
		StaffInCharge:      a.StaffInCharge,
	}
}

// pipeline builds the pipeline and a definition per step type, including
// deferred steps whose approvers are unknown.
func (s *WorkflowService) pipeline(attrs workflow.Attributes, resolved map[string]workflow.Resolution) (workflow.Pipeline, map[string]workflow.StepDefinition) {
	pipeline := s.config.Stubs(attrs, resolved)
	defs := make(map[string]workflow.StepDefinition, len(pipeline.Steps)+len(pipeline.Deferred))
	for _, step := range pipeline.Steps {
		defs[step.Type] = step
	}
	for _, stepType := range pipeline.Deferred {
		if def, ok := s.config.Step(stepType); ok {
			defs[stepType] = def
		}
	}
	return pipeline, defs
}

func (s *WorkflowService) stepDefinition(defs map[string]workflow.StepDefinition, stepType string) (workflow.StepDefinition, bool) {
	if def, ok := defs[stepType]; ok {
		return def, true
	}
	return s.config.Step(stepType)
}

// eligible reports whether the workflow applies to the activity at all.
func (s *WorkflowService) eligible(a Activity) bool {
	if a.Deleted || !s.config.RequiresApproval(a.ActivityType) {
		return false
	}
	switch a.Status {
	case StatusAutosave, StatusDraft, StatusCancelled:
		return false
	}
	return true
}

// actionable lists the pending steps whose prerequisites are met.
func (s *WorkflowService) actionable(activity Activity, approvals []Approval) []Approval {
	ready := map[string]bool{}
	for _, st := range workflow.FilterActionable(statesOf(approvals), s.config) {
		ready[st.ID] = true
	}
	var out []Approval
	for _, a := range approvals {
		if ready[a.ID] && !s.config.Grandfathered(a.Type, activity.CreatedAt) {
			out = append(out, a)
		}
	}
	return out
}

func (s *WorkflowService) actionableIDs(activity Activity, approvals []Approval) map[string]bool {
	out := map[string]bool{}
	for _, a := range s.actionable(activity, approvals) {
		out[a.ID] = true
	}
	return out
}

// isApprover reports whether actor may act on the step. A nomination narrows
// the pool to the nominee.
func (s *WorkflowService) isApprover(actor Actor, a Approval, def workflow.StepDefinition) bool {
	if actor.Username == "" {
		return false
	}
	if def.Selectable && a.Nominated != "" {
		return strings.EqualFold(a.Nominated, actor.Username)
	}
	return def.IsApprover(actor.Username)
}

func (s *WorkflowService) canApprove(actor Actor, a Approval, def workflow.StepDefinition, states []workflow.StepState) bool {
	return !a.Invalidated && s.isApprover(actor, a, def) && workflow.PrerequisitesMet(def, states)
}

// canNominate reports whether actor may pick the step's approver. A step only
// becomes selectable once its prerequisites are approved.
func (s *WorkflowService) canNominate(actor Actor, activity Activity, def workflow.StepDefinition, states []workflow.StepState) bool {
	if !workflow.PrerequisitesMet(def, states) {
		return false
	}
	if def.SelectableBy == workflow.SelectableByPlanner {
		return activity.CanEdit(actor)
	}
	return actor.IsAdmin || def.IsApprover(actor.Username)
}

func (s *WorkflowService) loadActivity(ctx context.Context, store ActivityStore, id string) (Activity, error) {
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

// stepRecipients returns who should hear about a step. Selectable steps only
// notify their nominee.
func stepRecipients(a Approval, def workflow.StepDefinition, kind workflow.Kind) []recipientSpec {
	if def.Selectable {
		if a.Nominated == "" {
			return nil
		}
		nominee, ok := poolMember(def, a.Nominated)
		if !ok {
			nominee = workflow.Approver{Username: a.Nominated}
		}
		if !nominee.Receives(kind) {
			return nil
		}
		return []recipientSpec{{usernames: []string{nominee.Username}, contacts: nominee.Contacts}}
	}

	var specs []recipientSpec
	for _, ap := range def.Approvers {
		if ap.Receives(kind) {
			specs = append(specs, recipientSpec{usernames: []string{ap.Username}, contacts: ap.Contacts})
		}
	}
	return specs
}

func poolMember(def workflow.StepDefinition, username string) (workflow.Approver, bool) {
	for _, ap := range def.Approvers {
		if strings.EqualFold(ap.Username, username) {
			return ap, true
		}
	}
	return workflow.Approver{}, false
}

// audienceOf lists who hears about an approved activity: the staff who
// approved steps, the creator and the staff in charge.
func audienceOf(activity Activity, approvals []Approval) []string {
	var out []string
	for _, a := range approvals {
		if a.Status == workflow.StatusApproved && a.Username != "" {
			out = append(out, a.Username)
		}
	}
	out = append(out, activity.Creator, activity.StaffInCharge)
	return dedupeFold(out)
}

func actioned(a Approval) bool {
	return a.Status != workflow.StatusUnapproved || a.Skip
}

func statesOf(approvals []Approval) []workflow.StepState {
	out := make([]workflow.StepState, len(approvals))
	for i, a := range approvals {
		out[i] = a.state()
	}
	return out
}

func indexOfApproval(approvals []Approval, id string) int {
	for i, a := range approvals {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func diffActivities(before, after Activity) []FieldChange {
	b, a := before.Snapshot(), after.Snapshot()
	bv, av := b.Values(), a.Values()
	var changes []FieldChange
	for _, field := range workflow.ChangedFields(b, a) {
		changes = append(changes, FieldChange{Field: field, Before: bv[field], After: av[field]})
	}
	return changes
}

func changedFieldNames(changes []FieldChange) []string {
	if len(changes) == 0 {
		return nil
	}
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Field
	}
	return out
}

func dedupeFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
