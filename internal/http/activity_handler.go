package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/recurrence"
)

// ActivityService exposes the activity operations used by the handler.
type ActivityService interface {
	CreateActivity(ctx context.Context, actor application.Actor, input application.ActivityInput) (application.ActivityResult, error)
	UpdateActivity(ctx context.Context, actor application.Actor, id string, input application.ActivityInput) (application.ActivityResult, error)
	GetActivity(ctx context.Context, actor application.Actor, id string) (application.Activity, error)
	ListActivities(ctx context.Context, actor application.Actor, filter application.ActivityFilter) ([]application.Activity, error)
	DeleteActivity(ctx context.Context, actor application.Actor, id string) error
	SubmitForReview(ctx context.Context, actor application.Actor, id string) (application.ActivityResult, error)
	RevertToDraft(ctx context.Context, actor application.Actor, id string) (application.ActivityResult, error)
	CancelActivity(ctx context.Context, actor application.Actor, id string) (application.ActivityResult, error)
	SetRecurrence(ctx context.Context, actor application.Actor, id string, rule *recurrence.Rule) ([]application.Occurrence, error)
	ListOccurrences(ctx context.Context, actor application.Actor, id string) ([]application.Occurrence, error)
}

// ActivityHandler serves the activity endpoints.
type ActivityHandler struct {
	service   ActivityService
	loc       *time.Location
	responder responder
	logger    *slog.Logger
}

// NewActivityHandler constructs an ActivityHandler. Readable occurrence
// labels are rendered in loc.
func NewActivityHandler(service ActivityService, loc *time.Location, logger *slog.Logger) *ActivityHandler {
	logger = defaultLogger(logger)
	if loc == nil {
		loc = time.Local
	}
	return &ActivityHandler{
		service:   service,
		loc:       loc,
		responder: newResponder(logger),
		logger:    logger,
	}
}

// List handles GET /activities.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingRemoteUser)
		return
	}

	filter, err := parseActivityFilter(r)
	if err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	logger := handlerLogger(ctx, h.logger, "ActivityHandler", "List", "actor", actor.Username)
	activities, err := h.service.ListActivities(ctx, actor, filter)
	if err != nil {
		logger.ErrorContext(ctx, "list activities failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	resp := make([]activityDTO, 0, len(activities))
	for _, a := range activities {
		resp = append(resp, toActivityDTO(a))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, resp)
}

// Create handles POST /activities.
func (h *ActivityHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingRemoteUser)
		return
	}

	var input application.ActivityInput
	if err := decodeJSON(r, &input); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	logger := handlerLogger(ctx, h.logger, "ActivityHandler", "Create", "actor", actor.Username)
	result, err := h.service.CreateActivity(ctx, actor, input)
	if err != nil {
		logger.ErrorContext(ctx, "create activity failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "activity created", "activity_id", result.Activity.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, toActivityResultDTO(result))
}

// Get handles GET /activities/{id}.
func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	activity, err := h.service.GetActivity(ctx, actor, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toActivityDTO(activity))
}

// Update handles PUT /activities/{id}.
func (h *ActivityHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var input application.ActivityInput
	if err := decodeJSON(r, &input); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	logger := handlerLogger(ctx, h.logger, "ActivityHandler", "Update", "actor", actor.Username, "activity_id", id)
	result, err := h.service.UpdateActivity(ctx, actor, id, input)
	if err != nil {
		logger.ErrorContext(ctx, "update activity failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "activity updated", "status", result.Workflow.Status.String())
	h.responder.writeJSON(ctx, w, http.StatusOK, toActivityResultDTO(result))
}

// Delete handles DELETE /activities/{id}.
func (h *ActivityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	logger := handlerLogger(ctx, h.logger, "ActivityHandler", "Delete", "actor", actor.Username, "activity_id", id)
	if err := h.service.DeleteActivity(ctx, actor, id); err != nil {
		logger.ErrorContext(ctx, "delete activity failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "activity deleted")
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

// ChangeStatus handles POST /activities/{id}/status.
func (h *ActivityHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	status, known := application.ParseActivityStatus(req.Status)
	if !known {
		h.responder.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: statusMessage(http.StatusUnprocessableEntity),
			Errors:  map[string]string{"status": "must be one of draft, inreview, cancelled"},
		})
		return
	}

	var (
		result application.ActivityResult
		err    error
	)
	switch status {
	case application.StatusDraft:
		result, err = h.service.RevertToDraft(ctx, actor, id)
	case application.StatusInReview:
		result, err = h.service.SubmitForReview(ctx, actor, id)
	case application.StatusCancelled:
		result, err = h.service.CancelActivity(ctx, actor, id)
	default:
		err = application.ErrInvalidTransition
	}

	logger := handlerLogger(ctx, h.logger, "ActivityHandler", "ChangeStatus", "actor", actor.Username, "activity_id", id, "requested", status.String())
	if err != nil {
		logger.ErrorContext(ctx, "status change failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "status changed", "status", result.Workflow.Status.String())
	h.responder.writeJSON(ctx, w, http.StatusOK, toActivityResultDTO(result))
}

// SetRecurrence handles PUT /activities/{id}/recurrence. A null rule clears it.
func (h *ActivityHandler) SetRecurrence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req recurrenceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	logger := handlerLogger(ctx, h.logger, "ActivityHandler", "SetRecurrence", "actor", actor.Username, "activity_id", id)
	occurrences, err := h.service.SetRecurrence(ctx, actor, id, req.Rule)
	if err != nil {
		logger.ErrorContext(ctx, "set recurrence failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, toOccurrenceDTOs(occurrences, h.loc))
}

// ListOccurrences handles GET /activities/{id}/occurrences.
func (h *ActivityHandler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	occurrences, err := h.service.ListOccurrences(ctx, actor, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toOccurrenceDTOs(occurrences, h.loc))
}

func (h *ActivityHandler) target(w http.ResponseWriter, r *http.Request) (application.Actor, string, bool) {
	ctx := r.Context()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingRemoteUser)
		return application.Actor{}, "", false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidActivityID)
		return application.Actor{}, "", false
	}
	return actor, id, true
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return nil
}

func parseActivityFilter(r *http.Request) (application.ActivityFilter, error) {
	query := r.URL.Query()
	var filter application.ActivityFilter

	for _, raw := range query["status"] {
		for _, label := range strings.Split(raw, ",") {
			status, ok := application.ParseActivityStatus(label)
			if !ok {
				return application.ActivityFilter{}, fmt.Errorf("unknown status %q", label)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	filter.Campus = strings.TrimSpace(query.Get("campus"))

	if raw := query.Get("from"); raw != "" {
		from, err := parseTime(raw)
		if err != nil {
			return application.ActivityFilter{}, fmt.Errorf("invalid from: %w", err)
		}
		filter.From = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := parseTime(raw)
		if err != nil {
			return application.ActivityFilter{}, fmt.Errorf("invalid to: %w", err)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return application.ActivityFilter{}, errors.New("to must not be before from")
	}
	return filter, nil
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type statusRequest struct {
	Status string `json:"status"`
}

type recurrenceRequest struct {
	Rule *recurrence.Rule `json:"rule"`
}

type activityDTO struct {
	ID            string   `json:"id"`
	IDNumber      string   `json:"idnumber"`
	Name          string   `json:"activityname"`
	Description   string   `json:"description"`
	Location      string   `json:"location"`
	Transport     string   `json:"transport"`
	Cost          string   `json:"cost"`
	ActivityType  string   `json:"activitytype"`
	Campus        string   `json:"campus"`
	TimeStart     string   `json:"timestart"`
	TimeEnd       string   `json:"timeend"`
	Creator       string   `json:"creator"`
	StaffInCharge string   `json:"staffincharge"`
	Planners      []string `json:"planners"`
	AssessmentID  string   `json:"assessmentid,omitempty"`
	Status        string   `json:"status"`
	StepName      string   `json:"stepname,omitempty"`
	Recurring     bool     `json:"recurring"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

func toActivityDTO(a application.Activity) activityDTO {
	planners := a.Planners
	if planners == nil {
		planners = []string{}
	}
	return activityDTO{
		ID:            a.ID,
		IDNumber:      a.IDNumber,
		Name:          a.Name,
		Description:   a.Description,
		Location:      a.Location,
		Transport:     a.Transport,
		Cost:          a.Cost,
		ActivityType:  a.ActivityType,
		Campus:        a.Campus,
		TimeStart:     formatTime(a.TimeStart),
		TimeEnd:       formatTime(a.TimeEnd),
		Creator:       a.Creator,
		StaffInCharge: a.StaffInCharge,
		Planners:      planners,
		AssessmentID:  a.AssessmentID,
		Status:        a.Status.String(),
		StepName:      a.StepName,
		Recurring:     a.Recurring,
		CreatedAt:     formatTime(a.CreatedAt),
		UpdatedAt:     formatTime(a.UpdatedAt),
	}
}

type activityResultDTO struct {
	Activity activityDTO `json:"activity"`
	Workflow workflowDTO `json:"workflow"`
}

type workflowDTO struct {
	Status   string        `json:"status"`
	StepName string        `json:"stepname,omitempty"`
	Steps    []approvalDTO `json:"steps"`
}

func toActivityResultDTO(result application.ActivityResult) activityResultDTO {
	return activityResultDTO{
		Activity: toActivityDTO(result.Activity),
		Workflow: toWorkflowDTO(result.Workflow),
	}
}

func toWorkflowDTO(result application.WorkflowResult) workflowDTO {
	steps := make([]approvalDTO, 0, len(result.Workflow))
	for _, a := range result.Workflow {
		steps = append(steps, toApprovalDTO(a))
	}
	return workflowDTO{
		Status:   result.Status.String(),
		StepName: result.StepName,
		Steps:    steps,
	}
}

type occurrenceDTO struct {
	ID       string `json:"id,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Readable string `json:"readable"`
}

func toOccurrenceDTOs(occurrences []application.Occurrence, loc *time.Location) []occurrenceDTO {
	resp := make([]occurrenceDTO, 0, len(occurrences))
	for _, occ := range occurrences {
		resp = append(resp, occurrenceDTO{
			ID:       occ.ID,
			Start:    formatTime(occ.Start),
			End:      formatTime(occ.End),
			Readable: recurrence.FormatOccurrence(recurrence.Occurrence{Start: occ.Start.In(loc), End: occ.End.In(loc)}),
		})
	}
	return resp
}
