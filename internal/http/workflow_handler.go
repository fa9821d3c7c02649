package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/workflow"
)

// WorkflowService exposes the approval operations used by the handler.
type WorkflowService interface {
	GetWorkflow(ctx context.Context, actor application.Actor, activityID string) ([]application.ApprovalView, error)
	SaveApproval(ctx context.Context, actor application.Actor, activityID, approvalID string, status workflow.ApprovalStatus) (application.WorkflowResult, error)
	SaveSkip(ctx context.Context, actor application.Actor, activityID, approvalID string, skip bool) (application.WorkflowResult, error)
	NominateApprover(ctx context.Context, actor application.Actor, activityID, approvalID, username string) (application.WorkflowResult, error)
}

// WorkflowHandler serves the approval endpoints of an activity.
type WorkflowHandler struct {
	service   WorkflowService
	responder responder
	logger    *slog.Logger
}

// NewWorkflowHandler constructs a WorkflowHandler.
func NewWorkflowHandler(service WorkflowService, logger *slog.Logger) *WorkflowHandler {
	logger = defaultLogger(logger)
	return &WorkflowHandler{
		service:   service,
		responder: newResponder(logger),
		logger:    logger,
	}
}

// Get handles GET /activities/{id}/workflow.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingRemoteUser)
		return
	}
	activityID := strings.TrimSpace(r.PathValue("id"))
	if activityID == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidActivityID)
		return
	}

	views, err := h.service.GetWorkflow(ctx, actor, activityID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	resp := make([]approvalViewDTO, 0, len(views))
	for _, v := range views {
		resp = append(resp, toApprovalViewDTO(v))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, resp)
}

// SaveApproval handles POST /activities/{id}/approvals/{approvalID}.
func (h *WorkflowHandler) SaveApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	h.act(w, r, "SaveApproval", &req, func(ctx context.Context, actor application.Actor, activityID, approvalID string) (application.WorkflowResult, error) {
		status, ok := parseApprovalStatus(req.Status)
		if !ok {
			return application.WorkflowResult{}, &application.ValidationError{
				FieldErrors: map[string]string{"status": "must be one of approved, rejected, unapproved"},
			}
		}
		return h.service.SaveApproval(ctx, actor, activityID, approvalID, status)
	})
}

// Skip handles POST /activities/{id}/approvals/{approvalID}/skip.
func (h *WorkflowHandler) Skip(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	h.act(w, r, "SaveSkip", &req, func(ctx context.Context, actor application.Actor, activityID, approvalID string) (application.WorkflowResult, error) {
		return h.service.SaveSkip(ctx, actor, activityID, approvalID, req.Skip)
	})
}

// Nominate handles POST /activities/{id}/approvals/{approvalID}/nominate.
func (h *WorkflowHandler) Nominate(w http.ResponseWriter, r *http.Request) {
	var req nominateRequest
	h.act(w, r, "NominateApprover", &req, func(ctx context.Context, actor application.Actor, activityID, approvalID string) (application.WorkflowResult, error) {
		return h.service.NominateApprover(ctx, actor, activityID, approvalID, req.Username)
	})
}

type stepActionFunc func(ctx context.Context, actor application.Actor, activityID, approvalID string) (application.WorkflowResult, error)

func (h *WorkflowHandler) act(w http.ResponseWriter, r *http.Request, operation string, body any, fn stepActionFunc) {
	ctx := r.Context()
	actor, ok := ActorFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingRemoteUser)
		return
	}
	activityID := strings.TrimSpace(r.PathValue("id"))
	if activityID == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidActivityID)
		return
	}
	approvalID := strings.TrimSpace(r.PathValue("approvalID"))
	if approvalID == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidApprovalID)
		return
	}
	if err := decodeJSON(r, body); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	logger := handlerLogger(ctx, h.logger, "WorkflowHandler", operation,
		"actor", actor.Username, "activity_id", activityID, "approval_id", approvalID)
	result, err := fn(ctx, actor, activityID, approvalID)
	if err != nil {
		logger.ErrorContext(ctx, "step action failed", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "step actioned", "status", result.Status.String(), "stepname", result.StepName)
	h.responder.writeJSON(ctx, w, http.StatusOK, toWorkflowDTO(result))
}

func parseApprovalStatus(label string) (workflow.ApprovalStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "approved":
		return workflow.StatusApproved, true
	case "rejected":
		return workflow.StatusRejected, true
	case "unapproved":
		return workflow.StatusUnapproved, true
	}
	return 0, false
}

type approvalRequest struct {
	Status string `json:"status"`
}

type skipRequest struct {
	Skip bool `json:"skip"`
}

type nominateRequest struct {
	Username string `json:"username"`
}

type approvalDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Sequence    int    `json:"sequence"`
	Status      string `json:"status"`
	Username    string `json:"username,omitempty"`
	Nominated   string `json:"nominated,omitempty"`
	Skip        bool   `json:"skip"`
	ActionedAt  string `json:"actioned_at,omitempty"`
}

func toApprovalDTO(a application.Approval) approvalDTO {
	dto := approvalDTO{
		ID:          a.ID,
		Type:        a.Type,
		Description: a.Description,
		Sequence:    a.Sequence,
		Status:      a.Status.String(),
		Username:    a.Username,
		Nominated:   a.Nominated,
		Skip:        a.Skip,
	}
	if a.ActionedAt != nil {
		dto.ActionedAt = formatTime(*a.ActionedAt)
	}
	return dto
}

type approverDTO struct {
	Username string `json:"username"`
	FullName string `json:"fullname"`
}

type approvalViewDTO struct {
	approvalDTO
	Name          string        `json:"name"`
	Approvers     []approverDTO `json:"approvers"`
	SelectableBy  string        `json:"selectable_by,omitempty"`
	Selectable    bool          `json:"selectable"`
	CanApprove    bool          `json:"can_approve"`
	CanSkip       bool          `json:"can_skip"`
	IsApprover    bool          `json:"is_approver"`
	Grandfathered bool          `json:"grandfathered"`
}

func toApprovalViewDTO(v application.ApprovalView) approvalViewDTO {
	approvers := make([]approverDTO, 0, len(v.Approvers))
	for _, a := range v.Approvers {
		approvers = append(approvers, approverDTO{Username: a.Username, FullName: a.FullName})
	}
	return approvalViewDTO{
		approvalDTO:   toApprovalDTO(v.Approval),
		Name:          v.Name,
		Approvers:     approvers,
		SelectableBy:  string(v.SelectableBy),
		Selectable:    v.Selectable,
		CanApprove:    v.CanApprove,
		CanSkip:       v.CanSkip,
		IsApprover:    v.IsApprover,
		Grandfathered: v.Grandfathered,
	}
}
