package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/example/activity-planner/internal/recurrence"
)

// RecurrenceHandler previews rule expansions without persisting anything.
type RecurrenceHandler struct {
	loc       *time.Location
	responder responder
	logger    *slog.Logger
}

// NewRecurrenceHandler constructs a RecurrenceHandler that expands in loc.
func NewRecurrenceHandler(loc *time.Location, logger *slog.Logger) *RecurrenceHandler {
	logger = defaultLogger(logger)
	if loc == nil {
		loc = time.Local
	}
	return &RecurrenceHandler{loc: loc, responder: newResponder(logger), logger: logger}
}

// Preview handles POST /recurrence/preview.
func (h *RecurrenceHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	start, err := parseTime(req.Start)
	if err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	end, err := parseTime(req.End)
	if err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	expansion, err := recurrence.Expand(req.Rule, start.In(h.loc), end.In(h.loc))
	if err != nil {
		handlerLogger(ctx, h.logger, "RecurrenceHandler", "Preview").WarnContext(ctx, "rule rejected", "error", err)
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	resp := previewResponse{
		Description: recurrence.Describe(req.Rule),
		Occurrences: make([]occurrenceDTO, 0, len(expansion.Occurrences)),
	}
	for i, occ := range expansion.Occurrences {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			Start:    formatTime(occ.Start),
			End:      formatTime(occ.End),
			Readable: expansion.Readable[i],
		})
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, resp)
}

type previewRequest struct {
	Rule  recurrence.Rule `json:"rule"`
	Start string          `json:"start"`
	End   string          `json:"end"`
}

type previewResponse struct {
	Description string          `json:"description"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}
